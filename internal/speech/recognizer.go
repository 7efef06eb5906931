package speech

import (
	"context"
	"errors"
	"io"
)

// Result is one recognizer emission. Interim results may be revised;
// a final result will not change.
type Result struct {
	Text  string
	Final bool
}

// Recognizer is one recognition session. Recv blocks until the next result
// and returns io.EOF when the session ends on its own.
type Recognizer interface {
	Recv(ctx context.Context) (Result, error)
	Close() error
}

// Factory opens a new recognition session in the given language.
type Factory func(ctx context.Context, language string) (Recognizer, error)

// IsSessionEnd reports whether the error means the session ended normally.
func IsSessionEnd(err error) bool {
	return errors.Is(err, io.EOF)
}
