package transport

import (
	"encoding/json"
	"fmt"

	"github.com/panyeroa1/translateq/internal/audio"
)

// Event is one decoded message from the speech service. The set of
// implementations is closed.
type Event interface {
	isEvent()
}

// AudioEvent carries decoded PCM16 agent audio.
type AudioEvent struct {
	Data []byte
}

// InputTranscriptionEvent carries a fragment of the user's speech as text.
type InputTranscriptionEvent struct {
	Text  string
	Final bool
}

// OutputTranscriptionEvent carries a fragment of the agent's speech as text.
type OutputTranscriptionEvent struct {
	Text string
}

// TurnCompleteEvent signals the agent finished its turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals the agent's response was cut off by user speech.
type InterruptedEvent struct{}

// ToolCallEvent asks the client to execute a named tool.
type ToolCallEvent struct {
	ID   string
	Name string
	Args map[string]any
}

// OpenEvent signals the connection is established.
type OpenEvent struct{}

// CloseEvent signals the connection ended.
type CloseEvent struct {
	Code   int
	Reason string
}

// ErrorEvent carries a transport-level failure.
type ErrorEvent struct {
	Err error
}

func (AudioEvent) isEvent()               {}
func (InputTranscriptionEvent) isEvent()  {}
func (OutputTranscriptionEvent) isEvent() {}
func (TurnCompleteEvent) isEvent()        {}
func (InterruptedEvent) isEvent()         {}
func (ToolCallEvent) isEvent()            {}
func (OpenEvent) isEvent()                {}
func (CloseEvent) isEvent()               {}
func (ErrorEvent) isEvent()               {}

// wireMessage is the JSON envelope used on the wire in both directions.
type wireMessage struct {
	Type     string         `json:"type"`
	Data     string         `json:"data,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Text     string         `json:"text,omitempty"`
	Final    bool           `json:"final,omitempty"`
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
}

const (
	typeAudio               = "audio"
	typeInputTranscription  = "input_transcription"
	typeOutputTranscription = "output_transcription"
	typeTurnComplete        = "turn_complete"
	typeInterrupted         = "interrupted"
	typeToolCall            = "tool_call"
	typeToolResponse        = "tool_response"
)

// DecodeEvent validates one raw wire message and returns the typed event.
func DecodeEvent(raw []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case typeAudio:
		if msg.Data == "" {
			return nil, fmt.Errorf("audio message missing data")
		}
		pcm, err := audio.DecodePayload(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("audio message has invalid payload: %w", err)
		}
		return AudioEvent{Data: pcm}, nil

	case typeInputTranscription:
		if msg.Text == "" && !msg.Final {
			return nil, fmt.Errorf("input transcription missing text")
		}
		return InputTranscriptionEvent{Text: msg.Text, Final: msg.Final}, nil

	case typeOutputTranscription:
		if msg.Text == "" {
			return nil, fmt.Errorf("output transcription missing text")
		}
		return OutputTranscriptionEvent{Text: msg.Text}, nil

	case typeTurnComplete:
		return TurnCompleteEvent{}, nil

	case typeInterrupted:
		return InterruptedEvent{}, nil

	case typeToolCall:
		if msg.ID == "" || msg.Name == "" {
			return nil, fmt.Errorf("tool call missing id or name")
		}
		return ToolCallEvent{ID: msg.ID, Name: msg.Name, Args: msg.Args}, nil

	case "":
		return nil, fmt.Errorf("message missing type")

	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// encodeAudio builds the wire message for one captured audio chunk.
func encodeAudio(payload string) wireMessage {
	return wireMessage{
		Type:     typeAudio,
		Data:     payload,
		MimeType: fmt.Sprintf("audio/pcm;rate=%d", audio.CaptureSampleRate),
	}
}

// encodeToolResponse builds the wire message acknowledging a tool call.
func encodeToolResponse(id string, output map[string]any) wireMessage {
	return wireMessage{
		Type:   typeToolResponse,
		ID:     id,
		Output: output,
	}
}
