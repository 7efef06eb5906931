// Package settings stores user-tunable runtime settings in a YAML file,
// surviving restarts. Saves are atomic so a crash mid-write never corrupts
// the file.
package settings
