package ffmpeg

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no working ffmpeg binary can be located.
var ErrNotFound = errors.New("ffmpeg not found")

// ConfigError is an invalid encoder configuration, reported before any
// process is started.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExitError is a failed ffmpeg process together with the end of its stderr.
type ExitError struct {
	Stage string
	Err   error
	Tail  string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("ffmpeg %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("ffmpeg %s: %v\n%s", e.Stage, e.Err, e.Tail)
}

func (e *ExitError) Unwrap() error { return e.Err }
