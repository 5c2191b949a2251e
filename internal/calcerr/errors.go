// Package calcerr defines the error taxonomy shared by every stage of a
// block-processing run. Callers branch on these with errors.As / errors.Is.
package calcerr

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned when a run stopped between tiles because its
// context was canceled. Tiles written before the stop are kept.
var ErrCanceled = errors.New("run canceled before completion")

// ConfigurationError reports a problem detected before any tile is
// processed: an invalid memory budget, a grid that cannot be derived, or a
// band selector that does not resolve.
type ConfigurationError struct {
	// Subject names the offending identifier or option, if any.
	Subject string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Subject != "" {
		msg = fmt.Sprintf("%s: %s", e.Subject, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError for subject with a formatted message.
func Configf(subject, format string, args ...any) error {
	return &ConfigurationError{Subject: subject, Message: fmt.Sprintf(format, args...)}
}

// ScriptExecutionError reports a failure raised by the user snippet, either
// while parsing it or while evaluating it for a tile.
type ScriptExecutionError struct {
	// Line is the 1-based snippet line the failure was attributed to, or 0.
	Line    int
	Message string
	Err     error
}

func (e *ScriptExecutionError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("snippet error on line %d: %s", e.Line, e.Message)
	}
	return "snippet error: " + e.Message
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// Scriptf builds a ScriptExecutionError attributed to line.
func Scriptf(line int, format string, args ...any) error {
	return &ScriptExecutionError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// OutputShapeMismatch reports a produced array whose spatial size differs
// from the tile it was computed for.
type OutputShapeMismatch struct {
	Output   string
	WantRows int
	WantCols int
	GotRows  int
	GotCols  int
}

func (e *OutputShapeMismatch) Error() string {
	return fmt.Sprintf("output %q has spatial shape %dx%d, expected %dx%d",
		e.Output, e.GotRows, e.GotCols, e.WantRows, e.WantCols)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsScript reports whether err is, or wraps, a ScriptExecutionError.
func IsScript(err error) bool {
	var target *ScriptExecutionError
	return errors.As(err, &target)
}
