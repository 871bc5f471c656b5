package assets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var (
	ErrInvalidDescriptor = errors.New("invalid build descriptor")
	ErrEntryNotFound     = errors.New("entry module not found")
	ErrUnknownLoader     = errors.New("unknown transform step")
	ErrUnknownPlugin     = errors.New("unknown plugin")
	ErrNotBuilt          = errors.New("assets not built yet, call Build() first")
)

// ValidationError describes one problem with a descriptor field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BuildError carries the messages reported by the bundler.
type BuildError struct {
	Messages []api.Message
}

func (e *BuildError) Error() string {
	if len(e.Messages) == 0 {
		return "esbuild failed with errors"
	}
	lines := make([]string, 0, len(e.Messages))
	for _, msg := range e.Messages {
		lines = append(lines, formatMessage(msg))
	}
	return fmt.Sprintf("esbuild failed with %d error(s): %s", len(e.Messages), strings.Join(lines, "; "))
}

func formatMessage(msg api.Message) string {
	text := msg.Text
	if msg.PluginName != "" {
		text = fmt.Sprintf("[%s] %s", msg.PluginName, text)
	}
	if msg.Location != nil {
		return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, text)
	}
	return text
}
