// Package engine defines the enhancement engine collaborator that renders
// badges onto a single item's poster, and an HTTP client for a remote renderer.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Result describes a successful enhancement
type Result struct {
	// ArtifactRef points at the rendered poster, if the engine reports one
	ArtifactRef string `json:"artifact_ref,omitempty"`
	// Partial is set when only some of the requested badges could be applied
	Partial bool `json:"partial,omitempty"`
}

// Engine enhances the poster of one item with the given badge types
type Engine interface {
	Enhance(ctx context.Context, itemID string, badgeTypes []string) (Result, error)
}

// Func adapts a function to the Engine interface
type Func func(ctx context.Context, itemID string, badgeTypes []string) (Result, error)

// Enhance calls f
func (f Func) Enhance(ctx context.Context, itemID string, badgeTypes []string) (Result, error) {
	return f(ctx, itemID, badgeTypes)
}

// StatusError is returned when the engine answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine returned %d", e.Code)
	}
	return fmt.Sprintf("engine returned %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status of an engine error.
// It returns 200 for nil and 0 for errors that never got a response.
func StatusCode(err error) int {
	if err == nil {
		return 200
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// ErrorBody returns the response body carried by err, if any
func ErrorBody(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Body
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
