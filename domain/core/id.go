// Package core holds identifiers shared across the fit workflow.
package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RunID identifies one workflow request (single, batch, checker or total
// fit). Batch and checker entries share the run id of their request.
type RunID string

// NewRunID returns a UUIDv7 so stored runs sort by creation time. It falls
// back to a random v4 when the clock source fails.
func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunID(id.String())
}

func (id RunID) String() string { return string(id) }

// IsZero reports whether id was never assigned.
func (id RunID) IsZero() bool { return id == "" }

// ParseRunID accepts a UUID in any version, trimming surrounding space.
func ParseRunID(s string) (RunID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("run ID %q is not a UUID: %w", s, err)
	}
	return RunID(s), nil
}
