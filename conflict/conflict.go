// Package conflict records divergences between a client's assumed resource
// state and the server's authoritative state, and fans them out to
// subscribers.
//
// A Detector is an explicit, injectable registry: create one per application
// (or per test) and share it between every engine that should see the same
// conflicts.
package conflict

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind categorizes a detected conflict.
type Kind string

const (
	// KindVersion is a caller-tracked version that disagrees with the server's.
	KindVersion Kind = "version"
	// KindConcurrentEdit is a field changed both locally and on the server since the last sync.
	KindConcurrentEdit Kind = "concurrent-edit"
	// KindDuplicate is a candidate record sharing all unique fields with an existing one.
	KindDuplicate Kind = "duplicate"
)

// Action is the strategy chosen to close out a conflict.
type Action string

const (
	ActionOverwrite Action = "overwrite"
	ActionMerge     Action = "merge"
	ActionReject    Action = "reject"
	ActionRetry     Action = "retry"
	ActionManual    Action = "manual"
)

// Conflict is a divergence detected at write time.
type Conflict struct {
	ID           string    `json:"id"`
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type,omitempty"`
	Kind         Kind      `json:"kind"`
	Field        string    `json:"field,omitempty"`
	LocalValue   any       `json:"local_value,omitempty"`
	ServerValue  any       `json:"server_value,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`

	// ConflictingData is the full server-side representation at detection
	// time. Rejecting local changes adopts it.
	ConflictingData any `json:"conflicting_data,omitempty"`
}

func (c Conflict) String() string {
	if c.Field != "" {
		return fmt.Sprintf("%s conflict %s on %s.%s", c.Kind, c.ID, c.ResourceID, c.Field)
	}
	return fmt.Sprintf("%s conflict %s on %s", c.Kind, c.ID, c.ResourceID)
}

// Resolution closes out a conflict.
type Resolution struct {
	Action Action `json:"action" validate:"required,oneof=overwrite merge reject retry manual"`
	// Data is the merged value; required for ActionMerge.
	Data any `json:"data,omitempty" validate:"required_if=Action merge"`
}

var validate = validator.New()

// Validate checks the action and its payload.
func (r Resolution) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid conflict resolution: %w", err)
	}
	return nil
}
