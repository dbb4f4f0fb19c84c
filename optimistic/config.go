package optimistic

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Kind names the logical mutation an engine performs.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// DefaultMaxRetries returns the retry budget used when Config.MaxRetries is zero.
func (k Kind) DefaultMaxRetries() int {
	if k == KindDelete {
		return 2
	}
	return 3
}

// Policy is applied when the remote operation fails.
type Policy string

const (
	// PolicyClientWins keeps the failed update for an explicit retry.
	PolicyClientWins Policy = "client-wins"
	// PolicyServerWins rolls the update back automatically.
	PolicyServerWins Policy = "server-wins"
	// PolicyPromptUser asks the user to choose between retry and discard.
	PolicyPromptUser Policy = "prompt-user"
)

// DefaultCleanupDelay is how long terminal updates stay in the registry.
const DefaultCleanupDelay = 2 * time.Second

// Config describes one logical mutation type.
type Config[V, T any] struct {
	Name string `validate:"required"`
	Kind Kind   `validate:"omitempty,oneof=create update delete"`

	// Remote performs the authoritative write. It always receives the
	// caller's input, never the projection.
	Remote func(ctx context.Context, vars V) (T, error) `validate:"required"`

	// Optimistic computes the projected value applied before Remote returns.
	Optimistic func(vars V) Projection[T]

	// ResourceID identifies the domain resource the input targets. When nil
	// the update id is used.
	ResourceID func(vars V) string
	// ResourceIDOf extracts the resource id from a server result. Creates use
	// it to learn the id the server assigned.
	ResourceIDOf func(result T) string

	LocalVersion  func(vars V) (int64, bool)
	ServerVersion func(result T) (int64, bool)

	LastSyncTime          func(vars V) time.Time
	ServerModified        func(result T) time.Time
	DetectConcurrentEdits bool
	IgnoreFields          []string

	ResourceType    string
	UniqueFields    []string
	ExistingRecords func(vars V) []T

	MaxRetries     int    `validate:"gte=0"`
	EnableRollback bool
	Policy         Policy `validate:"omitempty,oneof=client-wins server-wins prompt-user"`

	CleanupDelay time.Duration `validate:"gte=0"`

	// Refetch, when set, is used by the reject resolution to load the newest
	// server state instead of the representation captured at detection time.
	Refetch func(ctx context.Context, resourceID string) (T, error)
}

var validate = validator.New()

func (c *Config[V, T]) applyDefaults() {
	if c.Kind == "" {
		c.Kind = KindUpdate
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = c.Kind.DefaultMaxRetries()
	}
	if c.Policy == "" {
		c.Policy = PolicyClientWins
	}
	if c.CleanupDelay == 0 {
		c.CleanupDelay = DefaultCleanupDelay
	}
}

func (c *Config[V, T]) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config %q: %w", c.Name, err)
	}
	return nil
}

func (c *Config[V, T]) ignored(field string) bool {
	for _, f := range c.IgnoreFields {
		if f == field {
			return true
		}
	}
	return false
}
