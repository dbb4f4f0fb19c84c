package optimistic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusConflicted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRolledBack, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusRolledBack, true},
		{StatusFailed, StatusConfirmed, false},
		{StatusConflicted, StatusPending, true},
		{StatusConflicted, StatusConfirmed, true},
		{StatusConflicted, StatusRolledBack, true},
		{StatusConflicted, StatusFailed, false},
		{StatusConfirmed, StatusPending, false},
		{StatusConfirmed, StatusRolledBack, false},
		{StatusRolledBack, StatusPending, false},
		{StatusRolledBack, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusRolledBack.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.False(t, StatusConflicted.Terminal())
}

func TestKindDefaultMaxRetries(t *testing.T) {
	assert.Equal(t, 3, KindCreate.DefaultMaxRetries())
	assert.Equal(t, 3, KindUpdate.DefaultMaxRetries())
	assert.Equal(t, 2, KindDelete.DefaultMaxRetries())
}
