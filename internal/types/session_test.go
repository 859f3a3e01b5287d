package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"creating to idle", StatusCreating, StatusIdle, true},
		{"creating to failed", StatusCreating, StatusFailed, true},
		{"creating to running", StatusCreating, StatusRunning, false},
		{"idle to running", StatusIdle, StatusRunning, true},
		{"idle to stopped", StatusIdle, StatusStopped, true},
		{"running to idle", StatusRunning, StatusIdle, true},
		{"running to stopped", StatusRunning, StatusStopped, true},
		{"running to creating", StatusRunning, StatusCreating, false},
		{"stopped is terminal", StatusStopped, StatusIdle, false},
		{"stopped to running", StatusStopped, StatusRunning, false},
		{"failed is terminal", StatusFailed, StatusIdle, false},
		{"failed to stopped", StatusFailed, StatusStopped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusStopped.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusCreating.Terminal())
	assert.False(t, StatusIdle.Terminal())
	assert.False(t, StatusRunning.Terminal())
}
