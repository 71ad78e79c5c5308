package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"conflict", Conflict("table", "t1", "occupied", "taken"), ErrConflict, true},
		{"wrapped conflict", fmt.Errorf("placing order: %w", Conflict("table", "t1", "occupied", "taken")), ErrConflict, true},
		{"different kind", State("order", "o1", "placed", "not served"), ErrConflict, false},
		{"immutable", Immutable("order", "o1", "served", "cancel"), ErrImmutableState, true},
		{"plain error", errors.New("boom"), ErrStorage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	typed := Validation("items", "items cannot be empty")
	assert.Same(t, typed, Wrap(typed))

	cause := errors.New("connection reset")
	wrapped := Wrap(cause)
	require.Equal(t, KindStorage, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestInvalidTransitionNamesStates(t *testing.T) {
	err := InvalidTransition("order", "o1", "served", "cooking")
	assert.Equal(t, "served", err.Current)
	assert.Equal(t, "cooking", err.Requested)
	assert.Contains(t, err.Error(), "cannot move from served to cooking")
}
