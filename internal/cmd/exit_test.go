package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		err     error
		want    string
	}{
		{
			name:    "basic error",
			code:    1,
			message: "Something failed",
			err:     assert.AnError,
			want:    "Something failed",
		},
		{
			name:    "includes exit code",
			code:    32,
			message: "Lock store unavailable",
			err:     assert.AnError,
			want:    "exit code 32",
		},
		{
			name:    "nil cause uses message",
			code:    1,
			message: "Sync cancelled",
			err:     nil,
			want:    "Sync cancelled: Sync cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exitError(tt.code, tt.message, tt.err)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	err := exitError(foundry.ExitInvalidArgument, "Invalid range", assert.AnError)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)
}
