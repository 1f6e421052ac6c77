package tverr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with key",
			err:  NewNotFoundError("tile|osm|3/2/1"),
			want: "NotFound: resource not found (key: tile|osm|3/2/1)",
		},
		{
			name: "without key",
			err:  NewInvalidRegionDefinitionError("min zoom above max zoom"),
			want: "InvalidRegionDefinition: min zoom above max zoom",
		},
		{
			name: "quota with limit",
			err:  NewQuotaExceededError(6000),
			want: "QuotaExceeded: offline tile count limit reached (max: 6000)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", NewRegionNotFoundError(3), ErrRegionNotFound},
		{"wrapped", fmt.Errorf("activate: %w", NewRegionStateError(3, "region is active")), ErrRegionState},
		{"plain error", errors.New("boom"), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsCodeThroughWrapping(t *testing.T) {
	base := NewStorageCorruptionError("/var/lib/tilevault/tilevault.db", errors.New("file is not a database"))
	wrapped := fmt.Errorf("open store: %w", base)

	require.True(t, IsCode(wrapped, ErrStorageCorruption))
	assert.False(t, IsCode(wrapped, ErrNetwork))

	var e *Error
	require.ErrorAs(t, wrapped, &e)
	assert.Equal(t, ErrStorageCorruption, e.Code)
	assert.Contains(t, e.Message, "file is not a database")
}

func TestCodeStrings(t *testing.T) {
	assert.Equal(t, "Network", ErrNetwork.String())
	assert.Equal(t, "QuotaExceeded", ErrQuotaExceeded.String())
	assert.Equal(t, "Unknown(99)", ErrorCode(99).String())
}
