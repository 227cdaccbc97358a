package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"queued", "in_kitchen", "ready", "delivered"} {
		got, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), got)
	}

	for _, s := range []string{"", "QUEUED", "canceled", "preparing"} {
		_, err := ParseStatus(s)
		require.ErrorIs(t, err, ErrInvalidStatus, s)
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusInKitchen, true},
		{StatusInKitchen, StatusReady, true},
		{StatusReady, StatusDelivered, true},
		{StatusQueued, StatusReady, false},
		{StatusQueued, StatusDelivered, false},
		{StatusReady, StatusQueued, false},
		{StatusDelivered, StatusQueued, false},
		{StatusDelivered, StatusDelivered, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CheckTransition(tt.from, tt.to)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			var trErr *TransitionError
			require.ErrorAs(t, err, &trErr)
			assert.Equal(t, tt.from, trErr.From)
			assert.Equal(t, tt.to, trErr.To)
		})
	}
}

func TestStatus_Next(t *testing.T) {
	next, ok := StatusQueued.Next()
	assert.True(t, ok)
	assert.Equal(t, StatusInKitchen, next)

	_, ok = StatusDelivered.Next()
	assert.False(t, ok)
	assert.True(t, StatusDelivered.Terminal())
}
