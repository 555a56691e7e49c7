package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" long ")
	require.NoError(t, err)
	assert.Equal(t, Long, d)

	d, err = ParseDirection("SHORT")
	require.NoError(t, err)
	assert.Equal(t, Short, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestExitReasonValid(t *testing.T) {
	for _, r := range ExitReasons {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, ExitReason("").Valid())
	assert.False(t, ExitReason("trailing_stop").Valid())
}

func TestDuration(t *testing.T) {
	tr := Trade{Status: StatusOpen, EntryTime: t0}
	assert.Zero(t, tr.Duration())

	tr.close(t0.Add(36*time.Hour), 10, ExitTimeStop)
	assert.Equal(t, 36*time.Hour, tr.Duration())
}

func TestExcursionPct(t *testing.T) {
	long := Trade{Direction: Long, EntryPrice: 200}
	short := Trade{Direction: Short, EntryPrice: 200}

	assert.InDelta(t, 5.0, long.ExcursionPct(210), 1e-9)
	assert.InDelta(t, -5.0, short.ExcursionPct(210), 1e-9)
}
