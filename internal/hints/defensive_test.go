package hints

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefensiveInactiveByDefault(t *testing.T) {
	d := NewDefensive()
	assert.False(t, d.Active())
	assert.False(t, d.Consume())
}

func TestDefensiveConsumeExactlyNTimes(t *testing.T) {
	d := NewDefensive()
	d.Enter(100)

	for i := 0; i < 100; i++ {
		assert.True(t, d.Consume(), "checkpoint %d should still observe defensive mode", i)
	}
	assert.False(t, d.Consume(), "the 101st checkpoint must see defensive mode cleared")
	assert.False(t, d.Active())
}

func TestDefensiveEnterExitEnterRestoresCount(t *testing.T) {
	d := NewDefensive()
	d.Enter(100)
	d.Consume()
	d.Consume()
	d.Exit()
	assert.False(t, d.Active())

	d.Enter(100)
	assert.EqualValues(t, 100, d.Remaining())
}

func TestDefensiveLockdownIgnoresExit(t *testing.T) {
	d := NewDefensive()
	d.Lockdown()
	assert.True(t, d.Active())
	d.Exit()
	assert.True(t, d.Active(), "lockdown survives Exit, only a fresh consumer clears it")
	assert.True(t, d.Consume())
}
