package critical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSCB struct {
	inCritical int
	enters     int
	exits      int
}

func (f *fakeSCB) EnterCritical() { f.inCritical = 1; f.enters++ }
func (f *fakeSCB) ExitCritical()  { f.inCritical = 0; f.exits++ }

func sameThread() int { return 1 }

func TestGuardEntersOnceOnNesting(t *testing.T) {
	scb := &fakeSCB{}
	g := NewGuard(scb, sameThread)

	g.Enter()
	g.Enter()
	g.Enter()
	assert.Equal(t, 3, g.Depth())
	assert.Equal(t, 1, scb.inCritical)
	assert.Equal(t, 1, scb.enters, "SCB flag must transition 0->1 exactly once")

	g.Exit()
	g.Exit()
	assert.Equal(t, 1, scb.inCritical, "flag stays set until the outermost exit")

	g.Exit()
	assert.Equal(t, 0, g.Depth())
	assert.Equal(t, 0, scb.inCritical)
	assert.Equal(t, 1, scb.exits, "SCB flag must transition 1->0 exactly once")
}

func TestGuardExitWithoutEnterPanics(t *testing.T) {
	g := NewGuard(&fakeSCB{}, sameThread)
	assert.Panics(t, func() { g.Exit() })
}

func TestGuardCrossThreadUsePanics(t *testing.T) {
	g := NewGuard(&fakeSCB{}, sameThread)
	other := func() int { return 2 }
	g.currentID = other
	assert.Panics(t, func() { g.Enter() })
}

func TestScopedReleasesOnPanic(t *testing.T) {
	scb := &fakeSCB{}
	g := NewGuard(scb, sameThread)

	assert.Panics(t, func() {
		Scoped(g, func() { panic("boom") })
	})
	assert.Equal(t, 0, g.Depth())
	assert.Equal(t, 0, scb.inCritical)
}

func TestScopedNormalReturn(t *testing.T) {
	scb := &fakeSCB{}
	g := NewGuard(scb, sameThread)
	ran := false
	Scoped(g, func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 0, g.Depth())
}
