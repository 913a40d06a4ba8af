package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestT(t *testing.T) {
	assert.Equal(t, []Transition{
		{From: Verified, To: Cooling},
		{From: Verified, To: ShutDown},
	}, T(Verified, Cooling, ShutDown))
}

func TestOscillatorMachine(t *testing.T) {
	m := oscillatorMachine("lo")
	assert.Equal(t, Unconfigured, m.State())
	assert.Error(t, m.Transition(Verified))
	assert.NoError(t, m.Transition(Configuring))
	assert.NoError(t, m.Transition(Verified))
	assert.NoError(t, m.Transition(Cooling))
	assert.Error(t, m.Transition(Verified), "cooling must re-configure before it is verified again")
	assert.NoError(t, m.Transition(Configuring))
	assert.NoError(t, m.Transition(Verified))
	assert.NoError(t, m.Transition(ShutDown))

	err := m.Transition(Configuring)
	var tna TransitionNotAllowed
	assert.ErrorAs(t, err, &tna)
	assert.Equal(t, ShutDown, tna.From)
}

func TestCurrentSourceMachineHasNoCooling(t *testing.T) {
	m := currentSourceMachine("kepco")
	assert.NoError(t, m.Transition(Configuring))
	assert.NoError(t, m.Transition(Verified))
	assert.False(t, m.Allowable(Verified, Cooling))
	assert.Error(t, m.Transition(Cooling))
}

func TestFail(t *testing.T) {
	m := currentSourceMachine("kepco")
	m.fail()
	assert.Equal(t, Unconfigured, m.State(), "unconfigured instruments cannot fault")
	assert.NoError(t, m.Transition(Configuring))
	m.fail()
	assert.Equal(t, Fault, m.State())
	assert.True(t, m.Allowable(Fault, ShutDown))
	assert.False(t, m.Allowable(Fault, Configuring))
}

func TestRangeContains(t *testing.T) {
	open := Range{Min: -20, Max: 20, Exclusive: true}
	closed := Range{Min: -20, Max: 25}
	assert.False(t, open.Contains(20))
	assert.True(t, open.Contains(19.99))
	assert.True(t, closed.Contains(25))
	assert.False(t, closed.Contains(25.01))
	assert.Equal(t, "(-20, 20)", open.String())
	assert.Equal(t, "[-20, 25]", closed.String())
}
