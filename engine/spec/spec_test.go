package spec

import (
	"testing"
	"time"

	"github.com/caseflow/caseflow/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sequentialSpec = `
id: seq
name: Sequential
version: "1.0"
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i:
        flows:
          - target: A
      o: {}
    tasks:
      A:
        join: and
        split: and
        flows:
          - target: B
      B:
        join: and
        split: and
        flows:
          - target: o
`

func TestDecode(t *testing.T) {
	t.Run("Should decode and materialise implicit conditions", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		net := s.RootNetOrNil()
		require.NotNil(t, net)
		// A flows to B directly, so a generated condition sits between them.
		implicit := net.Conditions["c{A_B}"]
		require.NotNil(t, implicit)
		assert.True(t, implicit.Implicit)
		assert.Equal(t, []string{"c{A_B}"}, net.Postset("A"))
		assert.Equal(t, []string{"c{A_B}"}, net.Preset("B"))
	})
	t.Run("Should default join and split codes", func(t *testing.T) {
		s, err := Decode([]byte(`
id: d
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i:
        flows: [{target: T}]
      o: {}
    tasks:
      T:
        flows: [{target: o}]
`))
		require.NoError(t, err)
		task := s.RootNetOrNil().Tasks["T"]
		assert.Equal(t, JoinXor, task.Join)
		assert.Equal(t, SplitAnd, task.Split)
	})
	t.Run("Should fill element ids from map keys", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		assert.Equal(t, "A", s.RootNetOrNil().Tasks["A"].ID)
		assert.Equal(t, "i", s.RootNetOrNil().Conditions["i"].ID)
	})
	t.Run("Should mark a sole OR-split flow as default", func(t *testing.T) {
		s, err := Decode([]byte(`
id: d2
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i:
        flows: [{target: T}]
      o: {}
    tasks:
      T:
        split: xor
        flows: [{target: o}]
`))
		require.NoError(t, err)
		assert.True(t, s.RootNetOrNil().Tasks["T"].Flows[0].IsDefault)
	})
	t.Run("Should decode timer durations", func(t *testing.T) {
		s, err := Decode([]byte(`
id: d3
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i:
        flows: [{target: T}]
      o: {}
    tasks:
      T:
        timer:
          trigger: on_enabled
          duration: 90s
        flows: [{target: o}]
`))
		require.NoError(t, err)
		timer := s.RootNetOrNil().Tasks["T"].Timer
		require.NotNil(t, timer)
		assert.Equal(t, TimerOnEnabled, timer.Trigger)
		assert.Equal(t, 90*time.Second, timer.Duration)
	})
}

func TestVerify(t *testing.T) {
	t.Run("Should accept a well-formed specification", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		warnings, err := Verify(s)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})
	t.Run("Should reject element off the input-output path", func(t *testing.T) {
		s, err := Decode([]byte(`
id: broken
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i:
        flows: [{target: A}]
      orphan: {}
      o: {}
    tasks:
      A:
        flows: [{target: o}]
`))
		require.NoError(t, err)
		_, err = Verify(s)
		var structural *core.StructuralError
		require.ErrorAs(t, err, &structural)
		assert.Contains(t, structural.Error(), "orphan")
	})
	t.Run("Should reject XOR split without default flow", func(t *testing.T) {
		s, err := Decode([]byte(`
id: nodefault
root_net: main
nets:
  main:
    input_condition: i
    output_condition: o
    conditions:
      i:
        flows: [{target: X}]
      c1:
        flows: [{target: J}]
      o: {}
    tasks:
      X:
        split: xor
        flows:
          - target: c1
            predicate: "a > 1"
          - target: c1
            predicate: "a <= 1"
      J:
        flows: [{target: o}]
`))
		require.NoError(t, err)
		_, err = Verify(s)
		var structural *core.StructuralError
		require.ErrorAs(t, err, &structural)
	})
	t.Run("Should reject cancellation region crossing nets", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		s.RootNetOrNil().Tasks["A"].RemoveSet = []string{"elsewhere"}
		_, err = Verify(s)
		require.Error(t, err)
	})
	t.Run("Should reject bad multi-instance bounds", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		s.RootNetOrNil().Tasks["A"].MultiInstance = &MultiInstance{Min: 3, Max: 2, Threshold: 3, Creation: CreationStatic}
		_, err = Verify(s)
		require.Error(t, err)
	})
	t.Run("Should warn when service_ref and codelet are both set", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		s.RootNetOrNil().Tasks["A"].Profile = &ExecutionProfile{
			Interaction: InteractionAutomated,
			ServiceRef:  "svc",
			Codelet:     "noop",
		}
		warnings, err := Verify(s)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "service_ref wins")
	})
	t.Run("Should reject unknown decomposition", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		s.RootNetOrNil().Tasks["B"].Decomposition = "ghost"
		_, err = Verify(s)
		require.Error(t, err)
	})
}

func TestEncode(t *testing.T) {
	t.Run("Should omit implicit conditions from canonical form", func(t *testing.T) {
		s, err := Decode([]byte(sequentialSpec))
		require.NoError(t, err)
		raw, err := Encode(s)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "c{A_B}")
	})
}
