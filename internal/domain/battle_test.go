package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, duration int) *BattleSession {
	t.Helper()
	s, err := NewBattleSession("battle-1",
		Creator{ID: "alice", Name: "Alice"},
		Creator{ID: "bob", Name: "Bob"},
		duration, DefaultSessionConfig())
	require.NoError(t, err)
	return s
}

func tickN(s *BattleSession, n int) []*StateChange {
	var changes []*StateChange
	for i := 0; i < n; i++ {
		if c := s.Tick(); c != nil {
			changes = append(changes, c)
		}
	}
	return changes
}

func TestNewBattleSession_Validation(t *testing.T) {
	a, b := Creator{ID: "a"}, Creator{ID: "b"}
	cfg := DefaultSessionConfig()

	_, err := NewBattleSession("", a, b, 60, cfg)
	assert.ErrorIs(t, err, ErrInvalidBattle)

	_, err = NewBattleSession("x", a, b, 0, cfg)
	assert.ErrorIs(t, err, ErrInvalidBattle)

	_, err = NewBattleSession("x", a, a, 60, cfg)
	assert.ErrorIs(t, err, ErrInvalidBattle)

	s, err := NewBattleSession("x", a, b, 60, cfg)
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, s.Phase)
	assert.Equal(t, 60, s.TimeRemainingSeconds)
	assert.True(t, s.CanVote())
}

func TestTick_FullLifecycle(t *testing.T) {
	s := newSession(t, 180)

	// 149 ticks: quedan 31s, sigue Active
	assert.Empty(t, tickN(s, 149))
	assert.Equal(t, PhaseActive, s.Phase)
	assert.Equal(t, 31, s.TimeRemainingSeconds)

	// tick 150 → 30s → Locked
	c := s.Tick()
	require.NotNil(t, c)
	assert.Equal(t, PhaseActive, c.From)
	assert.Equal(t, PhaseLocked, c.To)
	assert.True(t, c.VotingClosed())
	assert.Equal(t, 30, c.TimeRemainingSeconds)
	assert.False(t, s.CanVote())

	// 29 ticks más: quedan 1s
	assert.Empty(t, tickN(s, 29))
	assert.Equal(t, PhaseLocked, s.Phase)

	// tick 30 → 0 → Ending
	c = s.Tick()
	require.NotNil(t, c)
	assert.Equal(t, PhaseEnding, c.To)
	assert.True(t, c.FreezesScores())
	assert.Equal(t, 0, s.TimeRemainingSeconds)

	// reveal de 3 ticks
	assert.Nil(t, s.Tick())
	assert.Nil(t, s.Tick())
	c = s.Tick()
	require.NotNil(t, c)
	assert.Equal(t, PhaseSettled, c.To)
	assert.True(t, c.TriggersSettlement())
}

func TestTick_SettledIsTerminal(t *testing.T) {
	s := newSession(t, 5)
	changes := tickN(s, 50)

	settledCount := 0
	for _, c := range changes {
		if c.TriggersSettlement() {
			settledCount++
		}
	}
	assert.Equal(t, 1, settledCount, "settlement must trigger exactly once")
	assert.Equal(t, PhaseSettled, s.Phase)

	ticks := s.Ticks
	assert.Nil(t, s.Tick())
	assert.Equal(t, ticks, s.Ticks, "settled sessions ignore ticks")
}

func TestTick_PhaseIsMonotonic(t *testing.T) {
	s := newSession(t, 40)
	last := s.Phase.Rank()
	for i := 0; i < 100; i++ {
		c := s.Tick()
		assert.GreaterOrEqual(t, s.Phase.Rank(), last)
		if c != nil {
			assert.Equal(t, c.From.Rank()+1, c.To.Rank(), "no skipping")
		}
		last = s.Phase.Rank()
	}
	assert.Equal(t, 0, s.TimeRemainingSeconds, "never below zero")
}

func TestTick_ShortBattleLocksThenEndsOneStepAtATime(t *testing.T) {
	// Duración menor que el umbral: primer tick bloquea, Ending llega solo cuando el timer marca 0.
	s := newSession(t, 2)
	c := s.Tick()
	require.NotNil(t, c)
	assert.Equal(t, PhaseLocked, c.To)
	assert.Equal(t, 1, s.TimeRemainingSeconds)

	c = s.Tick()
	require.NotNil(t, c)
	assert.Equal(t, PhaseEnding, c.To)
}

func TestForceEnd(t *testing.T) {
	s := newSession(t, 180)
	tickN(s, 10)

	c := s.ForceEnd("stream ended")
	require.NotNil(t, c)
	assert.Equal(t, PhaseActive, c.From)
	assert.Equal(t, PhaseEnding, c.To)
	assert.Equal(t, "stream ended", c.Reason)
	assert.Equal(t, 0, s.TimeRemainingSeconds)
	assert.False(t, s.CanVote())

	// idempotente
	assert.Nil(t, s.ForceEnd("again"))

	changes := tickN(s, 3)
	require.Len(t, changes, 1)
	assert.Equal(t, PhaseSettled, changes[0].To)
	assert.Nil(t, s.ForceEnd("late"))
}

func TestForceEnd_FromLocked(t *testing.T) {
	s := newSession(t, 31)
	require.NotNil(t, s.Tick())
	require.Equal(t, PhaseLocked, s.Phase)

	c := s.ForceEnd("")
	require.NotNil(t, c)
	assert.Equal(t, ReasonForceEnd, c.Reason)
	assert.Equal(t, PhaseEnding, s.Phase)
}

func TestTransition_OnlyForward(t *testing.T) {
	s := newSession(t, 180)
	c := s.transition(PhaseEnding, ReasonForceEnd)
	assert.Equal(t, PhaseActive, c.From)
	assert.Equal(t, PhaseEnding, c.To)

	assert.Panics(t, func() { s.transition(PhaseLocked, ReasonVotingClosed) }, "backward")
	assert.Panics(t, func() { s.transition(PhaseEnding, ReasonForceEnd) }, "same phase")

	skip := newSession(t, 180)
	assert.Panics(t, func() { skip.transition(PhaseSettled, ReasonRevealComplete) }, "settled without reveal")
}

func TestAbort_FromActive(t *testing.T) {
	s := newSession(t, 180)
	tickN(s, 5)
	require.Equal(t, PhaseActive, s.Phase)

	c, err := s.Abort("creator left")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, PhaseActive, c.From)
	assert.Equal(t, PhaseEnding, c.To)
	assert.Equal(t, "creator left", s.EndReason)
}

func TestAbort(t *testing.T) {
	s := newSession(t, 100)
	c, err := s.Abort("")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, s.Aborted)
	assert.Equal(t, ReasonAborted, c.Reason)

	tickN(s, 5)
	_, err = s.Abort("too late")
	assert.ErrorIs(t, err, ErrBattleSettled)
}

func TestFreezeScores_OnlyOnceInEnding(t *testing.T) {
	s := newSession(t, 100)
	assert.False(t, s.FreezeScores(Scores{A: 1, B: 2}), "cannot freeze while active")

	s.ObserveScores(Scores{A: 10, B: 20})
	assert.Equal(t, Scores{A: 10, B: 20}, s.LastKnownScores())

	s.ForceEnd("")
	assert.True(t, s.FreezeScores(Scores{A: 700, B: 900}))
	assert.False(t, s.FreezeScores(Scores{A: 9999, B: 0}))

	s.ObserveScores(Scores{A: 5000, B: 0})
	assert.Equal(t, Scores{A: 700, B: 900}, s.LastKnownScores())
	assert.Equal(t, int64(700), s.CreatorA.CurrentScore)
}

func TestScores_Leader(t *testing.T) {
	side, ok := Scores{A: 3, B: 1}.Leader()
	assert.True(t, ok)
	assert.Equal(t, SideA, side)

	_, ok = Scores{A: 500, B: 500}.Leader()
	assert.False(t, ok, "ties lead nobody")
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" b ")
	require.NoError(t, err)
	assert.Equal(t, SideB, s)

	_, err = ParseSide("C")
	assert.ErrorIs(t, err, ErrInvalidSide)
}
