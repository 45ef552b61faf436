package domain

import (
	"fmt"
	"strings"
)

// Side identifica uno de los dos buckets del pool. Los votos guardan el lado,
// no el ID del creador, para no depender de cambios de identidad del creador.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Valid devuelve true si el lado es A o B.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// ParseSide acepta "A"/"B" sin distinguir mayúsculas.
func ParseSide(raw string) (Side, error) {
	s := Side(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("domain.ParseSide %q: %w", raw, ErrInvalidSide)
	}
	return s, nil
}

// Phase es la etapa del ciclo de vida de una batalla.
type Phase string

const (
	PhaseActive  Phase = "ACTIVE"
	PhaseLocked  Phase = "LOCKED"
	PhaseEnding  Phase = "ENDING"
	PhaseSettled Phase = "SETTLED"
)

// Rank devuelve la posición de la fase en el orden Active → Locked → Ending → Settled.
func (p Phase) Rank() int {
	switch p {
	case PhaseActive:
		return 0
	case PhaseLocked:
		return 1
	case PhaseEnding:
		return 2
	case PhaseSettled:
		return 3
	}
	return -1
}

// Creator es la referencia a uno de los dos creadores de la batalla.
// Name y AvatarURL son opacos para el engine.
type Creator struct {
	ID           string
	Name         string
	AvatarURL    string
	CurrentScore int64 // espejo del Score Feed, solo lectura
}

// Scores son los puntajes de ambos lados en un instante dado.
type Scores struct {
	A int64
	B int64
}

// Of devuelve el puntaje del lado dado.
func (s Scores) Of(side Side) int64 {
	if side == SideA {
		return s.A
	}
	return s.B
}

// Leader devuelve el lado con puntaje estrictamente mayor.
// ok=false en empate: nadie lidera.
func (s Scores) Leader() (side Side, ok bool) {
	switch {
	case s.A > s.B:
		return SideA, true
	case s.B > s.A:
		return SideB, true
	}
	return "", false
}

// SessionConfig contiene las constantes de tiempo de una batalla.
type SessionConfig struct {
	// LockThresholdSeconds: la votación se cierra cuando quedan <= estos segundos.
	LockThresholdSeconds int
	// EndingDurationSeconds: ticks de "reveal" entre Ending y Settled.
	EndingDurationSeconds int
}

// DefaultSessionConfig devuelve los valores por defecto (30s de lock, 3s de reveal).
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		LockThresholdSeconds:  30,
		EndingDurationSeconds: 3,
	}
}

// Motivos de transición que acompañan a cada StateChange.
const (
	ReasonVotingClosed   = "voting_closed"
	ReasonTimerExpired   = "timer_expired"
	ReasonRevealComplete = "reveal_complete"
	ReasonForceEnd       = "force_end"
	ReasonAborted        = "aborted"
)

// StateChange describe una transición de fase producida por Tick o ForceEnd.
type StateChange struct {
	BattleID             string
	From                 Phase
	To                   Phase
	TimeRemainingSeconds int
	Tick                 int64
	Reason               string
}

// VotingClosed es true en la transición Active → Locked.
func (c StateChange) VotingClosed() bool { return c.To == PhaseLocked }

// FreezesScores es true cuando la transición entra en Ending: el puntaje
// usado para liquidar se captura en ese instante.
func (c StateChange) FreezesScores() bool { return c.To == PhaseEnding }

// TriggersSettlement es true solo en la transición Ending → Settled.
func (c StateChange) TriggersSettlement() bool { return c.To == PhaseSettled }

// BattleSession es la máquina de estados de una batalla.
// Solo se muta con Tick, ForceEnd, Abort y FreezeScores; el caller debe
// serializar el acceso (un lock por batalla).
type BattleSession struct {
	BattleID              string
	CreatorA              Creator
	CreatorB              Creator
	Phase                 Phase
	TimeRemainingSeconds  int
	LockThresholdSeconds  int
	EndingDurationSeconds int

	Ticks        int64 // ticks procesados; es el AcceptedAt de los votos
	EndingTicks  int   // ticks transcurridos dentro de Ending
	FinalScores  Scores
	ScoresFrozen bool
	EndReason    string
	Aborted      bool
}

// NewBattleSession crea una sesión en fase Active.
func NewBattleSession(battleID string, a, b Creator, durationSeconds int, cfg SessionConfig) (*BattleSession, error) {
	if strings.TrimSpace(battleID) == "" {
		return nil, fmt.Errorf("domain.NewBattleSession: empty battle id: %w", ErrInvalidBattle)
	}
	if durationSeconds <= 0 {
		return nil, fmt.Errorf("domain.NewBattleSession: duration %d: %w", durationSeconds, ErrInvalidBattle)
	}
	if cfg.LockThresholdSeconds < 0 || cfg.EndingDurationSeconds < 0 {
		return nil, fmt.Errorf("domain.NewBattleSession: negative timing config: %w", ErrInvalidBattle)
	}
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		return nil, fmt.Errorf("domain.NewBattleSession: creators %q vs %q: %w", a.ID, b.ID, ErrInvalidBattle)
	}
	return &BattleSession{
		BattleID:              battleID,
		CreatorA:              a,
		CreatorB:              b,
		Phase:                 PhaseActive,
		TimeRemainingSeconds:  durationSeconds,
		LockThresholdSeconds:  cfg.LockThresholdSeconds,
		EndingDurationSeconds: cfg.EndingDurationSeconds,
	}, nil
}

// CanVote devuelve true si la fase admite votos.
func (s *BattleSession) CanVote() bool {
	return s.Phase == PhaseActive
}

// Creator devuelve el creador asociado a un lado.
func (s *BattleSession) Creator(side Side) Creator {
	if side == SideA {
		return s.CreatorA
	}
	return s.CreatorB
}

// Tick avanza un segundo: decrementa el tiempo restante (nunca por debajo de 0)
// y evalúa las transiciones en orden. Devuelve como mucho una transición.
// En Settled es un no-op.
func (s *BattleSession) Tick() *StateChange {
	if s.Phase == PhaseSettled {
		return nil
	}

	s.Ticks++
	if s.TimeRemainingSeconds > 0 {
		s.TimeRemainingSeconds--
	}

	switch s.Phase {
	case PhaseActive:
		if s.TimeRemainingSeconds <= s.LockThresholdSeconds {
			return s.transition(PhaseLocked, ReasonVotingClosed)
		}
	case PhaseLocked:
		if s.TimeRemainingSeconds == 0 {
			return s.transition(PhaseEnding, ReasonTimerExpired)
		}
	case PhaseEnding:
		s.EndingTicks++
		if s.EndingTicks >= s.EndingDurationSeconds {
			return s.transition(PhaseSettled, ReasonRevealComplete)
		}
	}
	return nil
}

// ForceEnd lleva una sesión Active o Locked directamente a Ending con el
// tiempo restante en 0. En Ending o Settled no hace nada y devuelve nil.
func (s *BattleSession) ForceEnd(reason string) *StateChange {
	if s.Phase != PhaseActive && s.Phase != PhaseLocked {
		return nil
	}
	if reason == "" {
		reason = ReasonForceEnd
	}
	s.TimeRemainingSeconds = 0
	s.EndingTicks = 0
	s.EndReason = reason
	return s.transition(PhaseEnding, reason)
}

// Abort marca la batalla como cancelada: la liquidación reembolsará todos los
// votos activos. Si la sesión aún no terminó, se fuerza el paso a Ending.
func (s *BattleSession) Abort(reason string) (*StateChange, error) {
	if s.Phase == PhaseSettled {
		return nil, fmt.Errorf("domain.Abort %s: %w", s.BattleID, ErrBattleSettled)
	}
	s.Aborted = true
	if reason == "" {
		reason = ReasonAborted
	}
	s.EndReason = reason
	return s.ForceEnd(reason), nil
}

// FreezeScores captura el puntaje final. Solo la primera llamada en Ending
// tiene efecto; devuelve false si ya estaba congelado o la fase no es Ending.
func (s *BattleSession) FreezeScores(scores Scores) bool {
	if s.ScoresFrozen || s.Phase != PhaseEnding {
		return false
	}
	s.FinalScores = scores
	s.ScoresFrozen = true
	s.CreatorA.CurrentScore = scores.A
	s.CreatorB.CurrentScore = scores.B
	return true
}

// ObserveScores actualiza el espejo de puntajes mientras no estén congelados.
func (s *BattleSession) ObserveScores(scores Scores) {
	if s.ScoresFrozen {
		return
	}
	s.CreatorA.CurrentScore = scores.A
	s.CreatorB.CurrentScore = scores.B
}

// LastKnownScores devuelve los puntajes congelados o, si no lo están,
// el último espejo observado.
func (s *BattleSession) LastKnownScores() Scores {
	if s.ScoresFrozen {
		return s.FinalScores
	}
	return Scores{A: s.CreatorA.CurrentScore, B: s.CreatorB.CurrentScore}
}

// transition solo avanza. ForceEnd salta de Active a Ending; Settled exige
// haber pasado por Ending para que los puntajes queden congelados.
func (s *BattleSession) transition(to Phase, reason string) *StateChange {
	if to.Rank() <= s.Phase.Rank() || (to == PhaseSettled && s.Phase != PhaseEnding) {
		panic(fmt.Sprintf("domain: illegal phase transition %s -> %s for battle %s", s.Phase, to, s.BattleID))
	}
	change := &StateChange{
		BattleID:             s.BattleID,
		From:                 s.Phase,
		To:                   to,
		TimeRemainingSeconds: s.TimeRemainingSeconds,
		Tick:                 s.Ticks,
		Reason:               reason,
	}
	s.Phase = to
	return change
}
