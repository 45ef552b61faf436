package domain

// EventType identifica las notificaciones que emite el engine hacia fuera
// (overlays de UI, consumidores de Kafka, consola).
type EventType string

const (
	EventBattleStarted EventType = "battle.started"
	EventVoteAccepted  EventType = "vote.accepted"
	EventPhaseChanged  EventType = "phase.changed"
	EventBattleSettled EventType = "battle.settled"
)

// Event es una notificación. Solo uno de Change, Vote o Settlement viene relleno
// según el tipo; Pool acompaña a los votos aceptados.
type Event struct {
	Type       EventType
	BattleID   string
	Tick       int64
	Change     *StateChange
	Vote       *Vote
	Pool       *VotingPool
	Settlement *SettlementResult
}
