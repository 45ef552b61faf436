package domain

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Outcome es el resultado de una batalla liquidada.
type Outcome string

const (
	OutcomeSideA Outcome = "SIDE_A"
	OutcomeSideB Outcome = "SIDE_B"
	OutcomeTie   Outcome = "TIE"
	OutcomeVoid  Outcome = "VOID" // batalla abortada: todo se reembolsa
)

// Winner devuelve el lado ganador; ok=false en empate o batalla anulada.
func (o Outcome) Winner() (Side, bool) {
	switch o {
	case OutcomeSideA:
		return SideA, true
	case OutcomeSideB:
		return SideB, true
	}
	return "", false
}

// DetermineOutcome: gana el puntaje congelado estrictamente mayor; igualdad es empate.
func DetermineOutcome(final Scores) Outcome {
	side, ok := final.Leader()
	if !ok {
		return OutcomeTie
	}
	if side == SideA {
		return OutcomeSideA
	}
	return OutcomeSideB
}

// PayoutReason acompaña cada instrucción de pago enviada al wallet.
type PayoutReason string

const (
	PayoutWon      PayoutReason = "WON"
	PayoutLost     PayoutReason = "LOST"
	PayoutRefunded PayoutReason = "REFUNDED"
)

// PayoutInstruction es un credit(voterID, amount) que el facade envía al wallet.
type PayoutInstruction struct {
	BattleID string
	VoteID   string
	VoterID  string
	Amount   decimal.Decimal
	Reason   PayoutReason
}

// Reference es la clave de idempotencia del crédito en el wallet.
func (p PayoutInstruction) Reference() string {
	return p.BattleID + ":" + p.VoteID
}

// SettlementResult contiene los estados finales de los votos y los pagos a emitir.
type SettlementResult struct {
	BattleID    string
	Outcome     Outcome
	FinalScores Scores
	Votes       []Vote
	Payouts     []PayoutInstruction
	TotalStaked int64
	TotalPaid   decimal.Decimal
}

// SettlementSummary es la fila resumida que se persiste por batalla liquidada.
type SettlementSummary struct {
	BattleID    string
	Outcome     Outcome
	FinalScores Scores
	VoteCount   int
	PayoutCount int
	TotalStaked int64
	TotalPaid   decimal.Decimal
	SettledAt   time.Time
}

// Settle calcula la liquidación de una batalla en fase Settled.
//
// Es una función pura de (session, pool, votes, finalScores): no toca el
// wallet ni modifica los votos de entrada. Los ganadores cobran el
// PotentialPayout fijado al apostar, no un valor recalculado con el pool final.
// Llamarla dos veces con los mismos inputs da el mismo resultado.
//
// Hace panic con ErrSettlementInconsistency si la sesión no está en Settled o
// si los votos no cuadran con el pool: ambos casos son bugs del caller.
func Settle(session *BattleSession, pool VotingPool, votes []Vote, final Scores) SettlementResult {
	if session == nil || session.Phase != PhaseSettled {
		phase := Phase("")
		if session != nil {
			phase = session.Phase
		}
		panic(fmt.Errorf("domain.Settle: phase %q: %w", phase, ErrSettlementInconsistency))
	}
	if err := pool.Check(); err != nil {
		panic(fmt.Errorf("domain.Settle %s: %v: %w", session.BattleID, err, ErrSettlementInconsistency))
	}
	staked := lo.SumBy(votes, func(v Vote) int64 { return v.Stake })
	if staked != pool.TotalPool {
		panic(fmt.Errorf("domain.Settle %s: votes stake %d != pool %d: %w",
			session.BattleID, staked, pool.TotalPool, ErrSettlementInconsistency))
	}

	outcome := DetermineOutcome(final)
	if session.Aborted {
		outcome = OutcomeVoid
	}
	winner, hasWinner := outcome.Winner()

	result := SettlementResult{
		BattleID:    session.BattleID,
		Outcome:     outcome,
		FinalScores: final,
		Votes:       make([]Vote, len(votes)),
		TotalStaked: staked,
		TotalPaid:   decimal.Zero,
	}
	copy(result.Votes, votes)

	for i := range result.Votes {
		v := &result.Votes[i]
		if v.BattleID != session.BattleID {
			panic(fmt.Errorf("domain.Settle %s: vote %s belongs to %s: %w",
				session.BattleID, v.VoteID, v.BattleID, ErrSettlementInconsistency))
		}
		if v.Status != VoteActive {
			continue
		}

		switch {
		case !hasWinner:
			// Empate o anulada: se devuelve el stake, sin ganancias.
			v.Status = VoteRefunded
			result.addPayout(*v, decimal.NewFromInt(v.Stake), PayoutRefunded)
		case v.Side == winner:
			v.Status = VoteWon
			result.addPayout(*v, v.PotentialPayout, PayoutWon)
		default:
			// El stake ya se debitó al apostar: no hay instrucción.
			v.Status = VoteLost
		}
	}
	return result
}

func (r *SettlementResult) addPayout(v Vote, amount decimal.Decimal, reason PayoutReason) {
	r.Payouts = append(r.Payouts, PayoutInstruction{
		BattleID: v.BattleID,
		VoteID:   v.VoteID,
		VoterID:  v.VoterID,
		Amount:   amount,
		Reason:   reason,
	})
	r.TotalPaid = r.TotalPaid.Add(amount)
}

// Summary resume el resultado para persistirlo.
func (r SettlementResult) Summary(settledAt time.Time) SettlementSummary {
	return SettlementSummary{
		BattleID:    r.BattleID,
		Outcome:     r.Outcome,
		FinalScores: r.FinalScores,
		VoteCount:   len(r.Votes),
		PayoutCount: len(r.Payouts),
		TotalStaked: r.TotalStaked,
		TotalPaid:   r.TotalPaid,
		SettledAt:   settledAt,
	}
}
