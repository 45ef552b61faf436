// Package ledger acepta o rechaza votos de una batalla. Es la única fuente de
// verdad de "este votante ya votó" y de "qué cuota fijó".
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/battlewager/internal/domain"
	"github.com/alejandrodnm/battlewager/internal/ports"
)

// Config contiene los límites de stake y el cálculo de cuotas.
type Config struct {
	MinStake int64
	MaxStake int64
	Odds     domain.OddsConfig
	// PayoutScale son los decimales de la unidad mínima de SP (0 = SP enteros).
	PayoutScale int32
}

// DefaultConfig devuelve límites razonables para producción.
func DefaultConfig() Config {
	return Config{
		MinStake:    10,
		MaxStake:    10_000,
		Odds:        domain.DefaultOddsConfig(),
		PayoutScale: 0,
	}
}

// VoteRequest es una solicitud de voto ya parseada.
type VoteRequest struct {
	VoterID string
	Side    domain.Side
	Stake   int64
}

// Ledger guarda los votos y el pool de UNA batalla.
// No es thread-safe: el caller lo usa dentro del lock de la batalla, que
// serializa el chequeo de duplicados con el incremento del pool.
type Ledger struct {
	battleID string
	cfg      Config
	pool     domain.VotingPool
	votes    []domain.Vote
	byVoter  map[string]int // voterID → índice del voto no reembolsado
	newID    func() string
}

// New crea un ledger vacío para la batalla.
func New(battleID string, cfg Config) *Ledger {
	return &Ledger{
		battleID: battleID,
		cfg:      cfg,
		byVoter:  make(map[string]int),
		newID:    uuid.NewString,
	}
}

// Restore reconstruye el ledger a partir de los votos persistidos. El pool
// suma todos los stakes (los reembolsos no lo reducen); solo los votos no
// reembolsados cuentan como duplicados.
func Restore(battleID string, cfg Config, votes []domain.Vote) (*Ledger, error) {
	l := New(battleID, cfg)
	for _, v := range votes {
		if v.BattleID != battleID {
			return nil, fmt.Errorf("ledger.Restore %s: vote %s belongs to %s", battleID, v.VoteID, v.BattleID)
		}
		if v.Stake <= 0 || !v.Side.Valid() {
			return nil, fmt.Errorf("ledger.Restore %s: vote %s: stake %d side %q", battleID, v.VoteID, v.Stake, v.Side)
		}
		l.pool.Add(v.Side, v.Stake)
		if v.Status != domain.VoteRefunded {
			l.byVoter[v.VoterID] = len(l.votes)
		}
		l.votes = append(l.votes, v)
	}
	if err := l.pool.Check(); err != nil {
		return nil, fmt.Errorf("ledger.Restore %s: %w", battleID, err)
	}
	return l, nil
}

// Precheck aplica las reglas que no dependen del saldo: votante y lado
// válidos, fase, duplicado y límites del stake. Permite rechazar antes de
// consultar el wallet.
func (l *Ledger) Precheck(session *domain.BattleSession, req VoteRequest) error {
	l.mustOwn(session)
	if strings.TrimSpace(req.VoterID) == "" {
		return fmt.Errorf("ledger.PlaceVote: %w", domain.ErrInvalidVoter)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("ledger.PlaceVote: side %q: %w", req.Side, domain.ErrInvalidSide)
	}
	if !session.CanVote() {
		return domain.ErrPhaseClosed
	}
	if _, ok := l.byVoter[req.VoterID]; ok {
		return domain.ErrDuplicateVote
	}
	return l.checkStakeBounds(req.Stake)
}

// PlaceVote valida y registra un voto.
//
// Orden:
//  1. PhaseClosed si la fase no es Active
//  2. DuplicateVote si el votante ya tiene un voto no reembolsado
//  3. InvalidStake si stake <= 0, > saldo o fuera de [MinStake, MaxStake]
//  4. cuota con el pool ANTES de sumar este stake
//  5. payout potencial
//  6. debit en el wallet; si falla → DebitFailed sin mutar nada
//  7. append del voto, pool[side] += stake, voterCount++
func (l *Ledger) PlaceVote(
	ctx context.Context,
	session *domain.BattleSession,
	req VoteRequest,
	balance decimal.Decimal,
	wallet ports.Debiter,
) (domain.Vote, error) {
	if err := l.Precheck(session, req); err != nil {
		return domain.Vote{}, err
	}
	if decimal.NewFromInt(req.Stake).GreaterThan(balance) {
		return domain.Vote{}, domain.NewInvalidStake("stake %d exceeds balance %s", req.Stake, balance.String())
	}

	odds := domain.ComputeOdds(l.pool, req.Side, l.cfg.Odds)
	vote := domain.Vote{
		VoteID:          l.newID(),
		BattleID:        l.battleID,
		VoterID:         req.VoterID,
		Side:            req.Side,
		Stake:           req.Stake,
		LockedOdds:      odds,
		PotentialPayout: domain.ComputePotentialPayout(req.Stake, odds, l.cfg.PayoutScale),
		AcceptedAt:      session.Ticks,
		Status:          domain.VoteActive,
	}

	// El debit ocurre antes de cualquier mutación: un debit fallido nunca deja voto.
	if err := wallet.Debit(ctx, req.VoterID, decimal.NewFromInt(req.Stake), vote.VoteID); err != nil {
		return domain.Vote{}, domain.NewDebitFailed(err)
	}

	l.byVoter[req.VoterID] = len(l.votes)
	l.votes = append(l.votes, vote)
	l.pool.Add(req.Side, req.Stake)
	l.mustHoldInvariants()

	return vote, nil
}

// ApplySettlement aplica los estados finales calculados por domain.Settle.
// Solo acepta transiciones desde Active; cualquier otra cosa es un bug.
func (l *Ledger) ApplySettlement(res domain.SettlementResult) {
	if res.BattleID != l.battleID {
		panic(fmt.Errorf("ledger.ApplySettlement: result for %s applied to %s: %w",
			res.BattleID, l.battleID, domain.ErrSettlementInconsistency))
	}
	index := make(map[string]int, len(l.votes))
	for i, v := range l.votes {
		index[v.VoteID] = i
	}

	for _, settled := range res.Votes {
		i, ok := index[settled.VoteID]
		if !ok {
			panic(fmt.Errorf("ledger.ApplySettlement: unknown vote %s: %w", settled.VoteID, domain.ErrSettlementInconsistency))
		}
		current := &l.votes[i]
		if current.Status == settled.Status {
			continue
		}
		if current.Status != domain.VoteActive {
			panic(fmt.Errorf("ledger.ApplySettlement: vote %s %s -> %s: %w",
				current.VoteID, current.Status, settled.Status, domain.ErrSettlementInconsistency))
		}
		current.Status = settled.Status
		if settled.Status == domain.VoteRefunded {
			delete(l.byVoter, current.VoterID)
		}
	}
}

// Pool devuelve una copia del pool actual.
func (l *Ledger) Pool() domain.VotingPool {
	return l.pool
}

// Votes devuelve una copia de los votos en orden de aceptación.
func (l *Ledger) Votes() []domain.Vote {
	out := make([]domain.Vote, len(l.votes))
	copy(out, l.votes)
	return out
}

// VoteOf devuelve el voto vigente (no reembolsado) de un votante.
func (l *Ledger) VoteOf(voterID string) (domain.Vote, bool) {
	i, ok := l.byVoter[voterID]
	if !ok {
		return domain.Vote{}, false
	}
	return l.votes[i], true
}

// Odds devuelve la cuota que recibiría ahora un voto al lado dado.
func (l *Ledger) Odds(side domain.Side) decimal.Decimal {
	return domain.ComputeOdds(l.pool, side, l.cfg.Odds)
}

func (l *Ledger) checkStakeBounds(stake int64) error {
	switch {
	case stake <= 0:
		return domain.NewInvalidStake("stake must be positive, got %d", stake)
	case stake < l.cfg.MinStake:
		return domain.NewInvalidStake("stake %d below minimum %d", stake, l.cfg.MinStake)
	case l.cfg.MaxStake > 0 && stake > l.cfg.MaxStake:
		return domain.NewInvalidStake("stake %d above maximum %d", stake, l.cfg.MaxStake)
	}
	return nil
}

func (l *Ledger) mustOwn(session *domain.BattleSession) {
	if session == nil || session.BattleID != l.battleID {
		panic(fmt.Sprintf("ledger: session does not belong to ledger %s", l.battleID))
	}
}

// mustHoldInvariants hace panic si el pool no se conserva.
func (l *Ledger) mustHoldInvariants() {
	if err := l.pool.Check(); err != nil {
		panic(fmt.Sprintf("ledger %s: %v", l.battleID, err))
	}
	if l.pool.VoterCount != len(l.byVoter) {
		panic(fmt.Sprintf("ledger %s: voter count %d != distinct voters %d",
			l.battleID, l.pool.VoterCount, len(l.byVoter)))
	}
}
