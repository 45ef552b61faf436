package storage

// sqlite.go: persistencia de batallas, votos y liquidaciones.
//
// Estrategia:
//   - `battles`: UNA fila por batalla (UPSERT en cada transición).
//   - `votes`: una fila por voto aceptado. Solo cambia `status` al liquidar.
//   - `pools`: el pool derivado por batalla, reescrito tras cada voto.
//   - `settlements` + `payouts`: el resultado de la liquidación y cada
//     crédito emitido; `sent_at` NULL = pendiente de reintento.
//   - Los importes decimales se guardan como TEXT para no perder precisión.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS battles (
    battle_id       TEXT PRIMARY KEY,
    creator_a_id    TEXT    NOT NULL,
    creator_a_name  TEXT    NOT NULL DEFAULT '',
    creator_a_score INTEGER NOT NULL DEFAULT 0,
    creator_b_id    TEXT    NOT NULL,
    creator_b_name  TEXT    NOT NULL DEFAULT '',
    creator_b_score INTEGER NOT NULL DEFAULT 0,
    phase           TEXT    NOT NULL,
    time_remaining  INTEGER NOT NULL,
    lock_threshold  INTEGER NOT NULL,
    ending_duration INTEGER NOT NULL,
    ticks           INTEGER NOT NULL DEFAULT 0,
    ending_ticks    INTEGER NOT NULL DEFAULT 0,
    final_a         INTEGER NOT NULL DEFAULT 0,
    final_b         INTEGER NOT NULL DEFAULT 0,
    scores_frozen   INTEGER NOT NULL DEFAULT 0,
    end_reason      TEXT    NOT NULL DEFAULT '',
    aborted         INTEGER NOT NULL DEFAULT 0,
    updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS votes (
    vote_id          TEXT PRIMARY KEY,
    battle_id        TEXT    NOT NULL,
    voter_id         TEXT    NOT NULL,
    side             TEXT    NOT NULL,
    stake            INTEGER NOT NULL,
    locked_odds      TEXT    NOT NULL,
    potential_payout TEXT    NOT NULL,
    accepted_at      INTEGER NOT NULL,
    status           TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS pools (
    battle_id   TEXT PRIMARY KEY,
    pool_a      INTEGER NOT NULL DEFAULT 0,
    pool_b      INTEGER NOT NULL DEFAULT 0,
    total_pool  INTEGER NOT NULL DEFAULT 0,
    voter_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settlements (
    battle_id    TEXT PRIMARY KEY,
    outcome      TEXT    NOT NULL,
    final_a      INTEGER NOT NULL,
    final_b      INTEGER NOT NULL,
    vote_count   INTEGER NOT NULL,
    payout_count INTEGER NOT NULL,
    total_staked INTEGER NOT NULL,
    total_paid   TEXT    NOT NULL,
    settled_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS payouts (
    reference TEXT PRIMARY KEY, -- battle_id:vote_id
    battle_id TEXT NOT NULL,
    vote_id   TEXT NOT NULL,
    voter_id  TEXT NOT NULL,
    amount    TEXT NOT NULL,
    reason    TEXT NOT NULL,
    sent_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_votes_voter     ON votes(battle_id, voter_id);
CREATE INDEX IF NOT EXISTS idx_votes_battle    ON votes(battle_id, accepted_at);
CREATE INDEX IF NOT EXISTS idx_settlements_at  ON settlements(settled_at DESC);
CREATE INDEX IF NOT EXISTS idx_payouts_pending ON payouts(battle_id) WHERE sent_at IS NULL;
`

// ErrNotFound se devuelve cuando la batalla no existe en la base.
// Envuelve domain.ErrBattleNotFound para que el engine lo reconozca.
var ErrNotFound = fmt.Errorf("storage: %w", domain.ErrBattleNotFound)

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SaveBattle hace upsert de la sesión completa.
func (s *SQLiteStorage) SaveBattle(ctx context.Context, b domain.BattleSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO battles
			(battle_id, creator_a_id, creator_a_name, creator_a_score,
			 creator_b_id, creator_b_name, creator_b_score,
			 phase, time_remaining, lock_threshold, ending_duration,
			 ticks, ending_ticks, final_a, final_b, scores_frozen,
			 end_reason, aborted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(battle_id) DO UPDATE SET
			creator_a_score = excluded.creator_a_score,
			creator_b_score = excluded.creator_b_score,
			phase           = excluded.phase,
			time_remaining  = excluded.time_remaining,
			ticks           = excluded.ticks,
			ending_ticks    = excluded.ending_ticks,
			final_a         = excluded.final_a,
			final_b         = excluded.final_b,
			scores_frozen   = excluded.scores_frozen,
			end_reason      = excluded.end_reason,
			aborted         = excluded.aborted,
			updated_at      = excluded.updated_at
	`,
		b.BattleID,
		b.CreatorA.ID, b.CreatorA.Name, b.CreatorA.CurrentScore,
		b.CreatorB.ID, b.CreatorB.Name, b.CreatorB.CurrentScore,
		string(b.Phase), b.TimeRemainingSeconds, b.LockThresholdSeconds, b.EndingDurationSeconds,
		b.Ticks, b.EndingTicks, b.FinalScores.A, b.FinalScores.B, boolToInt(b.ScoresFrozen),
		b.EndReason, boolToInt(b.Aborted), s.now(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveBattle %s: %w", b.BattleID, err)
	}
	return nil
}

// SaveVote inserta un voto aceptado. Reinsertar el mismo voto es un no-op.
func (s *SQLiteStorage) SaveVote(ctx context.Context, v domain.Vote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO votes
			(vote_id, battle_id, voter_id, side, stake, locked_odds,
			 potential_payout, accepted_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vote_id) DO NOTHING
	`,
		v.VoteID, v.BattleID, v.VoterID, string(v.Side), v.Stake,
		v.LockedOdds.String(), v.PotentialPayout.String(), v.AcceptedAt, string(v.Status),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveVote %s: %w", v.VoteID, err)
	}
	return nil
}

// UpdateVoteStatuses persiste los estados finales en una transacción.
func (s *SQLiteStorage) UpdateVoteStatuses(ctx context.Context, votes []domain.Vote) error {
	if len(votes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpdateVoteStatuses: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE votes SET status = ? WHERE vote_id = ?`)
	if err != nil {
		return fmt.Errorf("storage.UpdateVoteStatuses: prepare: %w", err)
	}
	defer stmt.Close()

	for _, v := range votes {
		if _, err := stmt.ExecContext(ctx, string(v.Status), v.VoteID); err != nil {
			return fmt.Errorf("storage.UpdateVoteStatuses: %s: %w", v.VoteID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.UpdateVoteStatuses: commit: %w", err)
	}
	return nil
}

// SavePool reescribe el pool derivado de la batalla.
func (s *SQLiteStorage) SavePool(ctx context.Context, battleID string, p domain.VotingPool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (battle_id, pool_a, pool_b, total_pool, voter_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(battle_id) DO UPDATE SET
			pool_a      = excluded.pool_a,
			pool_b      = excluded.pool_b,
			total_pool  = excluded.total_pool,
			voter_count = excluded.voter_count
	`, battleID, p.PoolA, p.PoolB, p.TotalPool, p.VoterCount)
	if err != nil {
		return fmt.Errorf("storage.SavePool %s: %w", battleID, err)
	}
	return nil
}

// SaveSettlement guarda el resumen y las instrucciones de pago como pendientes.
func (s *SQLiteStorage) SaveSettlement(ctx context.Context, res domain.SettlementResult) error {
	sum := res.Summary(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSettlement: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settlements
			(battle_id, outcome, final_a, final_b, vote_count, payout_count,
			 total_staked, total_paid, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sum.BattleID, string(sum.Outcome), sum.FinalScores.A, sum.FinalScores.B,
		sum.VoteCount, sum.PayoutCount, sum.TotalStaked, sum.TotalPaid.String(), sum.SettledAt,
	); err != nil {
		return fmt.Errorf("storage.SaveSettlement %s: insert: %w", res.BattleID, err)
	}

	for _, p := range res.Payouts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (reference, battle_id, vote_id, voter_id, amount, reason)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(reference) DO NOTHING
		`, p.Reference(), p.BattleID, p.VoteID, p.VoterID, p.Amount.String(), string(p.Reason)); err != nil {
			return fmt.Errorf("storage.SaveSettlement %s: payout %s: %w", res.BattleID, p.Reference(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveSettlement: commit: %w", err)
	}
	return nil
}

// MarkPayoutSent registra que el crédito se confirmó.
func (s *SQLiteStorage) MarkPayoutSent(ctx context.Context, p domain.PayoutInstruction) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE payouts SET sent_at = ? WHERE reference = ? AND sent_at IS NULL`,
		s.now(), p.Reference(),
	); err != nil {
		return fmt.Errorf("storage.MarkPayoutSent %s: %w", p.Reference(), err)
	}
	return nil
}

// GetBattle devuelve la sesión guardada; ErrNotFound si no existe.
func (s *SQLiteStorage) GetBattle(ctx context.Context, battleID string) (domain.BattleSession, error) {
	var b domain.BattleSession
	var phase, reason string
	var frozen, aborted int

	err := s.db.QueryRowContext(ctx, `
		SELECT battle_id, creator_a_id, creator_a_name, creator_a_score,
		       creator_b_id, creator_b_name, creator_b_score,
		       phase, time_remaining, lock_threshold, ending_duration,
		       ticks, ending_ticks, final_a, final_b, scores_frozen,
		       end_reason, aborted
		FROM battles WHERE battle_id = ?
	`, battleID).Scan(
		&b.BattleID, &b.CreatorA.ID, &b.CreatorA.Name, &b.CreatorA.CurrentScore,
		&b.CreatorB.ID, &b.CreatorB.Name, &b.CreatorB.CurrentScore,
		&phase, &b.TimeRemainingSeconds, &b.LockThresholdSeconds, &b.EndingDurationSeconds,
		&b.Ticks, &b.EndingTicks, &b.FinalScores.A, &b.FinalScores.B, &frozen,
		&reason, &aborted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BattleSession{}, fmt.Errorf("storage.GetBattle %s: %w", battleID, ErrNotFound)
	}
	if err != nil {
		return domain.BattleSession{}, fmt.Errorf("storage.GetBattle %s: %w", battleID, err)
	}
	b.Phase = domain.Phase(phase)
	b.EndReason = reason
	b.ScoresFrozen = frozen == 1
	b.Aborted = aborted == 1
	return b, nil
}

// GetVotes devuelve los votos de la batalla en orden de aceptación.
func (s *SQLiteStorage) GetVotes(ctx context.Context, battleID string) ([]domain.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vote_id, battle_id, voter_id, side, stake, locked_odds,
		       potential_payout, accepted_at, status
		FROM votes
		WHERE battle_id = ?
		ORDER BY accepted_at, rowid
	`, battleID)
	if err != nil {
		return nil, fmt.Errorf("storage.GetVotes: query: %w", err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var side, odds, payout, status string
		if err := rows.Scan(&v.VoteID, &v.BattleID, &v.VoterID, &side, &v.Stake,
			&odds, &payout, &v.AcceptedAt, &status); err != nil {
			return nil, fmt.Errorf("storage.GetVotes: scan row: %w", err)
		}
		if v.LockedOdds, err = decimal.NewFromString(odds); err != nil {
			return nil, fmt.Errorf("storage.GetVotes: odds %q: %w", odds, err)
		}
		if v.PotentialPayout, err = decimal.NewFromString(payout); err != nil {
			return nil, fmt.Errorf("storage.GetVotes: payout %q: %w", payout, err)
		}
		v.Side = domain.Side(side)
		v.Status = domain.VoteStatus(status)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// ListSettlements devuelve las últimas liquidaciones, la más reciente primero.
func (s *SQLiteStorage) ListSettlements(ctx context.Context, limit int) ([]domain.SettlementSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT battle_id, outcome, final_a, final_b, vote_count, payout_count,
		       total_staked, total_paid, settled_at
		FROM settlements
		ORDER BY settled_at DESC, battle_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListSettlements: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementSummary
	for rows.Next() {
		var sum domain.SettlementSummary
		var outcome, paid string
		if err := rows.Scan(&sum.BattleID, &outcome, &sum.FinalScores.A, &sum.FinalScores.B,
			&sum.VoteCount, &sum.PayoutCount, &sum.TotalStaked, &paid, &sum.SettledAt); err != nil {
			return nil, fmt.Errorf("storage.ListSettlements: scan row: %w", err)
		}
		if sum.TotalPaid, err = decimal.NewFromString(paid); err != nil {
			return nil, fmt.Errorf("storage.ListSettlements: total_paid %q: %w", paid, err)
		}
		sum.Outcome = domain.Outcome(outcome)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// PendingPayouts devuelve los créditos sin confirmar de una batalla.
func (s *SQLiteStorage) PendingPayouts(ctx context.Context, battleID string) ([]domain.PayoutInstruction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT battle_id, vote_id, voter_id, amount, reason
		FROM payouts
		WHERE battle_id = ? AND sent_at IS NULL
		ORDER BY rowid
	`, battleID)
	if err != nil {
		return nil, fmt.Errorf("storage.PendingPayouts: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutInstruction
	for rows.Next() {
		var p domain.PayoutInstruction
		var amount, reason string
		if err := rows.Scan(&p.BattleID, &p.VoteID, &p.VoterID, &amount, &reason); err != nil {
			return nil, fmt.Errorf("storage.PendingPayouts: scan row: %w", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("storage.PendingPayouts: amount %q: %w", amount, err)
		}
		p.Reason = domain.PayoutReason(reason)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecoverableBattles devuelve las batallas que hay que restaurar al arrancar:
// las no liquidadas y las liquidadas con créditos pendientes.
func (s *SQLiteStorage) RecoverableBattles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT battle_id FROM battles WHERE phase != ?
		UNION
		SELECT DISTINCT battle_id FROM payouts WHERE sent_at IS NULL
		ORDER BY battle_id
	`, string(domain.PhaseSettled))
	if err != nil {
		return nil, fmt.Errorf("storage.RecoverableBattles: query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage.RecoverableBattles: scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
