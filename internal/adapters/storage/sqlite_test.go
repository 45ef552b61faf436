package storage_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/battlewager/internal/adapters/storage"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

func openDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makeSession(t *testing.T, id string) *domain.BattleSession {
	t.Helper()
	s, err := domain.NewBattleSession(id,
		domain.Creator{ID: "ca", Name: "Ana"},
		domain.Creator{ID: "cb", Name: "Beto"},
		60, domain.DefaultSessionConfig())
	require.NoError(t, err)
	return s
}

func makeVote(id, voter string, side domain.Side, stake int64, odds string) domain.Vote {
	o := decimal.RequireFromString(odds)
	return domain.Vote{
		VoteID:          id,
		BattleID:        "b1",
		VoterID:         voter,
		Side:            side,
		Stake:           stake,
		LockedOdds:      o,
		PotentialPayout: domain.ComputePotentialPayout(stake, o, 0),
		AcceptedAt:      int64(len(id)),
		Status:          domain.VoteActive,
	}
}

func TestSQLiteStorage_SaveAndGetBattle(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	s := makeSession(t, "b1")

	require.NoError(t, db.SaveBattle(ctx, *s))

	s.ForceEnd("stream ended")
	s.FreezeScores(domain.Scores{A: 700, B: 900})
	require.NoError(t, db.SaveBattle(ctx, *s))

	got, err := db.GetBattle(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, *s, got)
}

func TestSQLiteStorage_GetBattleNotFound(t *testing.T) {
	db := openDB(t)
	_, err := db.GetBattle(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, err, domain.ErrBattleNotFound)
}

func TestSQLiteStorage_RecoverableBattles(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	open := makeSession(t, "b-open")
	require.NoError(t, db.SaveBattle(ctx, *open))

	for _, id := range []string{"b1", "b-paid"} {
		s := makeSession(t, id)
		s.ForceEnd("")
		for i := 0; i < 3; i++ {
			s.Tick()
		}
		require.Equal(t, domain.PhaseSettled, s.Phase)
		require.NoError(t, db.SaveBattle(ctx, *s))
	}

	payout := domain.PayoutInstruction{BattleID: "b1", VoteID: "v1", VoterID: "alice", Amount: decimal.NewFromInt(100), Reason: domain.PayoutWon}
	require.NoError(t, db.SaveSettlement(ctx, domain.SettlementResult{
		BattleID: "b1", Outcome: domain.OutcomeSideA,
		Votes:   []domain.Vote{makeVote("v1", "alice", domain.SideA, 50, "2.0")},
		Payouts: []domain.PayoutInstruction{payout}, TotalStaked: 50, TotalPaid: payout.Amount,
	}))

	ids, err := db.RecoverableBattles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-open", "b1"}, ids)

	require.NoError(t, db.MarkPayoutSent(ctx, payout))
	ids, err = db.RecoverableBattles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-open"}, ids)
}

func TestSQLiteStorage_VotesRoundTrip(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	v1 := makeVote("v1", "alice", domain.SideA, 50, "2.0")
	v2 := makeVote("v22", "bob", domain.SideB, 100, "3.0")
	require.NoError(t, db.SaveVote(ctx, v1))
	require.NoError(t, db.SaveVote(ctx, v2))
	require.NoError(t, db.SaveVote(ctx, v1), "reinsert is a no-op")

	v1.Status = domain.VoteLost
	v2.Status = domain.VoteWon
	require.NoError(t, db.UpdateVoteStatuses(ctx, []domain.Vote{v1, v2}))

	votes, err := db.GetVotes(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "alice", votes[0].VoterID)
	assert.Equal(t, domain.VoteLost, votes[0].Status)
	assert.Equal(t, domain.VoteWon, votes[1].Status)
	assert.True(t, decimal.RequireFromString("3.0").Equal(votes[1].LockedOdds))
	assert.True(t, decimal.NewFromInt(300).Equal(votes[1].PotentialPayout))
}

func TestSQLiteStorage_SavePoolUpsert(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.SavePool(ctx, "b1", domain.VotingPool{PoolA: 50, TotalPool: 50, VoterCount: 1}))
	require.NoError(t, db.SavePool(ctx, "b1", domain.VotingPool{PoolA: 50, PoolB: 100, TotalPool: 150, VoterCount: 2}))
}

func TestSQLiteStorage_SettlementAndPayouts(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	res := domain.SettlementResult{
		BattleID:    "b1",
		Outcome:     domain.OutcomeSideB,
		FinalScores: domain.Scores{A: 700, B: 900},
		Votes: []domain.Vote{
			makeVote("v1", "alice", domain.SideA, 50, "2.0"),
			makeVote("v2", "bob", domain.SideB, 100, "3.0"),
		},
		Payouts: []domain.PayoutInstruction{
			{BattleID: "b1", VoteID: "v2", VoterID: "bob", Amount: decimal.NewFromInt(300), Reason: domain.PayoutWon},
		},
		TotalStaked: 150,
		TotalPaid:   decimal.NewFromInt(300),
	}
	require.NoError(t, db.SaveSettlement(ctx, res))

	pending, err := db.PendingPayouts(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b1:v2", pending[0].Reference())
	assert.True(t, decimal.NewFromInt(300).Equal(pending[0].Amount))

	require.NoError(t, db.MarkPayoutSent(ctx, pending[0]))
	pending, err = db.PendingPayouts(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	sums, err := db.ListSettlements(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, domain.OutcomeSideB, sums[0].Outcome)
	assert.Equal(t, 2, sums[0].VoteCount)
	assert.Equal(t, 1, sums[0].PayoutCount)
	assert.Equal(t, int64(150), sums[0].TotalStaked)
	assert.True(t, decimal.NewFromInt(300).Equal(sums[0].TotalPaid))
	assert.False(t, sums[0].SettledAt.IsZero())
}

func TestSQLiteStorage_UpdateEmptySlice(t *testing.T) {
	db := openDB(t)
	assert.NoError(t, db.UpdateVoteStatuses(context.Background(), nil))
}
