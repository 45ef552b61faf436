package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

type handler struct {
	engine Engine
}

// --- requests ---

type creatorRequest struct {
	ID        string `json:"id" binding:"required"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type startRequest struct {
	BattleID        string         `json:"battle_id"`
	CreatorA        creatorRequest `json:"creator_a" binding:"required"`
	CreatorB        creatorRequest `json:"creator_b" binding:"required"`
	DurationSeconds int            `json:"duration_seconds" binding:"required"`
}

type voteRequest struct {
	VoterID string `json:"voter_id" binding:"required"`
	Side    string `json:"side" binding:"required"`
	Stake   int64  `json:"stake"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// --- responses ---

type creatorView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	CurrentScore int64  `json:"current_score"`
	IsLeading    bool   `json:"is_leading"`
}

type battleView struct {
	BattleID             string          `json:"battle_id"`
	Phase                string          `json:"phase"`
	TimeRemainingSeconds int             `json:"time_remaining_seconds"`
	CreatorA             creatorView     `json:"creator_a"`
	CreatorB             creatorView     `json:"creator_b"`
	PoolA                int64           `json:"pool_a"`
	PoolB                int64           `json:"pool_b"`
	TotalPool            int64           `json:"total_pool"`
	VoterCount           int             `json:"voter_count"`
	OddsA                decimal.Decimal `json:"odds_a"`
	OddsB                decimal.Decimal `json:"odds_b"`
	ScoresFrozen         bool            `json:"scores_frozen"`
	Aborted              bool            `json:"aborted"`
	Outcome              string          `json:"outcome,omitempty"`
	PendingPayouts       int             `json:"pending_payouts"`
}

type voteView struct {
	VoteID          string          `json:"vote_id"`
	BattleID        string          `json:"battle_id"`
	VoterID         string          `json:"voter_id"`
	Side            string          `json:"side"`
	Stake           int64           `json:"stake"`
	LockedOdds      decimal.Decimal `json:"locked_odds"`
	PotentialPayout decimal.Decimal `json:"potential_payout"`
	AcceptedAt      int64           `json:"accepted_at"`
	Status          string          `json:"status"`
	PoolA           int64           `json:"pool_a,omitempty"`
	PoolB           int64           `json:"pool_b,omitempty"`
	TotalPool       int64           `json:"total_pool,omitempty"`
	VoterCount      int             `json:"voter_count,omitempty"`
}

func toVoteView(v domain.Vote) voteView {
	return voteView{
		VoteID:          v.VoteID,
		BattleID:        v.BattleID,
		VoterID:         v.VoterID,
		Side:            string(v.Side),
		Stake:           v.Stake,
		LockedOdds:      v.LockedOdds,
		PotentialPayout: v.PotentialPayout,
		AcceptedAt:      v.AcceptedAt,
		Status:          string(v.Status),
	}
}

type tickView struct {
	Changed        bool   `json:"changed"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
	Reason         string `json:"reason,omitempty"`
	TimeRemaining  int    `json:"time_remaining"`
	FailedPayouts  int    `json:"failed_payouts"`
	PayoutErrorMsg string `json:"payout_error,omitempty"`
}

func toCreatorView(c wagering.CreatorView) creatorView {
	return creatorView{
		ID:           c.ID,
		Name:         c.Name,
		AvatarURL:    c.AvatarURL,
		CurrentScore: c.CurrentScore,
		IsLeading:    c.IsLeading,
	}
}

func toBattleView(s wagering.DisplayState) battleView {
	return battleView{
		BattleID:             s.BattleID,
		Phase:                string(s.Phase),
		TimeRemainingSeconds: s.TimeRemainingSeconds,
		CreatorA:             toCreatorView(s.CreatorA),
		CreatorB:             toCreatorView(s.CreatorB),
		PoolA:                s.PoolA,
		PoolB:                s.PoolB,
		TotalPool:            s.TotalPool,
		VoterCount:           s.VoterCount,
		OddsA:                s.OddsA,
		OddsB:                s.OddsB,
		ScoresFrozen:         s.ScoresFrozen,
		Aborted:              s.Aborted,
		Outcome:              string(s.Outcome),
		PendingPayouts:       s.PendingPayouts,
	}
}

// --- handlers ---

func (h *handler) health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok", "active_battles": len(h.engine.ActiveBattles())})
}

func (h *handler) listBattles(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"active": h.engine.ActiveBattles()})
}

func (h *handler) startBattle(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	state, err := h.engine.StartBattle(c.Request.Context(), wagering.StartRequest{
		BattleID:        req.BattleID,
		CreatorA:        domain.Creator{ID: req.CreatorA.ID, Name: req.CreatorA.Name, AvatarURL: req.CreatorA.AvatarURL},
		CreatorB:        domain.Creator{ID: req.CreatorB.ID, Name: req.CreatorB.Name, AvatarURL: req.CreatorB.AvatarURL},
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusCreated, toBattleView(state))
}

func (h *handler) getBattle(c *gin.Context) {
	state, err := h.engine.DisplayState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, http.StatusOK, toBattleView(state))
}

func (h *handler) placeVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(c, err)
		return
	}

	receipt, err := h.engine.PlaceVote(c.Request.Context(), c.Param("id"), req.VoterID, side, req.Stake)
	if err != nil {
		writeError(c, err)
		return
	}
	view := toVoteView(receipt.Vote)
	p := receipt.Pool
	view.PoolA, view.PoolB, view.TotalPool, view.VoterCount = p.PoolA, p.PoolB, p.TotalPool, p.VoterCount
	ok(c, http.StatusCreated, view)
}

// getVote devuelve el voto vigente de un votante con su cuota fijada.
func (h *handler) getVote(c *gin.Context) {
	vote, found, err := h.engine.VoteOf(c.Param("id"), c.Param("voter"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		fail(c, http.StatusNotFound, codeNotFound, "no vote for voter "+c.Param("voter"))
		return
	}
	ok(c, http.StatusOK, toVoteView(vote))
}

// tick responde 200 aunque fallen créditos: la transición ya ocurrió.
func (h *handler) tick(c *gin.Context) {
	id := c.Param("id")
	change, err := h.engine.Tick(c.Request.Context(), id)

	var view tickView
	if err != nil {
		pe, isPayout := asPayoutError(err)
		if !isPayout {
			writeError(c, err)
			return
		}
		view.FailedPayouts = len(pe.Failed)
		view.PayoutErrorMsg = pe.Error()
	}
	if change != nil {
		view.Changed = true
		view.From = string(change.From)
		view.To = string(change.To)
		view.Reason = change.Reason
		view.TimeRemaining = change.TimeRemainingSeconds
	} else if state, err := h.engine.DisplayState(c.Request.Context(), id); err == nil {
		view.TimeRemaining = state.TimeRemainingSeconds
	}
	ok(c, http.StatusOK, view)
}

func (h *handler) forceEnd(c *gin.Context) {
	h.endWith(c, h.engine.ForceEnd)
}

func (h *handler) abort(c *gin.Context) {
	h.endWith(c, h.engine.AbortBattle)
}

func (h *handler) endWith(c *gin.Context, fn func(ctx context.Context, battleID, reason string) error) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
			return
		}
	}
	id := c.Param("id")
	if err := fn(c.Request.Context(), id, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	h.getBattle(c)
}

func (h *handler) retryPayouts(c *gin.Context) {
	if err := h.engine.RetryFailedPayouts(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	h.getBattle(c)
}

func asPayoutError(err error) (*wagering.PayoutError, bool) {
	var pe *wagering.PayoutError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
