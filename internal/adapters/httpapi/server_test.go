package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/battlewager/internal/adapters/httpapi"
	"github.com/alejandrodnm/battlewager/internal/adapters/scorefeed"
	"github.com/alejandrodnm/battlewager/internal/adapters/wallet"
	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

type envelope struct {
	StatusCode int             `json:"status_code"`
	IsSuccess  bool            `json:"is_success"`
	Data       json.RawMessage `json:"data"`
	Error      struct {
		ErrorMessage string `json:"error_message"`
		ErrorCode    string `json:"error_code"`
	} `json:"error"`
}

type apiFixture struct {
	handler http.Handler
	wallet  *wallet.MemoryWallet
	feed    *scorefeed.MemoryFeed
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := wallet.NewMemoryWallet(decimal.NewFromInt(1_000))
	feed := scorefeed.NewMemoryFeed()
	engine := wagering.New(wagering.DefaultConfig(), w, feed, nil, nil)
	return &apiFixture{handler: httpapi.NewRouter(engine), wallet: w, feed: feed}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (f *apiFixture) startBattle(t *testing.T, id string, duration int) {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/battles", map[string]any{
		"battle_id":        id,
		"creator_a":        map[string]string{"id": "ca", "name": "Ana"},
		"creator_b":        map[string]string{"id": "cb", "name": "Beto"},
		"duration_seconds": duration,
	})
	require.Equal(t, http.StatusCreated, code, env.Error.ErrorMessage)
}

func vote(voter, side string, stake int64) map[string]any {
	return map[string]any{"voter_id": voter, "side": side, "stake": stake}
}

func TestAPI_StartAndGet(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 180)

	code, env := f.do(t, http.MethodGet, "/battles/b1", nil)
	require.Equal(t, http.StatusOK, code)

	var state struct {
		Phase         string `json:"phase"`
		TimeRemaining int    `json:"time_remaining_seconds"`
		OddsA         string `json:"odds_a"`
		CreatorA      struct {
			Name string `json:"name"`
		} `json:"creator_a"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, "ACTIVE", state.Phase)
	assert.Equal(t, 180, state.TimeRemaining)
	assert.Equal(t, "2", state.OddsA)
	assert.Equal(t, "Ana", state.CreatorA.Name)
}

func TestAPI_PlaceVote(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 180)

	code, env := f.do(t, http.MethodPost, "/battles/b1/votes", vote("alice", "a", 50))
	require.Equal(t, http.StatusCreated, code, env.Error.ErrorMessage)

	var v struct {
		VoteID          string `json:"vote_id"`
		Side            string `json:"side"`
		LockedOdds      string `json:"locked_odds"`
		PotentialPayout string `json:"potential_payout"`
		TotalPool       int64  `json:"total_pool"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.NotEmpty(t, v.VoteID)
	assert.Equal(t, "A", v.Side)
	assert.Equal(t, "2", v.LockedOdds)
	assert.Equal(t, "100", v.PotentialPayout)
	assert.Equal(t, int64(50), v.TotalPool)

	bal, err := f.wallet.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(950).Equal(bal))
}

func TestAPI_GetVote(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 180)
	code, _ := f.do(t, http.MethodPost, "/battles/b1/votes", vote("alice", "B", 40))
	require.Equal(t, http.StatusCreated, code)

	code, env := f.do(t, http.MethodGet, "/battles/b1/votes/alice", nil)
	require.Equal(t, http.StatusOK, code)
	var v struct {
		Side       string `json:"side"`
		Stake      int64  `json:"stake"`
		LockedOdds string `json:"locked_odds"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.Equal(t, "B", v.Side)
	assert.Equal(t, int64(40), v.Stake)
	assert.Equal(t, "2", v.LockedOdds)
	assert.Equal(t, "ACTIVE", v.Status)

	code, env = f.do(t, http.MethodGet, "/battles/b1/votes/bob", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.ErrorCode)

	code, _ = f.do(t, http.MethodGet, "/battles/nope/votes/alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_VoteErrorStatuses(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 180)
	code, _ := f.do(t, http.MethodPost, "/battles/b1/votes", vote("alice", "A", 50))
	require.Equal(t, http.StatusCreated, code)

	cases := []struct {
		name     string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"duplicate", "/battles/b1/votes", vote("alice", "B", 50), http.StatusConflict, "DUPLICATE_VOTE"},
		{"below minimum", "/battles/b1/votes", vote("bob", "A", 1), http.StatusUnprocessableEntity, "INVALID_STAKE"},
		{"over balance", "/battles/b1/votes", vote("bob", "A", 5_000), http.StatusUnprocessableEntity, "INVALID_STAKE"},
		{"bad side", "/battles/b1/votes", vote("bob", "C", 50), http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing voter", "/battles/b1/votes", map[string]any{"side": "A", "stake": 50}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown battle", "/battles/nope/votes", vote("bob", "A", 50), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.wantCode, code)
			assert.False(t, env.IsSuccess)
			assert.Equal(t, tc.wantErr, env.Error.ErrorCode)
		})
	}
}

func TestAPI_EndClosesVoting(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 180)

	code, _ := f.do(t, http.MethodPost, "/battles/b1/end", map[string]string{"reason": "stream ended"})
	require.Equal(t, http.StatusOK, code)

	code, env := f.do(t, http.MethodPost, "/battles/b1/votes", vote("alice", "A", 50))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(domain.CodePhaseClosed), env.Error.ErrorCode)
}

func TestAPI_TickToSettlement(t *testing.T) {
	f := newAPI(t)
	ctx := context.Background()
	f.startBattle(t, "b1", 5)

	code, _ := f.do(t, http.MethodPost, "/battles/b1/votes", vote("alice", "B", 100))
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, f.feed.Push(ctx, "b1", domain.SideB, 10))

	var last struct {
		Changed bool   `json:"changed"`
		To      string `json:"to"`
	}
	for i := 0; i < 20 && last.To != "SETTLED"; i++ {
		code, env := f.do(t, http.MethodPost, "/battles/b1/tick", nil)
		require.Equal(t, http.StatusOK, code)
		require.NoError(t, json.Unmarshal(env.Data, &last))
	}
	assert.Equal(t, "SETTLED", last.To)

	code, env := f.do(t, http.MethodGet, "/battles/b1", nil)
	require.Equal(t, http.StatusOK, code)
	var state struct {
		Outcome string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, "SIDE_B", state.Outcome)

	// 1000 - 100 + 200 (100 × 2.0)
	bal, _ := f.wallet.Balance(ctx, "alice")
	assert.True(t, decimal.NewFromInt(1_100).Equal(bal), bal.String())

	code, env = f.do(t, http.MethodPost, "/battles/b1/abort", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.ErrorCode)

	code, _ = f.do(t, http.MethodPost, "/battles/b1/payouts/retry", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAPI_RetryBeforeSettlement(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 60)
	code, env := f.do(t, http.MethodPost, "/battles/b1/payouts/retry", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.ErrorCode)
}

func TestAPI_StartValidation(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 60)

	code, env := f.do(t, http.MethodPost, "/battles", map[string]any{
		"battle_id":        "b1",
		"creator_a":        map[string]string{"id": "ca"},
		"creator_b":        map[string]string{"id": "cb"},
		"duration_seconds": 60,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.ErrorCode)

	code, _ = f.do(t, http.MethodPost, "/battles", map[string]any{
		"creator_a":        map[string]string{"id": "ca"},
		"creator_b":        map[string]string{"id": "ca"},
		"duration_seconds": 60,
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_Health(t *testing.T) {
	f := newAPI(t)
	f.startBattle(t, "b1", 60)
	code, env := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.IsSuccess)
	assert.Contains(t, string(env.Data), `"active_battles":1`)
}
