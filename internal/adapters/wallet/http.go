// Package wallet contiene los adapters del servicio de moneda virtual (SP).
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 200
	defaultBurst      = 50

	maxRetries    = 2
	baseRetryWait = 100 * time.Millisecond
)

// ErrInsufficientFunds es la respuesta 402 del wallet.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// HTTPConfig configura el cliente HTTP del wallet.
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// HTTPWallet implementa ports.Wallet contra el servicio de wallet por HTTP,
// con rate limiting y retries. Debit y Credit mandan la referencia como
// Idempotency-Key, así un retry nunca mueve saldo dos veces.
type HTTPWallet struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewHTTPWallet crea el cliente. Valores en cero toman los defaults.
func NewHTTPWallet(cfg HTTPConfig) *HTTPWallet {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	rps := cfg.RatePerSec
	if rps == 0 {
		rps = defaultRatePerSec
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = defaultBurst
	}
	return &HTTPWallet{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type balanceResponse struct {
	Data struct {
		Balance decimal.Decimal `json:"balance"`
	} `json:"data"`
}

type movementRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Balance consulta GET /wallet/balance?user_id=...
func (w *HTTPWallet) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/wallet/balance?user_id=%s", w.baseURL, url.QueryEscape(userID))

	var out balanceResponse
	err := w.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &out)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet.Balance %s: %w", userID, err)
	}
	return out.Data.Balance, nil
}

// Debit retira SP con POST /wallet/withdraw.
func (w *HTTPWallet) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	if err := w.move(ctx, "/wallet/withdraw", userID, amount, ref); err != nil {
		return fmt.Errorf("wallet.Debit %s: %w", userID, err)
	}
	return nil
}

// Credit abona SP con POST /wallet/deposit.
func (w *HTTPWallet) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error {
	if err := w.move(ctx, "/wallet/deposit", userID, amount, ref); err != nil {
		return fmt.Errorf("wallet.Credit %s: %w", userID, err)
	}
	return nil
}

func (w *HTTPWallet) move(ctx context.Context, path, userID string, amount decimal.Decimal, ref string) error {
	body, err := json.Marshal(movementRequest{UserID: userID, Amount: amount, Reference: ref})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return w.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Idempotency-Key", ref)
		return req, nil
	}, nil)
}

// doWithRetry ejecuta el request con backoff exponencial. Reintenta errores
// de red, 429 y 5xx; cualquier otro 4xx es definitivo. out puede ser nil.
func (w *HTTPWallet) doWithRetry(ctx context.Context, newReq func() (*http.Request, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := newReq()
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := w.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			drain(resp)
			lastErr = fmt.Errorf("server status %d", resp.StatusCode)
			slog.Debug("wallet request retry", "url", req.URL.Path, "status", resp.StatusCode, "attempt", attempt+1)
			w.sleep(ctx, attempt)
			continue
		case resp.StatusCode == http.StatusPaymentRequired:
			drain(resp)
			return ErrInsufficientFunds
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer drain(resp)
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (w *HTTPWallet) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
