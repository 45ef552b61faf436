package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

// Códigos de error no asociados a un rechazo de voto.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeNotFound       = "NOT_FOUND"
	codeConflict       = "CONFLICT"
	codePayoutFailed   = "PAYOUT_FAILED"
	codeInternal       = "INTERNAL"
)

type successResponse struct {
	StatusCode int  `json:"status_code"`
	IsSuccess  bool `json:"is_success"`
	Data       any  `json:"data"`
}

type errorDetail struct {
	Timestamp    string `json:"timestamp"`
	Path         string `json:"path"`
	ErrorMessage string `json:"error_message"`
	ErrorCode    string `json:"error_code"`
}

type errorResponse struct {
	StatusCode int         `json:"status_code"`
	IsSuccess  bool        `json:"is_success"`
	Error      errorDetail `json:"error"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, successResponse{StatusCode: status, IsSuccess: true, Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, errorResponse{
		StatusCode: status,
		IsSuccess:  false,
		Error: errorDetail{
			Timestamp:    time.Now().Format(time.RFC3339),
			Path:         c.Request.URL.Path,
			ErrorMessage: msg,
			ErrorCode:    code,
		},
	})
}

// writeError traduce un error del engine al status HTTP correspondiente.
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	fail(c, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	if code, isVote := domain.VoteErrorCodeOf(err); isVote {
		switch code {
		case domain.CodePhaseClosed, domain.CodeDuplicateVote:
			return http.StatusConflict, string(code)
		case domain.CodeInvalidStake:
			return http.StatusUnprocessableEntity, string(code)
		case domain.CodeDebitFailed:
			return http.StatusPaymentRequired, string(code)
		}
	}
	switch {
	case errors.Is(err, domain.ErrBattleNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrBattleExists),
		errors.Is(err, domain.ErrBattleSettled),
		errors.Is(err, wagering.ErrNotSettled):
		return http.StatusConflict, codeConflict
	case errors.Is(err, domain.ErrInvalidBattle),
		errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrInvalidVoter):
		return http.StatusBadRequest, codeInvalidRequest
	case wagering.IsPayoutError(err):
		return http.StatusBadGateway, codePayoutFailed
	}
	return http.StatusInternalServerError, codeInternal
}
