package domain

import (
	"errors"
	"fmt"
)

// VoteErrorCode es el código estable de un rechazo de voto.
type VoteErrorCode string

const (
	CodePhaseClosed   VoteErrorCode = "PHASE_CLOSED"
	CodeDuplicateVote VoteErrorCode = "DUPLICATE_VOTE"
	CodeInvalidStake  VoteErrorCode = "INVALID_STAKE"
	CodeDebitFailed   VoteErrorCode = "DEBIT_FAILED"
)

// VoteError es un rechazo de voto visible para el votante. Todos son
// recuperables y ninguno deja estado parcial.
type VoteError struct {
	Code    VoteErrorCode
	Message string
	Err     error
}

func (e *VoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *VoteError) Unwrap() error { return e.Err }

// Is compara por código, así errors.Is(err, ErrInvalidStake) funciona
// aunque el mensaje lleve el límite concreto.
func (e *VoteError) Is(target error) bool {
	t, ok := target.(*VoteError)
	return ok && t.Code == e.Code
}

var (
	ErrPhaseClosed   = &VoteError{Code: CodePhaseClosed, Message: "voting closed"}
	ErrDuplicateVote = &VoteError{Code: CodeDuplicateVote, Message: "already voted"}
	ErrInvalidStake  = &VoteError{Code: CodeInvalidStake, Message: "invalid stake"}
	ErrDebitFailed   = &VoteError{Code: CodeDebitFailed, Message: "insufficient funds or payment error"}
)

// NewInvalidStake devuelve un InvalidStake con el límite violado en el mensaje.
func NewInvalidStake(format string, args ...any) *VoteError {
	return &VoteError{Code: CodeInvalidStake, Message: fmt.Sprintf(format, args...)}
}

// NewDebitFailed envuelve el error del wallet.
func NewDebitFailed(err error) *VoteError {
	return &VoteError{Code: CodeDebitFailed, Message: ErrDebitFailed.Message, Err: err}
}

// VoteErrorCodeOf extrae el código si err es (o envuelve) un VoteError.
func VoteErrorCodeOf(err error) (VoteErrorCode, bool) {
	var ve *VoteError
	if errors.As(err, &ve) {
		return ve.Code, true
	}
	return "", false
}

var (
	// ErrSettlementInconsistency indica un bug del caller (liquidar una sesión
	// que no está en Settled, o liquidar dos veces). Se usa con panic.
	ErrSettlementInconsistency = errors.New("settlement inconsistency")

	ErrInvalidSide    = errors.New("invalid side")
	ErrInvalidVoter   = errors.New("invalid voter")
	ErrInvalidBattle  = errors.New("invalid battle")
	ErrBattleNotFound = errors.New("battle not found")
	ErrBattleExists   = errors.New("battle already exists")
	ErrBattleSettled  = errors.New("battle already settled")
)
