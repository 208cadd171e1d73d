package lottery

import (
	"errors"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/bank"
)

// ContractError is a rejection the caller can act on. Code is stable and
// safe to expose; callers match with errors.Is against the sentinels below.
type ContractError struct {
	Code    string
	Message string
}

func (e *ContractError) Error() string {
	return e.Message
}

var (
	ErrUnauthorized             = &ContractError{Code: "unauthorized", Message: "unauthorized"}
	ErrInvalidFunds             = &ContractError{Code: "invalid_funds", Message: "invalid funds"}
	ErrPaused                   = &ContractError{Code: "paused", Message: "contract is paused"}
	ErrRoundNotEnded            = &ContractError{Code: "round_not_ended", Message: "round not ended yet"}
	ErrNoParticipants           = &ContractError{Code: "no_participants", Message: "no participants in this round"}
	ErrInsufficientParticipants = &ContractError{Code: "insufficient_participants", Message: "not enough tickets to draw distinct winners"}
	ErrParticipantNotFound      = &ContractError{Code: "participant_not_found", Message: "participant not found"}
	ErrRoundNotFound            = &ContractError{Code: "round_not_found", Message: "round not found"}
	ErrInvalidAddress           = &ContractError{Code: "invalid_address", Message: "invalid address"}
	ErrInvalidConfig            = &ContractError{Code: "invalid_config", Message: "invalid configuration"}
	ErrAlreadyInitialized       = &ContractError{Code: "already_initialized", Message: "contract already initialized"}
	ErrNotInitialized           = &ContractError{Code: "not_initialized", Message: "contract not initialized"}
	ErrHistoryExists            = &ContractError{Code: "history_exists", Message: "winners already recorded for round"}
	ErrUnknownMessage           = &ContractError{Code: "unknown_message", Message: "unknown message"}
)

// Codes for failures that do not originate in this package.
const (
	CodeInsufficientFunds = "insufficient_funds"
	CodeConflict          = "conflict"
	CodeInternal          = "internal"
)

// ErrorCode flattens err to a stable string code.
func ErrorCode(err error) string {
	var ce *ContractError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, bank.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, storage.ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}
