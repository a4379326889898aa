package core

import "errors"

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// Settlement error taxonomy. Handlers wrap these with context; callers match
// them with errors.Is or map them to wire codes with Code.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionClosed        = errors.New("session closed")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrReplayDetected       = errors.New("replay detected")
	ErrDisputeWindowExpired = errors.New("dispute window expired")
	ErrAlreadyExists        = errors.New("already exists")
	ErrAlreadyClaimed       = errors.New("already claimed")
	ErrInvalidParams        = errors.New("invalid params")
	ErrMaintenanceMode      = errors.New("maintenance mode")
	ErrRewardNotFound       = errors.New("reward not set")
	ErrInsufficientBalance  = errors.New("insufficient balance")
)

// Stable codes carried by receipts and RPC errors.
const (
	CodeOK                   = "Ok"
	CodeUnauthorized         = "Unauthorized"
	CodeSessionNotFound      = "SessionNotFound"
	CodeSessionClosed        = "SessionClosed"
	CodeInvalidSignature     = "InvalidSignature"
	CodeReplayDetected       = "ReplayDetected"
	CodeDisputeWindowExpired = "DisputeWindowExpired"
	CodeAlreadyExists        = "AlreadyExists"
	CodeAlreadyClaimed       = "AlreadyClaimed"
	CodeInvalidParams        = "InvalidParams"
	CodeMaintenanceMode      = "MaintenanceMode"
	CodeRewardNotFound       = "RewardNotFound"
	CodeInsufficientBalance  = "InsufficientBalance"
	CodeInternal             = "Internal"
)

var codeTable = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSessionClosed, CodeSessionClosed},
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrReplayDetected, CodeReplayDetected},
	{ErrDisputeWindowExpired, CodeDisputeWindowExpired},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrAlreadyClaimed, CodeAlreadyClaimed},
	{ErrInvalidParams, CodeInvalidParams},
	{ErrMaintenanceMode, CodeMaintenanceMode},
	{ErrRewardNotFound, CodeRewardNotFound},
	{ErrInsufficientBalance, CodeInsufficientBalance},
}

// Code returns the stable code for err. Errors outside the taxonomy map to
// CodeInternal.
func Code(err error) string {
	if err == nil {
		return CodeOK
	}
	for _, c := range codeTable {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode is the inverse of Code. Unknown codes return nil.
func ErrorForCode(code string) error {
	for _, c := range codeTable {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// Retryable reports whether resubmitting after err can succeed. A replayed
// result is already settled, so resubmission is meaningless.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrReplayDetected)
}
