package ledger

import "errors"

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidRate            = errors.New("invalid interest rate")
	ErrDivisionByZero         = errors.New("period count must be positive")
	ErrInvalidStateTransition = errors.New("invalid loan state transition")
	ErrActiveLoanExists       = errors.New("client already has an open loan")
	ErrInvalidWorker          = errors.New("worker does not exist")
)
