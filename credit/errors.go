package credit

import (
	"errors"
	"fmt"
)

// The three error classes every failure maps onto. Callers match with
// errors.Is; the wrapped sentinel carries the specific cause.
var (
	// ErrPrecondition covers every synchronous rejection made before any
	// state is mutated.
	ErrPrecondition = errors.New("precondition failed")
	// ErrTransferFailed reports an asset-transfer collaborator failure; the
	// whole operation is aborted with no ledger mutation.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrOverflow reports a value outside the bounded width of its stored
	// field; values are rejected, never truncated.
	ErrOverflow = errors.New("amount exceeds bounded width")
)

var (
	errNilState     = errors.New("credit engine: state not configured")
	errNilRecord    = errors.New("credit engine: nil credit record")
	errNilTransfer  = errors.New("credit engine: transfer service not configured")
	errNilOracle    = errors.New("credit engine: protocol oracle not configured")
	errNilLiquidity = errors.New("credit engine: liquidity hooks not configured")
	errNilCustody   = errors.New("credit engine: collateral custody not configured")

	errProtocolPaused        = precondition("protocol paused")
	errPoolOff               = precondition("pool disabled")
	errUnauthorized          = precondition("caller not authorized")
	errDuplicateCredit       = precondition("borrower already has a live credit line")
	errNoCreditRecord        = precondition("no credit record for borrower")
	errNotApprovable         = precondition("credit line not in requested state")
	errNotApproved           = precondition("credit line not approved")
	errNotActive             = precondition("credit line not active")
	errNotDefaulted          = precondition("credit line not defaulted")
	errNoLenderShares        = precondition("no pool shares outstanding")
	errInvalidAmount         = precondition("amount must be positive")
	errBelowMinBorrow        = precondition("amount below pool minimum borrow")
	errAboveMaxBorrow        = precondition("credit limit above pool maximum borrow")
	errLimitExceeded         = precondition("drawdown exceeds available credit limit")
	errWrongAsset            = precondition("asset does not match pool asset")
	errNoRemainingPayments   = precondition("no remaining payments on schedule")
	errInvalidSchedule       = precondition("unsupported payment schedule option")
	errInvalidInterval       = precondition("payment interval must be positive")
	errInvalidPaymentCount   = precondition("payment count must be positive")
	errCollateralMismatch    = precondition("collateral asset differs from recorded asset")
	errUnsupportedCollateral = precondition("unsupported collateral kind")
	errInsufficientPayment   = precondition("payment below required installment")
	errDefaultTooEarly       = precondition("grace period has not elapsed")
	errInsufficientLiquidity = precondition("insufficient pool liquidity")
	errFeeExceedsAmount      = precondition("front-load fees exceed drawdown amount")
	errProtocolFeeAboveTotal = precondition("protocol fee exceeds platform fee")

	errIntervalTooLarge = overflow("payment interval days")
	errTooManyPayments  = overflow("payment count")
	errAmountTooWide    = overflow("amount")
)

func precondition(msg string) error {
	return fmt.Errorf("credit engine: %s: %w", msg, ErrPrecondition)
}

func overflow(field string) error {
	return fmt.Errorf("credit engine: %s: %w", field, ErrOverflow)
}

func transferFailed(err error) error {
	return fmt.Errorf("credit engine: %w: %s", ErrTransferFailed, err)
}
