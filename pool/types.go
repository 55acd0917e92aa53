package pool

import (
	"errors"
	"fmt"
	"math/big"

	"creditpool/credit"
	"creditpool/distribution"
)

// LenderInfo tracks one lender's principal position. Share balances live in
// the distribution ledger; this row carries the principal and the timestamps
// that gate withdrawal lockout.
type LenderInfo struct {
	Address [20]byte
	// Principal is the amount currently deposited, excluding income/losses.
	Principal *big.Int
	// WeightedDepositDate is the time-weighted average deposit timestamp,
	// recomputed incrementally on each deposit. Monotonically non-decreasing
	// under pure deposits.
	WeightedDepositDate int64
	// LastDepositAt is the timestamp of the most recent deposit.
	LastDepositAt int64
}

// Clone returns a deep copy of the lender info.
func (l *LenderInfo) Clone() *LenderInfo {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	return &clone
}

// State is the durable backend for the pool: credit records and collateral
// for the engine, lender rows and the distribution snapshot for the liquidity
// side.
type State interface {
	GetCreditRecord(borrower [20]byte) (*credit.CreditRecord, error)
	PutCreditRecord(*credit.CreditRecord) error
	GetCollateralInfo(borrower [20]byte) (*credit.CollateralInfo, error)
	PutCollateralInfo(*credit.CollateralInfo) error

	GetLenderInfo(lender [20]byte) (*LenderInfo, error)
	PutLenderInfo(*LenderInfo) error
	ListLenders() ([]*LenderInfo, error)

	GetDistributionSnapshot() (*distribution.Snapshot, error)
	PutDistributionSnapshot(*distribution.Snapshot) error
}

var (
	errNilState    = errors.New("liquidity pool: state not configured")
	errNilTransfer = errors.New("liquidity pool: transfer service not configured")
	errNilConfig   = errors.New("liquidity pool: config not set")

	errPoolOff               = precondition("pool disabled")
	errUnauthorized          = precondition("caller not authorized")
	errInvalidAmount         = precondition("amount must be positive")
	errCapExceeded           = precondition("deposit exceeds pool liquidity cap")
	errLockoutActive         = precondition("withdrawal lockout has not elapsed")
	errInsufficientPrincipal = precondition("withdrawal exceeds principal balance")
	errUnknownLender         = precondition("no deposit recorded for lender")
	errFeeOrdering           = precondition("platform fee must exceed protocol fee")
	errBadBorrowBounds       = precondition("min borrow must be positive and not above max")
	errBpsOutOfRange         = precondition("basis points above 10000")
	errDecimalsUnsupported   = precondition("asset decimals above 18")

	errAmountTooWide = fmt.Errorf("liquidity pool: amount: %w", credit.ErrOverflow)
)

func precondition(msg string) error {
	return fmt.Errorf("liquidity pool: %s: %w", msg, credit.ErrPrecondition)
}

func transferFailed(err error) error {
	return fmt.Errorf("liquidity pool: %w: %s", credit.ErrTransferFailed, err)
}
