package credit

import "math/big"

// CreditState tracks a borrower's position in the credit lifecycle.
type CreditState uint8

const (
	// CreditDeleted is both the initial state (no live line) and the
	// terminal state after full payoff or post-default closure. The record
	// row is retained as an empty terminal row, never physically removed.
	CreditDeleted CreditState = iota
	CreditRequested
	CreditApproved
	CreditActive
	CreditDefaulted
)

// Valid reports whether the state value is within the supported range.
func (s CreditState) Valid() bool {
	switch s {
	case CreditDeleted, CreditRequested, CreditApproved, CreditActive, CreditDefaulted:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name for the state.
func (s CreditState) String() string {
	switch s {
	case CreditDeleted:
		return "deleted"
	case CreditRequested:
		return "requested"
	case CreditApproved:
		return "approved"
	case CreditActive:
		return "active"
	case CreditDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// PaymentSchedule selects how recurring installments are computed.
type PaymentSchedule uint8

const (
	// ScheduleInterestOnly charges interest each interval and the full
	// principal with the final installment.
	ScheduleInterestOnly PaymentSchedule = iota
	// ScheduleAmortized charges a level installment covering interest plus
	// amortized principal over the remaining payments.
	ScheduleAmortized
)

// Valid reports whether the schedule option is supported.
func (p PaymentSchedule) Valid() bool {
	return p == ScheduleInterestOnly || p == ScheduleAmortized
}

// CreditRecord holds the full accounting state for one borrower's credit
// line. Amount fields are denominated in the smallest unit of the pool asset.
type CreditRecord struct {
	Borrower [20]byte
	// CreditLimit bounds the outstanding principal the borrower may draw.
	CreditLimit *big.Int
	// Balance is the current outstanding principal. Always <= CreditLimit.
	Balance *big.Int
	// AprBps is the annualized rate in basis points, fixed at request time.
	AprBps uint64
	// Schedule selects interest-only or amortized installments.
	Schedule PaymentSchedule
	// IntervalDays is the payment cadence.
	IntervalDays uint32
	// RemainingPayments counts the installments left on the schedule.
	RemainingPayments uint32
	// DueDate is the unix timestamp of the next required payment. Zero until
	// the first drawdown.
	DueDate int64
	// DueAmount is the amount required at the next due date.
	DueAmount *big.Int
	State     CreditState
}

// Clone returns a deep copy of the record so callers can mutate the copy
// without affecting stored state.
func (r *CreditRecord) Clone() *CreditRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.CreditLimit = cloneBigInt(r.CreditLimit)
	clone.Balance = cloneBigInt(r.Balance)
	clone.DueAmount = cloneBigInt(r.DueAmount)
	return &clone
}

// Live reports whether the record represents an open credit line.
func (r *CreditRecord) Live() bool {
	return r != nil && r.State != CreditDeleted
}

// CollateralKind tags the variant carried by a collateral pledge.
type CollateralKind uint8

const (
	CollateralNone CollateralKind = iota
	// CollateralNonFungible pledges a single identifier (e.g. an NFT id).
	CollateralNonFungible
	// CollateralFungible pledges a quantity of a fungible asset.
	CollateralFungible
)

// Valid reports whether the kind is one of the supported variants.
func (k CollateralKind) Valid() bool {
	switch k {
	case CollateralNone, CollateralNonFungible, CollateralFungible:
		return true
	default:
		return false
	}
}

// Collateral describes the pledge supplied alongside a drawdown. Exactly one
// of TokenID or Amount is meaningful depending on Kind.
type Collateral struct {
	Kind    CollateralKind
	Asset   [20]byte
	TokenID *big.Int
	Amount  *big.Int
}

// CollateralInfo is the stored collateral position for a borrower. The asset
// is immutable once set: top-ups with a different asset are rejected.
type CollateralInfo struct {
	Borrower [20]byte
	Asset    [20]byte
	Kind     CollateralKind
	TokenID  *big.Int
	Amount   *big.Int
}

// Clone returns a deep copy of the collateral info.
func (c *CollateralInfo) Clone() *CollateralInfo {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TokenID = cloneBigInt(c.TokenID)
	clone.Amount = cloneBigInt(c.Amount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
