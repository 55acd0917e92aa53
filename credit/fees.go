package credit

import "math/big"

// Fee and interest computations are pure functions over the data model. All
// arithmetic is integer with explicit floor division; residuals from splits
// are assigned to pool income, never dropped.

const monthsPerYear = 12

var (
	basisPoints = big.NewInt(10_000)
	// aprDivisor converts an annual basis-point rate into a monthly rate:
	// 10_000 bps times 12 months.
	aprDivisor = big.NewInt(10_000 * monthsPerYear)
	ray        = mustBigInt("1000000000000000000000000000") // 1e27 precision
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// FeeSchedule groups the pool-level fee parameters read by the engine.
type FeeSchedule struct {
	PlatformFlat    *big.Int
	PlatformBps     uint64
	LateFlat        *big.Int
	LateBps         uint64
	EarlyPayoffFlat *big.Int
	EarlyPayoffBps  uint64
}

// ProceedsSplit is the exact three-way decomposition of a drawdown amount.
// Borrower + Protocol + PoolIncome always equals the drawdown amount.
type ProceedsSplit struct {
	Borrower   *big.Int
	Protocol   *big.Int
	PoolIncome *big.Int
}

// PaymentBreakdown apportions a tendered payment across principal, interest
// and fees, and carries the policy flags the engine acts on.
type PaymentBreakdown struct {
	Principal *big.Int
	Interest  *big.Int
	Fees      *big.Int
	Late      bool
	// Sufficient is false when the tendered amount is below the minimum
	// required installment; short payments are rejected, never partially
	// applied.
	Sufficient bool
	Payoff     bool
}

// Total returns principal + interest + fees, the amount pulled from the
// borrower when the payment is accepted.
func (b *PaymentBreakdown) Total() *big.Int {
	total := new(big.Int).Add(b.Principal, b.Interest)
	return total.Add(total, b.Fees)
}

// monthlyInterest computes one interval's interest charge on the balance:
// balance * aprBps / (10_000 * 12), floored.
func monthlyInterest(balance *big.Int, aprBps uint64) *big.Int {
	if balance == nil || balance.Sign() <= 0 || aprBps == 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(balance, new(big.Int).SetUint64(aprBps))
	return interest.Quo(interest, aprDivisor)
}

// bpsShare computes amount * bps / 10_000, floored.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// RecurringPayment computes the installment due each interval for the record.
// For interest-only schedules this is one interval's interest; for amortized
// schedules it is the level annuity payment over the remaining installments.
// With exactly one payment remaining the installment is the full remaining
// balance plus its final interest charge, so the last payment always closes
// the line.
func RecurringPayment(rec *CreditRecord) (*big.Int, error) {
	if rec == nil {
		return nil, errNilRecord
	}
	if !rec.Schedule.Valid() {
		return nil, errInvalidSchedule
	}
	balance := rec.Balance
	if balance == nil || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if rec.RemainingPayments <= 1 {
		return new(big.Int).Add(balance, monthlyInterest(balance, rec.AprBps)), nil
	}
	switch rec.Schedule {
	case ScheduleInterestOnly:
		return monthlyInterest(balance, rec.AprBps), nil
	default:
		return amortizedInstallment(balance, rec.AprBps, rec.RemainingPayments), nil
	}
}

// amortizedInstallment computes the level payment P*r*(1+r)^n / ((1+r)^n - 1)
// with the monthly rate r held in ray (1e27) fixed point.
func amortizedInstallment(balance *big.Int, aprBps uint64, n uint32) *big.Int {
	if n == 0 {
		return big.NewInt(0)
	}
	r := monthlyRateRay(aprBps)
	if r.Sign() == 0 {
		return new(big.Int).Quo(balance, new(big.Int).SetUint64(uint64(n)))
	}
	onePlus := new(big.Int).Add(ray, r)
	factor := rayPow(onePlus, n)
	num := new(big.Int).Mul(balance, rayMul(r, factor))
	den := new(big.Int).Sub(factor, ray)
	if den.Sign() <= 0 {
		return new(big.Int).Quo(balance, new(big.Int).SetUint64(uint64(n)))
	}
	return num.Quo(num, den)
}

func monthlyRateRay(aprBps uint64) *big.Int {
	rate := new(big.Int).Mul(ray, new(big.Int).SetUint64(aprBps))
	return rate.Quo(rate, aprDivisor)
}

func rayMul(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, ray)
}

func rayPow(base *big.Int, exp uint32) *big.Int {
	result := new(big.Int).Set(ray)
	factor := new(big.Int).Set(base)
	for exp > 0 {
		if exp&1 == 1 {
			result = rayMul(result, factor)
		}
		exp >>= 1
		if exp > 0 {
			factor = rayMul(factor, factor)
		}
	}
	return result
}

// SplitProceeds decomposes a drawdown into the net amount delivered to the
// borrower, the protocol treasury fee and the platform fee retained as pool
// income. The decomposition is exact: integer division remainders land in
// PoolIncome by construction.
func SplitProceeds(amount *big.Int, sched FeeSchedule, protocolFeeBps uint64) (*ProceedsSplit, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	totalFee := bpsShare(amount, sched.PlatformBps)
	if sched.PlatformFlat != nil {
		totalFee.Add(totalFee, sched.PlatformFlat)
	}
	if totalFee.Cmp(amount) > 0 {
		return nil, errFeeExceedsAmount
	}
	protocolFee := bpsShare(amount, protocolFeeBps)
	if protocolFee.Cmp(totalFee) > 0 {
		return nil, errProtocolFeeAboveTotal
	}
	split := &ProceedsSplit{
		Borrower:   new(big.Int).Sub(amount, totalFee),
		Protocol:   protocolFee,
		PoolIncome: new(big.Int).Sub(totalFee, protocolFee),
	}
	return split, nil
}

// NextPayment decides how a tendered amount is apportioned against the
// record's current obligation at the supplied time.
func NextPayment(rec *CreditRecord, sched FeeSchedule, now int64, amount *big.Int) (*PaymentBreakdown, error) {
	if rec == nil {
		return nil, errNilRecord
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	balance := cloneBigInt(rec.Balance)
	interest := monthlyInterest(balance, rec.AprBps)

	breakdown := &PaymentBreakdown{
		Principal: big.NewInt(0),
		Interest:  interest,
		Fees:      big.NewInt(0),
	}
	if rec.DueDate > 0 && now > rec.DueDate {
		breakdown.Late = true
		breakdown.Fees = bpsShare(balance, sched.LateBps)
		if sched.LateFlat != nil {
			breakdown.Fees.Add(breakdown.Fees, sched.LateFlat)
		}
	}

	payoffTotal := new(big.Int).Add(balance, interest)
	payoffTotal.Add(payoffTotal, breakdown.Fees)
	if amount.Cmp(payoffTotal) >= 0 {
		breakdown.Principal = balance
		breakdown.Sufficient = true
		breakdown.Payoff = true
		return breakdown, nil
	}

	required := new(big.Int).Add(cloneBigInt(rec.DueAmount), breakdown.Fees)
	if amount.Cmp(required) < 0 {
		return breakdown, nil
	}
	breakdown.Sufficient = true
	if rec.RemainingPayments == 1 {
		// The final installment always retires the full balance.
		breakdown.Principal = balance
		breakdown.Payoff = true
		return breakdown, nil
	}
	principal := new(big.Int).Sub(cloneBigInt(rec.DueAmount), interest)
	if principal.Sign() < 0 {
		principal = big.NewInt(0)
	}
	if principal.Cmp(balance) > 0 {
		principal = new(big.Int).Set(balance)
	}
	breakdown.Principal = principal
	return breakdown, nil
}

// EarlyPayoffFee computes the fee charged when a borrower retires the line
// ahead of schedule: flat component plus basis points on the outstanding
// balance.
func EarlyPayoffFee(balance *big.Int, sched FeeSchedule) *big.Int {
	fee := bpsShare(balance, sched.EarlyPayoffBps)
	if sched.EarlyPayoffFlat != nil {
		fee.Add(fee, sched.EarlyPayoffFlat)
	}
	return fee
}
