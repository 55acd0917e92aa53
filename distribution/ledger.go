package distribution

import (
	"errors"
	"math/big"
)

var (
	errInvalidShares = errors.New("distribution: share amount must be positive")
	errInvalidAmount = errors.New("distribution: amount must be positive")
	errNoShares      = errors.New("distribution: no shares outstanding")
	errInsufficient  = errors.New("distribution: insufficient share balance")
	errUnknownHolder = errors.New("distribution: unknown holder")
)

// magnitude scales the points-per-share accumulators so that integer division
// losses stay below one smallest unit per holder.
var magnitude = new(big.Int).Lsh(big.NewInt(1), 128)

// Ledger tracks each holder's proportional claim on distributed pool income
// and realized losses using magnified points-per-share accumulators. Shares
// are a pure accounting unit; the ledger is the sole owner of share balances.
//
// The ledger itself is not synchronised. The owning pool serialises access.
type Ledger struct {
	totalShares    *big.Int
	incomePerShare *big.Int // magnified
	lossPerShare   *big.Int // magnified

	shares           map[[20]byte]*big.Int
	incomeCorrection map[[20]byte]*big.Int // signed
	lossCorrection   map[[20]byte]*big.Int // signed
}

// NewLedger constructs an empty distribution ledger.
func NewLedger() *Ledger {
	return &Ledger{
		totalShares:      big.NewInt(0),
		incomePerShare:   big.NewInt(0),
		lossPerShare:     big.NewInt(0),
		shares:           make(map[[20]byte]*big.Int),
		incomeCorrection: make(map[[20]byte]*big.Int),
		lossCorrection:   make(map[[20]byte]*big.Int),
	}
}

// Mint credits newly issued shares to the holder. Point corrections are
// adjusted so the new shares carry no claim on previously distributed income
// or losses.
func (l *Ledger) Mint(holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidShares
	}
	l.shares[holder] = new(big.Int).Add(l.sharesOf(holder), amount)
	l.totalShares = new(big.Int).Add(l.totalShares, amount)

	deltaIncome := new(big.Int).Mul(l.incomePerShare, amount)
	l.incomeCorrection[holder] = new(big.Int).Sub(l.correction(l.incomeCorrection, holder), deltaIncome)
	deltaLoss := new(big.Int).Mul(l.lossPerShare, amount)
	l.lossCorrection[holder] = new(big.Int).Sub(l.correction(l.lossCorrection, holder), deltaLoss)
	return nil
}

// Burn retires shares from the holder and realizes the proportional slice of
// their accumulated income and losses. The realized amounts are returned so
// the pool can settle them against the payout; the holder's remaining
// entitlement shrinks by exactly the realized slice.
func (l *Ledger) Burn(holder [20]byte, amount *big.Int) (income, loss *big.Int, err error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, errInvalidShares
	}
	held := l.sharesOf(holder)
	if held.Sign() == 0 {
		return nil, nil, errUnknownHolder
	}
	if held.Cmp(amount) < 0 {
		return nil, nil, errInsufficient
	}

	accIncome := l.AccumulatedIncomeOf(holder)
	accLoss := l.AccumulatedLossesOf(holder)
	income = new(big.Int).Mul(accIncome, amount)
	income.Quo(income, held)
	loss = new(big.Int).Mul(accLoss, amount)
	loss.Quo(loss, held)

	remaining := new(big.Int).Sub(held, amount)
	l.shares[holder] = remaining
	l.totalShares = new(big.Int).Sub(l.totalShares, amount)

	// Re-anchor the corrections so the holder keeps exactly the unrealized
	// remainder of each accumulator.
	keepIncome := new(big.Int).Sub(accIncome, income)
	l.incomeCorrection[holder] = anchorCorrection(keepIncome, l.incomePerShare, remaining)
	keepLoss := new(big.Int).Sub(accLoss, loss)
	l.lossCorrection[holder] = anchorCorrection(keepLoss, l.lossPerShare, remaining)
	return income, loss, nil
}

// DistributeIncome spreads the amount across all outstanding shares.
func (l *Ledger) DistributeIncome(amount *big.Int) error {
	return l.distribute(amount, true)
}

// DistributeLosses spreads a realized loss across all outstanding shares,
// reducing every holder's claim proportionally.
func (l *Ledger) DistributeLosses(amount *big.Int) error {
	return l.distribute(amount, false)
}

func (l *Ledger) distribute(amount *big.Int, income bool) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if l.totalShares.Sign() == 0 {
		return errNoShares
	}
	delta := new(big.Int).Mul(amount, magnitude)
	delta.Quo(delta, l.totalShares)
	if income {
		l.incomePerShare = new(big.Int).Add(l.incomePerShare, delta)
	} else {
		l.lossPerShare = new(big.Int).Add(l.lossPerShare, delta)
	}
	return nil
}

// AccumulatedIncomeOf returns the holder's unrealized share of all income
// distributed since their shares were minted. Division is floored, so the sum
// over all holders never exceeds the distributed total.
func (l *Ledger) AccumulatedIncomeOf(holder [20]byte) *big.Int {
	return accumulated(l.incomePerShare, l.sharesOf(holder), l.correction(l.incomeCorrection, holder))
}

// AccumulatedLossesOf returns the holder's unrealized share of all losses.
func (l *Ledger) AccumulatedLossesOf(holder [20]byte) *big.Int {
	return accumulated(l.lossPerShare, l.sharesOf(holder), l.correction(l.lossCorrection, holder))
}

// SharesOf returns the holder's current share balance.
func (l *Ledger) SharesOf(holder [20]byte) *big.Int {
	return new(big.Int).Set(l.sharesOf(holder))
}

// TotalShares returns the outstanding share supply.
func (l *Ledger) TotalShares() *big.Int {
	return new(big.Int).Set(l.totalShares)
}

func (l *Ledger) sharesOf(holder [20]byte) *big.Int {
	if s, ok := l.shares[holder]; ok && s != nil {
		return s
	}
	return big.NewInt(0)
}

func (l *Ledger) correction(table map[[20]byte]*big.Int, holder [20]byte) *big.Int {
	if c, ok := table[holder]; ok && c != nil {
		return c
	}
	return big.NewInt(0)
}

func accumulated(perShare, shares, correction *big.Int) *big.Int {
	points := new(big.Int).Mul(perShare, shares)
	points.Add(points, correction)
	if points.Sign() <= 0 {
		return big.NewInt(0)
	}
	return points.Quo(points, magnitude)
}

// anchorCorrection computes the correction value that pins a holder's
// accumulated entitlement to keep, given the current per-share accumulator and
// their remaining share balance.
func anchorCorrection(keep, perShare, shares *big.Int) *big.Int {
	anchored := new(big.Int).Mul(keep, magnitude)
	points := new(big.Int).Mul(perShare, shares)
	return anchored.Sub(anchored, points)
}
