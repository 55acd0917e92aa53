package pool

import (
	"math/big"
	"time"

	"creditpool/credit"
)

const maxBps = 10_000

// EnablePool opens the pool for deposits, withdrawals and new credit.
func (p *Pool) EnablePool(admin [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("enable_pool", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	if !p.cfg.PoolOn {
		p.cfg.PoolOn = true
		p.emit(newToggleEvent(eventTypeEnabled))
		p.logInfo("pool enabled", "admin", hexAddr(admin))
	}
	return nil
}

// DisablePool halts deposits, withdrawals and new credit. Existing credit
// lines keep accruing and can still be repaid or defaulted.
func (p *Pool) DisablePool(admin [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("disable_pool", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	if p.cfg.PoolOn {
		p.cfg.PoolOn = false
		p.emit(newToggleEvent(eventTypeDisabled))
		p.logInfo("pool disabled", "admin", hexAddr(admin))
	}
	return nil
}

// SetMinMaxBorrowAmount replaces the borrow size bounds. Both must be
// positive and max must not be below min.
func (p *Pool) SetMinMaxBorrowAmount(admin [20]byte, min, max *big.Int) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("set_borrow_bounds", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	if min == nil || max == nil || min.Sign() <= 0 || max.Cmp(min) < 0 {
		return errBadBorrowBounds
	}
	p.cfg.MinBorrowAmount = new(big.Int).Set(min)
	p.cfg.MaxBorrowAmount = new(big.Int).Set(max)
	p.logInfo("borrow bounds updated", "min", min.String(), "max", max.String())
	return nil
}

// SetFees replaces the full fee schedule. The platform fee rate must cover
// the protocol treasury cut so the pool's share of every drawdown fee stays
// non-negative.
func (p *Pool) SetFees(admin [20]byte, sched credit.FeeSchedule) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("set_fees", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	if sched.PlatformBps > maxBps || sched.LateBps > maxBps || sched.EarlyPayoffBps > maxBps {
		return errBpsOutOfRange
	}
	for _, flat := range []*big.Int{sched.PlatformFlat, sched.LateFlat, sched.EarlyPayoffFlat} {
		if flat == nil || flat.Sign() < 0 {
			return errInvalidAmount
		}
	}
	if p.oracle != nil && sched.PlatformBps < p.oracle.TreasuryFeeBps() {
		return errFeeOrdering
	}
	p.cfg.PlatformFeeFlat = new(big.Int).Set(sched.PlatformFlat)
	p.cfg.PlatformFeeBps = sched.PlatformBps
	p.cfg.LateFeeFlat = new(big.Int).Set(sched.LateFlat)
	p.cfg.LateFeeBps = sched.LateBps
	p.cfg.EarlyPayoffFeeFlat = new(big.Int).Set(sched.EarlyPayoffFlat)
	p.cfg.EarlyPayoffFeeBps = sched.EarlyPayoffBps
	p.logInfo("fee schedule updated", "platformBps", sched.PlatformBps, "lateBps", sched.LateBps, "earlyPayoffBps", sched.EarlyPayoffBps)
	return nil
}

// SetPoolLiquidityCap replaces the total principal cap. Zero removes the cap.
func (p *Pool) SetPoolLiquidityCap(admin [20]byte, cap *big.Int) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("set_liquidity_cap", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	if cap == nil || cap.Sign() < 0 {
		return errInvalidAmount
	}
	p.cfg.LiquidityCap = new(big.Int).Set(cap)
	p.logInfo("liquidity cap updated", "cap", cap.String())
	return nil
}

// SetPoolDefaultGracePeriod replaces the per-pool grace window applied
// before a missed payment can be declared a default.
func (p *Pool) SetPoolDefaultGracePeriod(admin [20]byte, seconds uint64) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("set_grace_period", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	p.cfg.DefaultGraceSeconds = seconds
	p.logInfo("default grace period updated", "seconds", seconds)
	return nil
}

// SetWithdrawalLockoutPeriod replaces the lockout applied after each
// deposit before principal can be withdrawn.
func (p *Pool) SetWithdrawalLockoutPeriod(admin [20]byte, seconds uint64) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("set_withdrawal_lockout", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	p.cfg.WithdrawalLockoutSeconds = seconds
	p.logInfo("withdrawal lockout updated", "seconds", seconds)
	return nil
}

// AddCreditApprover grants approver rights locally, in addition to any
// approvers the external authorization oracle recognizes.
func (p *Pool) AddCreditApprover(admin, approver [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("add_approver", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	p.approvers[approver] = struct{}{}
	p.logInfo("credit approver added", "approver", hexAddr(approver))
	return nil
}

// RemoveCreditApprover revokes locally granted approver rights. Approvers
// recognized by the external oracle are unaffected.
func (p *Pool) RemoveCreditApprover(admin, approver [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("remove_approver", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	delete(p.approvers, approver)
	p.logInfo("credit approver removed", "approver", hexAddr(approver))
	return nil
}
