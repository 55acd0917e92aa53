package pool

import (
	"math/big"
	"time"

	"creditpool/credit"
)

// RequestCredit opens (or idempotently re-reads) a pending credit line for
// the borrower.
func (p *Pool) RequestCredit(borrower [20]byte, limit *big.Int, intervalDays, numPayments uint32, schedule credit.PaymentSchedule) (rec *credit.CreditRecord, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("request_credit", started, err) }()
	rec, err = p.engine.RequestCredit(borrower, limit, intervalDays, numPayments, schedule)
	if err == nil {
		p.logInfo("credit requested", "borrower", hexAddr(borrower), "limit", limit.String())
	}
	return rec, err
}

// ApproveCredit moves a requested credit line to approved.
func (p *Pool) ApproveCredit(approver, borrower [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("approve_credit", started, err) }()
	if err = p.engine.ApproveCredit(approver, borrower); err == nil {
		p.logInfo("credit approved", "approver", hexAddr(approver), "borrower", hexAddr(borrower))
	}
	return err
}

// InvalidateApprovedCredit cancels an approved but undrawn credit line.
func (p *Pool) InvalidateApprovedCredit(approver, borrower [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("invalidate_credit", started, err) }()
	if err = p.engine.InvalidateApprovedCredit(approver, borrower); err == nil {
		p.logInfo("credit invalidated", "approver", hexAddr(approver), "borrower", hexAddr(borrower))
	}
	return err
}

// Drawdown disburses credit to the borrower, collects the platform fee and
// routes the pool's fee share into the distribution ledger.
func (p *Pool) Drawdown(caller, borrower [20]byte, amount *big.Int, collateral *credit.Collateral) (split *credit.ProceedsSplit, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("drawdown", started, err) }()
	split, err = p.engine.Drawdown(caller, borrower, amount, collateral)
	if err == nil {
		p.logInfo("credit drawdown", "borrower", hexAddr(borrower), "amount", amount.String(), "disbursed", split.Borrower.String())
	}
	return split, err
}

// MakePayment applies a scheduled payment against the borrower's balance.
func (p *Pool) MakePayment(borrower, asset [20]byte, amount *big.Int) (breakdown *credit.PaymentBreakdown, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("make_payment", started, err) }()
	breakdown, err = p.engine.MakePayment(borrower, asset, amount)
	if err == nil {
		p.logInfo("credit payment", "borrower", hexAddr(borrower), "amount", amount.String(), "payoff", breakdown.Payoff)
	}
	return breakdown, err
}

// Payoff retires the borrower's full balance ahead of schedule.
func (p *Pool) Payoff(borrower, asset [20]byte, amount *big.Int) (breakdown *credit.PaymentBreakdown, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("payoff", started, err) }()
	breakdown, err = p.engine.Payoff(borrower, asset, amount)
	if err == nil {
		p.logInfo("credit payoff", "borrower", hexAddr(borrower), "amount", amount.String())
	}
	return breakdown, err
}

// TriggerDefault declares a past-due credit line defaulted and books the
// outstanding balance as a pool loss. It returns the defaulted balance.
func (p *Pool) TriggerDefault(borrower [20]byte) (balance *big.Int, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("trigger_default", started, err) }()
	balance, err = p.engine.TriggerDefault(borrower)
	if err == nil {
		p.logInfo("credit defaulted", "borrower", hexAddr(borrower), "balance", balance.String())
	}
	return balance, err
}

// CloseDefaulted clears a defaulted record once recovery is complete,
// letting the borrower request credit again.
func (p *Pool) CloseDefaulted(approver, borrower [20]byte) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("close_defaulted", started, err) }()
	if err = p.engine.CloseDefaulted(approver, borrower); err == nil {
		p.logInfo("defaulted credit closed", "approver", hexAddr(approver), "borrower", hexAddr(borrower))
	}
	return err
}
