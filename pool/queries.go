package pool

import (
	"math/big"

	"creditpool/config"
	"creditpool/credit"
)

// LenderInfoOf returns a copy of the lender's bookkeeping record, or nil if
// the lender is unknown.
func (p *Pool) LenderInfoOf(lender [20]byte) (*LenderInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == nil {
		return nil, errNilState
	}
	info, err := p.state.GetLenderInfo(lender)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	return info.Clone(), nil
}

// TotalClaimableOf returns what a full withdrawal would pay the lender right
// now: principal plus accumulated income, net of accumulated losses,
// clamped at zero.
func (p *Pool) TotalClaimableOf(lender [20]byte) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == nil {
		return nil, errNilState
	}
	info, err := p.state.GetLenderInfo(lender)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Principal == nil {
		return big.NewInt(0), nil
	}
	income := p.ledger.AccumulatedIncomeOf(lender)
	loss := p.ledger.AccumulatedLossesOf(lender)
	claim := new(big.Int).Add(info.Principal, income)
	claim.Sub(claim, loss)
	if claim.Sign() < 0 {
		claim.SetInt64(0)
	}
	return claim, nil
}

// SharesOf returns the lender's current share balance.
func (p *Pool) SharesOf(lender [20]byte) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.SharesOf(lender)
}

// TotalShares returns the total shares outstanding.
func (p *Pool) TotalShares() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ledger.TotalShares()
}

// TotalPrincipal returns the sum of all lender principal on deposit.
func (p *Pool) TotalPrincipal() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.totalPrincipal)
}

// CreditRecordOf returns a copy of the borrower's credit record.
func (p *Pool) CreditRecordOf(borrower [20]byte) (*credit.CreditRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.CreditRecordOf(borrower)
}

// CollateralOf returns a copy of the collateral held for the borrower.
func (p *Pool) CollateralOf(borrower [20]byte) (*credit.CollateralInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.CollateralOf(borrower)
}

// Config returns a copy of the pool's live configuration.
func (p *Pool) Config() *config.Pool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}
