package pool

import (
	"math/big"
	"time"
)

const maxAmountBits = 128

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if amount.BitLen() > maxAmountBits {
		return errAmountTooWide
	}
	return nil
}

// Deposit moves amount of the underlying asset from the lender into custody
// and mints pool shares at the normalized share scale. The lender's weighted
// deposit date shifts toward now in proportion to the new principal, and the
// withdrawal lockout restarts.
func (p *Pool) Deposit(lender [20]byte, amount *big.Int) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("deposit", started, err) }()
	if !p.cfg.PoolOn {
		return errPoolOff
	}
	return p.deposit(lender, amount)
}

// SeedDeposit is the admin bootstrap path: it deposits on behalf of a lender
// even while the pool switch is off, so liquidity can be staged before the
// pool opens.
func (p *Pool) SeedDeposit(admin, lender [20]byte, amount *big.Int) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("seed_deposit", started, err) }()
	if !p.isAdmin(admin) {
		return errUnauthorized
	}
	return p.deposit(lender, amount)
}

func (p *Pool) deposit(lender [20]byte, amount *big.Int) error {
	if p.state == nil {
		return errNilState
	}
	if p.transfer == nil {
		return errNilTransfer
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if p.cfg.LiquidityCap.Sign() > 0 {
		next := new(big.Int).Add(p.totalPrincipal, amount)
		if next.Cmp(p.cfg.LiquidityCap) > 0 {
			return errCapExceeded
		}
	}

	info, err := p.state.GetLenderInfo(lender)
	if err != nil {
		return err
	}
	if info == nil {
		info = &LenderInfo{Address: lender, Principal: big.NewInt(0)}
	} else {
		info = info.Clone()
	}

	now := p.now()
	info.WeightedDepositDate = weightedDepositDate(info, amount, now)
	shares := new(big.Int).Mul(amount, p.shareScale)

	if err := p.transfer.TransferFrom(lender, p.custodian, amount); err != nil {
		return transferFailed(err)
	}
	if err := p.ledger.Mint(lender, shares); err != nil {
		return precondition(err.Error())
	}

	info.Principal = new(big.Int).Add(info.Principal, amount)
	info.LastDepositAt = now
	p.totalPrincipal = new(big.Int).Add(p.totalPrincipal, amount)

	if err := p.state.PutLenderInfo(info); err != nil {
		return err
	}
	if err := p.persistLedger(); err != nil {
		return err
	}
	p.emit(newDepositEvent(lender, amount, shares))
	p.logInfo("pool deposit", "lender", hexAddr(lender), "amount", amount.String())
	return nil
}

// weightedDepositDate advances the lender's weighted deposit date toward now
// by the fraction the new amount contributes to the combined principal. A
// first deposit anchors it at now.
func weightedDepositDate(info *LenderInfo, amount *big.Int, now int64) int64 {
	if info.WeightedDepositDate == 0 || info.Principal.Sign() == 0 {
		return now
	}
	prev := info.WeightedDepositDate
	if now <= prev {
		return prev
	}
	total := new(big.Int).Add(info.Principal, amount)
	delta := new(big.Int).SetInt64(now - prev)
	delta.Mul(delta, amount)
	delta.Quo(delta, total)
	return prev + delta.Int64()
}

// Withdraw redeems amount of principal plus the proportional slice of
// accumulated income, net of the proportional slice of accumulated losses.
// The withdrawal lockout runs from the most recent deposit, boundary
// inclusive. It returns the amount actually paid out.
func (p *Pool) Withdraw(lender [20]byte, amount *big.Int) (payout *big.Int, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("withdraw", started, err) }()
	return p.withdraw(lender, amount)
}

// WithdrawAll redeems the lender's entire principal.
func (p *Pool) WithdrawAll(lender [20]byte) (payout *big.Int, err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("withdraw_all", started, err) }()
	if p.state == nil {
		return nil, errNilState
	}
	info, err := p.state.GetLenderInfo(lender)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Principal == nil || info.Principal.Sign() == 0 {
		return nil, errUnknownLender
	}
	return p.withdraw(lender, new(big.Int).Set(info.Principal))
}

func (p *Pool) withdraw(lender [20]byte, amount *big.Int) (*big.Int, error) {
	if p.state == nil {
		return nil, errNilState
	}
	if p.transfer == nil {
		return nil, errNilTransfer
	}
	if !p.cfg.PoolOn {
		return nil, errPoolOff
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	info, err := p.state.GetLenderInfo(lender)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Principal == nil || info.Principal.Sign() == 0 {
		return nil, errUnknownLender
	}
	info = info.Clone()
	if amount.Cmp(info.Principal) > 0 {
		return nil, errInsufficientPrincipal
	}
	now := p.now()
	if lockout := p.cfg.WithdrawalLockoutSeconds; lockout > 0 {
		unlockAt := info.LastDepositAt + int64(lockout)
		if now < unlockAt {
			return nil, errLockoutActive
		}
	}

	held := p.ledger.SharesOf(lender)
	if held.Sign() == 0 {
		return nil, errUnknownLender
	}
	var toBurn *big.Int
	if amount.Cmp(info.Principal) == 0 {
		toBurn = held
	} else {
		toBurn = new(big.Int).Mul(held, amount)
		toBurn.Quo(toBurn, info.Principal)
	}

	income, loss := previewRedemption(p, lender, held, toBurn)
	payout := new(big.Int).Add(amount, income)
	payout.Sub(payout, loss)
	if payout.Sign() < 0 {
		payout.SetInt64(0)
	}

	if payout.Sign() > 0 {
		if err := p.transfer.Transfer(p.custodian, lender, payout); err != nil {
			return nil, transferFailed(err)
		}
	}
	if _, _, err := p.ledger.Burn(lender, toBurn); err != nil {
		return nil, precondition(err.Error())
	}

	info.Principal = new(big.Int).Sub(info.Principal, amount)
	p.totalPrincipal = new(big.Int).Sub(p.totalPrincipal, amount)
	if err := p.state.PutLenderInfo(info); err != nil {
		return nil, err
	}
	if err := p.persistLedger(); err != nil {
		return nil, err
	}
	p.emit(newWithdrawEvent(lender, amount, payout, toBurn))
	p.logInfo("pool withdraw", "lender", hexAddr(lender), "amount", amount.String(), "payout", payout.String())
	return payout, nil
}

// previewRedemption computes the income and loss slices a burn of toBurn out
// of held shares will realize, matching the ledger's own floor arithmetic.
func previewRedemption(p *Pool, lender [20]byte, held, toBurn *big.Int) (*big.Int, *big.Int) {
	income := p.ledger.AccumulatedIncomeOf(lender)
	loss := p.ledger.AccumulatedLossesOf(lender)
	incomeSlice := new(big.Int).Mul(income, toBurn)
	incomeSlice.Quo(incomeSlice, held)
	lossSlice := new(big.Int).Mul(loss, toBurn)
	lossSlice.Quo(lossSlice, held)
	return incomeSlice, lossSlice
}

// DistributeIncome books amount of income pro rata across current share
// holders. The matching assets must already sit with the custodian; this
// call only moves claims.
func (p *Pool) DistributeIncome(amount *big.Int) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("distribute_income", started, err) }()
	return p.distribute(amount, true)
}

// DistributeLosses books amount of losses pro rata across current share
// holders, reducing future redemptions.
func (p *Pool) DistributeLosses(amount *big.Int) (err error) {
	started := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.observe("distribute_losses", started, err) }()
	return p.distribute(amount, false)
}

func (p *Pool) distribute(amount *big.Int, income bool) error {
	if p.state == nil {
		return errNilState
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	var err error
	if income {
		err = p.ledger.DistributeIncome(amount)
	} else {
		err = p.ledger.DistributeLosses(amount)
	}
	if err != nil {
		// Ledger rejections are preconditions of the distribution, not
		// internal faults. Keep them in the shared error taxonomy.
		return precondition(err.Error())
	}
	if err := p.persistLedger(); err != nil {
		return err
	}
	if income {
		p.emit(newDistributionEvent(eventTypeIncome, amount, p.ledger.TotalShares()))
		p.logInfo("pool income distributed", "amount", amount.String())
	} else {
		p.emit(newDistributionEvent(eventTypeLoss, amount, p.ledger.TotalShares()))
		p.logInfo("pool losses distributed", "amount", amount.String())
	}
	return nil
}

func (p *Pool) persistLedger() error {
	return p.state.PutDistributionSnapshot(p.ledger.Snapshot())
}
