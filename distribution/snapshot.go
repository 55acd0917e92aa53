package distribution

import "math/big"

// HolderSnapshot captures one holder's ledger row. Corrections are signed and
// carried verbatim so a restored ledger reproduces claims exactly.
type HolderSnapshot struct {
	Holder           [20]byte
	Shares           *big.Int
	IncomeCorrection *big.Int
	LossCorrection   *big.Int
}

// Snapshot is a point-in-time export of the full distribution ledger suitable
// for durable storage.
type Snapshot struct {
	TotalShares    *big.Int
	IncomePerShare *big.Int
	LossPerShare   *big.Int
	Holders        []HolderSnapshot
}

// Snapshot exports the ledger state. Holders with zero shares and zero
// corrections are omitted.
func (l *Ledger) Snapshot() *Snapshot {
	snap := &Snapshot{
		TotalShares:    new(big.Int).Set(l.totalShares),
		IncomePerShare: new(big.Int).Set(l.incomePerShare),
		LossPerShare:   new(big.Int).Set(l.lossPerShare),
	}
	for holder, shares := range l.shares {
		incomeCorr := l.correction(l.incomeCorrection, holder)
		lossCorr := l.correction(l.lossCorrection, holder)
		if shares.Sign() == 0 && incomeCorr.Sign() == 0 && lossCorr.Sign() == 0 {
			continue
		}
		snap.Holders = append(snap.Holders, HolderSnapshot{
			Holder:           holder,
			Shares:           new(big.Int).Set(shares),
			IncomeCorrection: new(big.Int).Set(incomeCorr),
			LossCorrection:   new(big.Int).Set(lossCorr),
		})
	}
	return snap
}

// Restore rebuilds a ledger from a snapshot. A nil snapshot yields an empty
// ledger.
func Restore(snap *Snapshot) *Ledger {
	l := NewLedger()
	if snap == nil {
		return l
	}
	if snap.TotalShares != nil {
		l.totalShares = new(big.Int).Set(snap.TotalShares)
	}
	if snap.IncomePerShare != nil {
		l.incomePerShare = new(big.Int).Set(snap.IncomePerShare)
	}
	if snap.LossPerShare != nil {
		l.lossPerShare = new(big.Int).Set(snap.LossPerShare)
	}
	for _, h := range snap.Holders {
		if h.Shares != nil {
			l.shares[h.Holder] = new(big.Int).Set(h.Shares)
		}
		if h.IncomeCorrection != nil {
			l.incomeCorrection[h.Holder] = new(big.Int).Set(h.IncomeCorrection)
		}
		if h.LossCorrection != nil {
			l.lossCorrection[h.Holder] = new(big.Int).Set(h.LossCorrection)
		}
	}
	return l
}
