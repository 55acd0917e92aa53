package credit

import (
	"math/big"
	"time"

	"creditpool/common"
	"creditpool/events"
)

const moduleName = "credit"

const (
	secondsPerDay = 86_400
	// Boundary widths for stored fields. Values outside these bounds are
	// rejected with ErrOverflow, never truncated.
	maxIntervalDays = 3_650
	maxPaymentCount = 1_200
	maxAmountBits   = 128
)

type engineState interface {
	GetCreditRecord(borrower [20]byte) (*CreditRecord, error)
	PutCreditRecord(*CreditRecord) error
	GetCollateralInfo(borrower [20]byte) (*CollateralInfo, error)
	PutCollateralInfo(*CollateralInfo) error
}

// AssetTransferService moves the pool's underlying fungible asset. The
// implementation owns custody mechanics; the engine only sequences transfers
// as the final effects of each transition.
type AssetTransferService interface {
	TransferFrom(owner, custodian [20]byte, amount *big.Int) error
	Transfer(custodian, recipient [20]byte, amount *big.Int) error
	BalanceOf(custodian [20]byte) (*big.Int, error)
	Decimals() uint8
}

// CollateralCustody locks borrower collateral with the pool custodian. Both
// single-identifier and quantity-based collateral kinds are supported.
type CollateralCustody interface {
	TransferIn(kind CollateralKind, asset, from, custodian [20]byte, idOrAmount *big.Int) error
}

// ProtocolOracle exposes the global protocol configuration read on every
// operation.
type ProtocolOracle interface {
	IsPaused() bool
	TreasuryFeeBps() uint64
	TreasuryAddress() [20]byte
	DefaultGracePeriodSeconds() uint64
}

// ApproverRegistry answers authorization queries for credit approvers and
// pool admins. Callers are already authenticated by the embedding system.
type ApproverRegistry interface {
	IsApprover(actor [20]byte) bool
	IsAdmin(actor [20]byte) bool
}

// LiquidityHooks gives the engine access to the liquidity side of the pool:
// gating configuration and the pro-rata income/loss distribution ledger.
type LiquidityHooks interface {
	IsPoolOn() bool
	AprBps() uint64
	MinBorrowAmount() *big.Int
	MaxBorrowAmount() *big.Int
	Fees() FeeSchedule
	GracePeriodSeconds() uint64
	// HasShares reports whether any pool shares are outstanding to absorb a
	// distribution. Checked before any asset moves so a distribution can
	// never fail after transfers have committed.
	HasShares() bool
	DistributeIncome(amount *big.Int) error
	DistributeLosses(amount *big.Int) error
}

// Engine orchestrates the credit-line state machine. It is not synchronised:
// the owning pool serialises every state-changing call, so each operation is
// atomic with respect to all others.
type Engine struct {
	state     engineState
	transfer  AssetTransferService
	custody   CollateralCustody
	oracle    ProtocolOracle
	approvers ApproverRegistry
	liquidity LiquidityHooks
	custodian [20]byte
	asset     [20]byte
	pauses    common.PauseView
	emitter   events.Emitter
	nowFn     func() int64
}

// NewEngine constructs a credit engine bound to the pool custodian and the
// pool's underlying asset identity.
func NewEngine(custodian, asset [20]byte) *Engine {
	return &Engine{
		custodian: custodian,
		asset:     asset,
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransferService configures the asset transfer collaborator.
func (e *Engine) SetTransferService(svc AssetTransferService) { e.transfer = svc }

// SetCollateralCustody configures the collateral custody collaborator.
func (e *Engine) SetCollateralCustody(c CollateralCustody) { e.custody = c }

// SetProtocolOracle configures the global protocol config oracle.
func (e *Engine) SetProtocolOracle(o ProtocolOracle) { e.oracle = o }

// SetApprovers configures the authorization oracle.
func (e *Engine) SetApprovers(a ApproverRegistry) { e.approvers = a }

// SetLiquidityHooks wires the engine to the pool's liquidity side.
func (e *Engine) SetLiquidityHooks(h LiquidityHooks) { e.liquidity = h }

// SetPauses wires the module pause view checked on every operation.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for due dates and grace periods.
// Primarily intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// guard runs the checks shared by every operation: wiring, module pause and
// protocol pause.
func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.oracle == nil {
		return errNilOracle
	}
	if e.liquidity == nil {
		return errNilLiquidity
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.oracle.IsPaused() {
		return errProtocolPaused
	}
	return nil
}

func checkAmountWidth(v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return errInvalidAmount
	}
	if v.BitLen() > maxAmountBits {
		return errAmountTooWide
	}
	return nil
}

// RequestCredit opens a credit line request for the borrower. The pool must
// be on, the protocol unpaused and the borrower must not hold a live line. A
// repeated request with identical terms returns the existing record.
func (e *Engine) RequestCredit(borrower [20]byte, limit *big.Int, intervalDays, numPayments uint32, schedule PaymentSchedule) (*CreditRecord, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.liquidity.IsPoolOn() {
		return nil, errPoolOff
	}
	if err := checkAmountWidth(limit); err != nil {
		return nil, err
	}
	if intervalDays == 0 {
		return nil, errInvalidInterval
	}
	if intervalDays > maxIntervalDays {
		return nil, errIntervalTooLarge
	}
	if numPayments == 0 {
		return nil, errInvalidPaymentCount
	}
	if numPayments > maxPaymentCount {
		return nil, errTooManyPayments
	}
	if !schedule.Valid() {
		return nil, errInvalidSchedule
	}
	if max := e.liquidity.MaxBorrowAmount(); max != nil && limit.Cmp(max) > 0 {
		return nil, errAboveMaxBorrow
	}

	existing, err := e.state.GetCreditRecord(borrower)
	if err != nil {
		return nil, err
	}
	if existing.Live() {
		if existing.State == CreditRequested &&
			existing.CreditLimit.Cmp(limit) == 0 &&
			existing.IntervalDays == intervalDays &&
			existing.RemainingPayments == numPayments &&
			existing.Schedule == schedule {
			return existing.Clone(), nil
		}
		return nil, errDuplicateCredit
	}

	rec := &CreditRecord{
		Borrower:          borrower,
		CreditLimit:       new(big.Int).Set(limit),
		Balance:           big.NewInt(0),
		AprBps:            e.liquidity.AprBps(),
		Schedule:          schedule,
		IntervalDays:      intervalDays,
		RemainingPayments: numPayments,
		DueAmount:         big.NewInt(0),
		State:             CreditRequested,
	}
	if err := e.state.PutCreditRecord(rec); err != nil {
		return nil, err
	}
	e.emit(newCreditEvent(EventTypeCreditRequested, rec))
	return rec.Clone(), nil
}

// ApproveCredit moves a requested line to the approved state. Only an
// authorized approver may call it.
func (e *Engine) ApproveCredit(approver, borrower [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.approvers == nil || !e.approvers.IsApprover(approver) {
		return errUnauthorized
	}
	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return err
	}
	if rec.State != CreditRequested {
		return errNotApprovable
	}
	rec.State = CreditApproved
	if err := e.state.PutCreditRecord(rec); err != nil {
		return err
	}
	e.emit(newCreditEvent(EventTypeCreditApproved, rec))
	return nil
}

// InvalidateApprovedCredit cancels a requested or approved line that has no
// outstanding balance, resetting the record to its terminal row.
func (e *Engine) InvalidateApprovedCredit(approver, borrower [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.approvers == nil || !e.approvers.IsApprover(approver) {
		return errUnauthorized
	}
	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return err
	}
	if rec.State != CreditRequested && rec.State != CreditApproved {
		return errNotApprovable
	}
	reset := emptyRecord(borrower)
	if err := e.state.PutCreditRecord(reset); err != nil {
		return err
	}
	e.emit(newCreditEvent(EventTypeCreditInvalidated, reset))
	return nil
}

// Drawdown draws against an approved credit line. The borrower (or an
// approver acting for them) receives the net proceeds after front-load fees;
// the protocol fee goes to the treasury and the platform fee is distributed
// to lenders as pool income. Collateral, when supplied, must match any
// previously recorded collateral asset. The operation is all-or-nothing.
func (e *Engine) Drawdown(caller, borrower [20]byte, amount *big.Int, collateral *Collateral) (*ProceedsSplit, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.transfer == nil {
		return nil, errNilTransfer
	}
	if !e.liquidity.IsPoolOn() {
		return nil, errPoolOff
	}
	if caller != borrower && (e.approvers == nil || !e.approvers.IsApprover(caller)) {
		return nil, errUnauthorized
	}
	if err := checkAmountWidth(amount); err != nil {
		return nil, err
	}
	if min := e.liquidity.MinBorrowAmount(); min != nil && amount.Cmp(min) < 0 {
		return nil, errBelowMinBorrow
	}

	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return nil, err
	}
	if rec.State != CreditApproved && rec.State != CreditActive {
		return nil, errNotApproved
	}
	if rec.RemainingPayments == 0 {
		return nil, errNoRemainingPayments
	}
	available := new(big.Int).Sub(rec.CreditLimit, rec.Balance)
	if amount.Cmp(available) > 0 {
		return nil, errLimitExceeded
	}

	liquidity, err := e.transfer.BalanceOf(e.custodian)
	if err != nil {
		return nil, transferFailed(err)
	}
	if liquidity == nil || liquidity.Cmp(amount) < 0 {
		return nil, errInsufficientLiquidity
	}

	split, err := SplitProceeds(amount, e.liquidity.Fees(), e.oracle.TreasuryFeeBps())
	if err != nil {
		return nil, err
	}
	if split.PoolIncome.Sign() > 0 && !e.liquidity.HasShares() {
		return nil, errNoLenderShares
	}

	info, err := e.stagedCollateral(borrower, collateral)
	if err != nil {
		return nil, err
	}

	rec.Balance = new(big.Int).Add(rec.Balance, amount)
	rec.State = CreditActive
	if rec.DueDate == 0 {
		rec.DueDate = e.now() + int64(rec.IntervalDays)*secondsPerDay
	}
	due, err := RecurringPayment(rec)
	if err != nil {
		return nil, err
	}
	rec.DueAmount = due

	// Move assets only after every precondition has passed, so a transfer
	// failure surfaces as an overall failure with no committed ledger state.
	if collateral != nil {
		idOrAmount := collateral.Amount
		if collateral.Kind == CollateralNonFungible {
			idOrAmount = collateral.TokenID
		}
		if err := e.custody.TransferIn(collateral.Kind, collateral.Asset, borrower, e.custodian, idOrAmount); err != nil {
			return nil, transferFailed(err)
		}
	}
	if split.Protocol.Sign() > 0 {
		if err := e.transfer.Transfer(e.custodian, e.oracle.TreasuryAddress(), split.Protocol); err != nil {
			return nil, transferFailed(err)
		}
	}
	if err := e.transfer.Transfer(e.custodian, borrower, split.Borrower); err != nil {
		return nil, transferFailed(err)
	}

	if split.PoolIncome.Sign() > 0 {
		if err := e.liquidity.DistributeIncome(split.PoolIncome); err != nil {
			return nil, err
		}
	}
	if info != nil {
		if err := e.state.PutCollateralInfo(info); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutCreditRecord(rec); err != nil {
		return nil, err
	}
	e.emit(newCreditEvent(EventTypeCreditDrawdown, rec))
	return split, nil
}

// MakePayment applies a tendered payment against the borrower's next
// installment. Short payments are rejected outright. A payment covering the
// full payoff amount, or the final installment, closes the line.
func (e *Engine) MakePayment(borrower, asset [20]byte, amount *big.Int) (*PaymentBreakdown, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.transfer == nil {
		return nil, errNilTransfer
	}
	if asset != e.asset {
		return nil, errWrongAsset
	}
	if err := checkAmountWidth(amount); err != nil {
		return nil, err
	}
	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return nil, err
	}
	if rec.State != CreditActive {
		return nil, errNotActive
	}
	if rec.RemainingPayments == 0 {
		return nil, errNoRemainingPayments
	}

	breakdown, err := NextPayment(rec, e.liquidity.Fees(), e.now(), amount)
	if err != nil {
		return nil, err
	}
	if !breakdown.Sufficient {
		return nil, errInsufficientPayment
	}
	income := new(big.Int).Add(breakdown.Interest, breakdown.Fees)
	if income.Sign() > 0 && !e.liquidity.HasShares() {
		return nil, errNoLenderShares
	}

	if err := e.transfer.TransferFrom(borrower, e.custodian, breakdown.Total()); err != nil {
		return nil, transferFailed(err)
	}

	if breakdown.Payoff {
		rec = emptyRecord(borrower)
	} else {
		rec.Balance = new(big.Int).Sub(rec.Balance, breakdown.Principal)
		rec.RemainingPayments--
		rec.DueDate += int64(rec.IntervalDays) * secondsPerDay
		if rec.RemainingPayments == 1 {
			// Pin the final installment to the full payoff amount so the
			// last payment always closes the line.
			rec.DueAmount = new(big.Int).Add(rec.Balance, monthlyInterest(rec.Balance, rec.AprBps))
		} else {
			due, err := RecurringPayment(rec)
			if err != nil {
				return nil, err
			}
			rec.DueAmount = due
		}
	}

	if income.Sign() > 0 {
		if err := e.liquidity.DistributeIncome(income); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutCreditRecord(rec); err != nil {
		return nil, err
	}
	if breakdown.Payoff {
		e.emit(newCreditEvent(EventTypeCreditPayoff, rec))
	} else {
		e.emit(newCreditEvent(EventTypeCreditPayment, rec))
	}
	return breakdown, nil
}

// Payoff retires the line early in a single payment: the full balance, one
// interval's interest, any late fee and the early-payoff fee. Excess tender
// beyond the required total is not pulled.
func (e *Engine) Payoff(borrower, asset [20]byte, amount *big.Int) (*PaymentBreakdown, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.transfer == nil {
		return nil, errNilTransfer
	}
	if asset != e.asset {
		return nil, errWrongAsset
	}
	if err := checkAmountWidth(amount); err != nil {
		return nil, err
	}
	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return nil, err
	}
	if rec.State != CreditActive {
		return nil, errNotActive
	}

	sched := e.liquidity.Fees()
	interest := monthlyInterest(rec.Balance, rec.AprBps)
	fees := EarlyPayoffFee(rec.Balance, sched)
	late := rec.DueDate > 0 && e.now() > rec.DueDate
	if late {
		lateFee := bpsShare(rec.Balance, sched.LateBps)
		if sched.LateFlat != nil {
			lateFee.Add(lateFee, sched.LateFlat)
		}
		fees.Add(fees, lateFee)
	}
	breakdown := &PaymentBreakdown{
		Principal:  new(big.Int).Set(rec.Balance),
		Interest:   interest,
		Fees:       fees,
		Late:       late,
		Sufficient: true,
		Payoff:     true,
	}
	if amount.Cmp(breakdown.Total()) < 0 {
		return nil, errInsufficientPayment
	}
	income := new(big.Int).Add(interest, fees)
	if income.Sign() > 0 && !e.liquidity.HasShares() {
		return nil, errNoLenderShares
	}

	if err := e.transfer.TransferFrom(borrower, e.custodian, breakdown.Total()); err != nil {
		return nil, transferFailed(err)
	}

	if income.Sign() > 0 {
		if err := e.liquidity.DistributeIncome(income); err != nil {
			return nil, err
		}
	}
	reset := emptyRecord(borrower)
	if err := e.state.PutCreditRecord(reset); err != nil {
		return nil, err
	}
	e.emit(newCreditEvent(EventTypeCreditPayoff, reset))
	return breakdown, nil
}

// TriggerDefault realizes the outstanding balance as a pool loss once the
// grace period after the missed due date has elapsed. The record moves to the
// terminal defaulted state with its balance kept as the loss marker until an
// explicit CloseDefaulted step.
func (e *Engine) TriggerDefault(borrower [20]byte) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return nil, err
	}
	if rec.State != CreditActive {
		return nil, errNotActive
	}
	grace := e.liquidity.GracePeriodSeconds()
	if grace == 0 {
		grace = e.oracle.DefaultGracePeriodSeconds()
	}
	if rec.DueDate == 0 || e.now() <= rec.DueDate+int64(grace) {
		return nil, errDefaultTooEarly
	}

	losses := new(big.Int).Set(rec.Balance)
	if losses.Sign() > 0 && !e.liquidity.HasShares() {
		return nil, errNoLenderShares
	}
	if losses.Sign() > 0 {
		if err := e.liquidity.DistributeLosses(losses); err != nil {
			return nil, err
		}
	}
	rec.State = CreditDefaulted
	if err := e.state.PutCreditRecord(rec); err != nil {
		return nil, err
	}
	e.emit(newCreditEvent(EventTypeCreditDefaulted, rec))
	return losses, nil
}

// CloseDefaulted resets a defaulted record to its terminal row after any
// off-ledger recovery has concluded. Approver-only.
func (e *Engine) CloseDefaulted(approver, borrower [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.approvers == nil || !e.approvers.IsApprover(approver) {
		return errUnauthorized
	}
	rec, err := e.loadLiveRecord(borrower)
	if err != nil {
		return err
	}
	if rec.State != CreditDefaulted {
		return errNotDefaulted
	}
	reset := emptyRecord(borrower)
	if err := e.state.PutCreditRecord(reset); err != nil {
		return err
	}
	e.emit(newCreditEvent(EventTypeCreditClosed, reset))
	return nil
}

// CreditRecordOf returns a copy of the borrower's record, or nil when none
// has ever existed.
func (e *Engine) CreditRecordOf(borrower [20]byte) (*CreditRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec, err := e.state.GetCreditRecord(borrower)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// CollateralOf returns a copy of the borrower's collateral position, or nil.
func (e *Engine) CollateralOf(borrower [20]byte) (*CollateralInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	info, err := e.state.GetCollateralInfo(borrower)
	if err != nil {
		return nil, err
	}
	return info.Clone(), nil
}

func (e *Engine) loadLiveRecord(borrower [20]byte) (*CreditRecord, error) {
	rec, err := e.state.GetCreditRecord(borrower)
	if err != nil {
		return nil, err
	}
	if !rec.Live() {
		return nil, errNoCreditRecord
	}
	return rec.Clone(), nil
}

// stagedCollateral validates a drawdown's collateral against the stored
// position and returns the updated info to persist, without mutating stored
// state. A nil collateral returns nil.
func (e *Engine) stagedCollateral(borrower [20]byte, collateral *Collateral) (*CollateralInfo, error) {
	if collateral == nil {
		return nil, nil
	}
	if e.custody == nil {
		return nil, errNilCustody
	}
	if collateral.Kind != CollateralNonFungible && collateral.Kind != CollateralFungible {
		return nil, errUnsupportedCollateral
	}
	if collateral.Kind == CollateralFungible {
		if err := checkAmountWidth(collateral.Amount); err != nil {
			return nil, err
		}
	} else if collateral.TokenID == nil || collateral.TokenID.Sign() < 0 {
		return nil, errInvalidAmount
	}

	existing, err := e.state.GetCollateralInfo(borrower)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.Kind == CollateralNone {
		return &CollateralInfo{
			Borrower: borrower,
			Asset:    collateral.Asset,
			Kind:     collateral.Kind,
			TokenID:  cloneBigInt(collateral.TokenID),
			Amount:   cloneBigInt(collateral.Amount),
		}, nil
	}
	if existing.Asset != collateral.Asset || existing.Kind != collateral.Kind {
		return nil, errCollateralMismatch
	}
	info := existing.Clone()
	if collateral.Kind == CollateralFungible {
		info.Amount = new(big.Int).Add(info.Amount, collateral.Amount)
	} else {
		info.TokenID = new(big.Int).Set(collateral.TokenID)
	}
	return info, nil
}

// emptyRecord is the terminal row retained after payoff, invalidation or
// post-default closure.
func emptyRecord(borrower [20]byte) *CreditRecord {
	return &CreditRecord{
		Borrower:    borrower,
		CreditLimit: big.NewInt(0),
		Balance:     big.NewInt(0),
		DueAmount:   big.NewInt(0),
		State:       CreditDeleted,
	}
}
