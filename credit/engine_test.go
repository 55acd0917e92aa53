package credit

import (
	"errors"
	"math/big"
	"testing"
)

func testAddr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

var (
	testCustodian = testAddr(0xCC)
	testAsset     = testAddr(0xAA)
	testTreasury  = testAddr(0xEE)
	testBorrower  = testAddr(0x01)
	testApprover  = testAddr(0x02)
)

type mockState struct {
	records    map[[20]byte]*CreditRecord
	collateral map[[20]byte]*CollateralInfo
}

func newMockState() *mockState {
	return &mockState{
		records:    make(map[[20]byte]*CreditRecord),
		collateral: make(map[[20]byte]*CollateralInfo),
	}
}

func (m *mockState) GetCreditRecord(borrower [20]byte) (*CreditRecord, error) {
	return m.records[borrower].Clone(), nil
}

func (m *mockState) PutCreditRecord(rec *CreditRecord) error {
	m.records[rec.Borrower] = rec.Clone()
	return nil
}

func (m *mockState) GetCollateralInfo(borrower [20]byte) (*CollateralInfo, error) {
	return m.collateral[borrower].Clone(), nil
}

func (m *mockState) PutCollateralInfo(info *CollateralInfo) error {
	m.collateral[info.Borrower] = info.Clone()
	return nil
}

type transferCall struct {
	from   [20]byte
	to     [20]byte
	amount *big.Int
}

type mockTransfer struct {
	liquidity *big.Int
	outbound  []transferCall
	inbound   []transferCall
	failNext  error
}

func (m *mockTransfer) TransferFrom(owner, custodian [20]byte, amount *big.Int) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.inbound = append(m.inbound, transferCall{owner, custodian, new(big.Int).Set(amount)})
	return nil
}

func (m *mockTransfer) Transfer(custodian, recipient [20]byte, amount *big.Int) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.outbound = append(m.outbound, transferCall{custodian, recipient, new(big.Int).Set(amount)})
	return nil
}

func (m *mockTransfer) BalanceOf(custodian [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.liquidity), nil
}

func (m *mockTransfer) Decimals() uint8 { return 18 }

type custodyCall struct {
	kind       CollateralKind
	asset      [20]byte
	idOrAmount *big.Int
}

type mockCustody struct {
	calls []custodyCall
	err   error
}

func (m *mockCustody) TransferIn(kind CollateralKind, asset, from, custodian [20]byte, idOrAmount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, custodyCall{kind, asset, new(big.Int).Set(idOrAmount)})
	return nil
}

type mockOracle struct {
	paused      bool
	treasuryBps uint64
	grace       uint64
}

func (m *mockOracle) IsPaused() bool                    { return m.paused }
func (m *mockOracle) TreasuryFeeBps() uint64            { return m.treasuryBps }
func (m *mockOracle) TreasuryAddress() [20]byte         { return testTreasury }
func (m *mockOracle) DefaultGracePeriodSeconds() uint64 { return m.grace }

type mockApprovers struct {
	approvers map[[20]byte]bool
	admins    map[[20]byte]bool
}

func (m *mockApprovers) IsApprover(actor [20]byte) bool { return m.approvers[actor] }
func (m *mockApprovers) IsAdmin(actor [20]byte) bool    { return m.admins[actor] }

type mockHooks struct {
	poolOn   bool
	apr      uint64
	min      *big.Int
	max      *big.Int
	fees     FeeSchedule
	grace    uint64
	noShares bool
	income   []*big.Int
	losses   []*big.Int
}

func (m *mockHooks) IsPoolOn() bool             { return m.poolOn }
func (m *mockHooks) AprBps() uint64             { return m.apr }
func (m *mockHooks) MinBorrowAmount() *big.Int  { return new(big.Int).Set(m.min) }
func (m *mockHooks) MaxBorrowAmount() *big.Int  { return new(big.Int).Set(m.max) }
func (m *mockHooks) Fees() FeeSchedule          { return m.fees }
func (m *mockHooks) GracePeriodSeconds() uint64 { return m.grace }
func (m *mockHooks) HasShares() bool            { return !m.noShares }

func (m *mockHooks) DistributeIncome(amount *big.Int) error {
	m.income = append(m.income, new(big.Int).Set(amount))
	return nil
}

func (m *mockHooks) DistributeLosses(amount *big.Int) error {
	m.losses = append(m.losses, new(big.Int).Set(amount))
	return nil
}

func (m *mockHooks) totalIncome() *big.Int {
	sum := big.NewInt(0)
	for _, v := range m.income {
		sum.Add(sum, v)
	}
	return sum
}

type engineFixture struct {
	engine    *Engine
	state     *mockState
	transfer  *mockTransfer
	custody   *mockCustody
	oracle    *mockOracle
	hooks     *mockHooks
	approvers *mockApprovers
	now       int64
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		state:    newMockState(),
		transfer: &mockTransfer{liquidity: big.NewInt(1_000_000)},
		custody:  &mockCustody{},
		oracle:   &mockOracle{treasuryBps: 100, grace: 3600},
		hooks: &mockHooks{
			poolOn: true,
			apr:    1200,
			min:    big.NewInt(10),
			max:    big.NewInt(500_000),
			fees:   FeeSchedule{PlatformFlat: big.NewInt(0), PlatformBps: 200},
		},
		approvers: &mockApprovers{
			approvers: map[[20]byte]bool{testApprover: true},
			admins:    map[[20]byte]bool{},
		},
		now: 1_000_000,
	}
	e := NewEngine(testCustodian, testAsset)
	e.SetState(f.state)
	e.SetTransferService(f.transfer)
	e.SetCollateralCustody(f.custody)
	e.SetProtocolOracle(f.oracle)
	e.SetApprovers(f.approvers)
	e.SetLiquidityHooks(f.hooks)
	e.SetNowFunc(func() int64 { return f.now })
	f.engine = e
	return f
}

// openLine requests, approves and draws a line in one step.
func (f *engineFixture) openLine(t *testing.T, limit, draw int64) {
	t.Helper()
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(limit), 30, 6, ScheduleInterestOnly); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.engine.ApproveCredit(testApprover, testBorrower); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if draw > 0 {
		if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(draw), nil); err != nil {
			t.Fatalf("drawdown: %v", err)
		}
	}
}

func TestRequestCreditCreatesRecord(t *testing.T) {
	f := newEngineFixture(t)
	rec, err := f.engine.RequestCredit(testBorrower, big.NewInt(1000), 30, 6, ScheduleInterestOnly)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rec.State != CreditRequested {
		t.Fatalf("state = %v, want requested", rec.State)
	}
	if rec.AprBps != 1200 {
		t.Fatalf("apr = %d, want pool apr 1200", rec.AprBps)
	}
	if rec.Balance.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", rec.Balance)
	}
}

func TestRequestCreditIdenticalRepeatIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	first, err := f.engine.RequestCredit(testBorrower, big.NewInt(1000), 30, 6, ScheduleInterestOnly)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	second, err := f.engine.RequestCredit(testBorrower, big.NewInt(1000), 30, 6, ScheduleInterestOnly)
	if err != nil {
		t.Fatalf("identical repeat: %v", err)
	}
	if first.CreditLimit.Cmp(second.CreditLimit) != 0 || first.State != second.State {
		t.Fatalf("repeat returned a different record: %+v vs %+v", first, second)
	}
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(2000), 30, 6, ScheduleInterestOnly); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("differing terms: err = %v, want precondition", err)
	}
}

func TestRequestCreditValidation(t *testing.T) {
	f := newEngineFixture(t)
	cases := []struct {
		name     string
		limit    *big.Int
		interval uint32
		payments uint32
		schedule PaymentSchedule
	}{
		{"zero limit", big.NewInt(0), 30, 6, ScheduleInterestOnly},
		{"zero interval", big.NewInt(100), 0, 6, ScheduleInterestOnly},
		{"zero payments", big.NewInt(100), 30, 0, ScheduleInterestOnly},
		{"interval too large", big.NewInt(100), maxIntervalDays + 1, 6, ScheduleInterestOnly},
		{"too many payments", big.NewInt(100), 30, maxPaymentCount + 1, ScheduleInterestOnly},
		{"above max borrow", big.NewInt(500_001), 30, 6, ScheduleInterestOnly},
		{"bad schedule", big.NewInt(100), 30, 6, PaymentSchedule(9)},
	}
	for _, tc := range cases {
		if _, err := f.engine.RequestCredit(testBorrower, tc.limit, tc.interval, tc.payments, tc.schedule); err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func TestRequestCreditWidthBoundary(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.max = new(big.Int).Lsh(big.NewInt(1), 200)
	wide := new(big.Int).Lsh(big.NewInt(1), 128) // 129 bits
	if _, err := f.engine.RequestCredit(testBorrower, wide, 30, 6, ScheduleInterestOnly); !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want overflow", err)
	}
	exact := new(big.Int).Sub(wide, big.NewInt(1)) // exactly 128 bits
	if _, err := f.engine.RequestCredit(testBorrower, exact, 30, 6, ScheduleInterestOnly); err != nil {
		t.Fatalf("128-bit limit rejected: %v", err)
	}
}

func TestRequestCreditPoolOff(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.poolOn = false
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(100), 30, 6, ScheduleInterestOnly); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
}

func TestRequestCreditProtocolPaused(t *testing.T) {
	f := newEngineFixture(t)
	f.oracle.paused = true
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(100), 30, 6, ScheduleInterestOnly); err == nil {
		t.Fatal("expected rejection while protocol is paused")
	}
}

func TestApproveCreditAuthorization(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(1000), 30, 6, ScheduleInterestOnly); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.engine.ApproveCredit(testBorrower, testBorrower); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("non-approver: err = %v, want precondition", err)
	}
	if err := f.engine.ApproveCredit(testApprover, testBorrower); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.ApproveCredit(testApprover, testBorrower); err == nil {
		t.Fatal("expected second approval to fail")
	}
}

func TestInvalidateApprovedCreditResetsLine(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(1000), 30, 6, ScheduleInterestOnly); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.engine.ApproveCredit(testApprover, testBorrower); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.engine.InvalidateApprovedCredit(testApprover, testBorrower); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	rec, err := f.engine.CreditRecordOf(testBorrower)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Live() {
		t.Fatalf("record still live after invalidation: %+v", rec)
	}
	// The borrower can request again.
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(500), 30, 6, ScheduleInterestOnly); err != nil {
		t.Fatalf("request after invalidation: %v", err)
	}
}

func TestDrawdownSplitsProceeds(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	split, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(500), nil)
	if err != nil {
		t.Fatalf("drawdown: %v", err)
	}
	if split.Borrower.Cmp(big.NewInt(490)) != 0 {
		t.Fatalf("borrower proceeds = %s, want 490", split.Borrower)
	}
	if split.Protocol.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("protocol fee = %s, want 5", split.Protocol)
	}
	if split.PoolIncome.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("pool income = %s, want 5", split.PoolIncome)
	}
	if got := f.hooks.totalIncome(); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("distributed income = %s, want 5", got)
	}
	if len(f.transfer.outbound) != 2 {
		t.Fatalf("outbound transfers = %d, want treasury + borrower", len(f.transfer.outbound))
	}

	rec, err := f.engine.CreditRecordOf(testBorrower)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.State != CreditActive {
		t.Fatalf("state = %v, want active", rec.State)
	}
	if rec.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance = %s, want 500", rec.Balance)
	}
	if rec.DueDate != f.now+30*secondsPerDay {
		t.Fatalf("due date = %d, want %d", rec.DueDate, f.now+30*secondsPerDay)
	}
}

func TestDrawdownEnforcesLimit(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 600)
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(401), nil); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	// Exactly up to the limit is allowed.
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(400), nil); err != nil {
		t.Fatalf("drawdown to limit: %v", err)
	}
}

func TestDrawdownRequiresLiquidity(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	f.transfer.liquidity = big.NewInt(499)
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(500), nil); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
}

func TestDrawdownBelowMinBorrow(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(9), nil); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
}

func TestDrawdownTransferFailureLeavesState(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	f.transfer.failNext = errors.New("bridge offline")
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(500), nil); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want transfer failure", err)
	}
	rec, err := f.engine.CreditRecordOf(testBorrower)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.State != CreditApproved || rec.Balance.Sign() != 0 {
		t.Fatalf("state mutated despite failed transfer: %+v", rec)
	}
	if got := f.hooks.totalIncome(); got.Sign() != 0 {
		t.Fatalf("income distributed despite failed transfer: %s", got)
	}
}

func TestDrawdownByApproverOnBehalf(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	if _, err := f.engine.Drawdown(testApprover, testBorrower, big.NewInt(100), nil); err != nil {
		t.Fatalf("approver drawdown: %v", err)
	}
	stranger := testAddr(0x77)
	if _, err := f.engine.Drawdown(stranger, testBorrower, big.NewInt(100), nil); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("stranger drawdown: err = %v, want precondition", err)
	}
}

func TestDrawdownCollateralAssetImmutable(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	first := &Collateral{Kind: CollateralFungible, Asset: testAddr(0x10), Amount: big.NewInt(50)}
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(100), first); err != nil {
		t.Fatalf("first drawdown: %v", err)
	}
	second := &Collateral{Kind: CollateralFungible, Asset: testAddr(0x11), Amount: big.NewInt(50)}
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(100), second); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("mismatched asset: err = %v, want precondition", err)
	}

	topUp := &Collateral{Kind: CollateralFungible, Asset: testAddr(0x10), Amount: big.NewInt(25)}
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(100), topUp); err != nil {
		t.Fatalf("top-up drawdown: %v", err)
	}
	info, err := f.engine.CollateralOf(testBorrower)
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if info.Amount.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("collateral amount = %s, want accumulated 75", info.Amount)
	}
}

func TestMakePaymentInterestOnlyLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.min = big.NewInt(1)
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(120_000), 30, 3, ScheduleInterestOnly); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := f.engine.ApproveCredit(testApprover, testBorrower); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(120_000), nil); err != nil {
		t.Fatalf("drawdown: %v", err)
	}

	// First installment: one month's interest, principal untouched.
	breakdown, err := f.engine.MakePayment(testBorrower, testAsset, big.NewInt(1200))
	if err != nil {
		t.Fatalf("payment 1: %v", err)
	}
	if breakdown.Interest.Cmp(big.NewInt(1200)) != 0 || breakdown.Principal.Sign() != 0 {
		t.Fatalf("unexpected breakdown: %+v", breakdown)
	}
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	if rec.RemainingPayments != 2 || rec.Balance.Cmp(big.NewInt(120_000)) != 0 {
		t.Fatalf("after payment 1: %+v", rec)
	}

	// Second installment leaves one payment pinned at the payoff amount.
	if _, err := f.engine.MakePayment(testBorrower, testAsset, big.NewInt(1200)); err != nil {
		t.Fatalf("payment 2: %v", err)
	}
	rec, _ = f.engine.CreditRecordOf(testBorrower)
	if rec.RemainingPayments != 1 {
		t.Fatalf("remaining = %d, want 1", rec.RemainingPayments)
	}
	if rec.DueAmount.Cmp(big.NewInt(121_200)) != 0 {
		t.Fatalf("final due = %s, want 121200", rec.DueAmount)
	}

	// Final installment retires the line.
	breakdown, err = f.engine.MakePayment(testBorrower, testAsset, big.NewInt(121_200))
	if err != nil {
		t.Fatalf("payment 3: %v", err)
	}
	if !breakdown.Payoff {
		t.Fatal("final payment must close the line")
	}
	rec, _ = f.engine.CreditRecordOf(testBorrower)
	if rec.Live() {
		t.Fatalf("record still live after final payment: %+v", rec)
	}
}

func TestMakePaymentShortRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	if _, err := f.engine.MakePayment(testBorrower, testAsset, big.NewInt(1199)); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	if len(f.transfer.inbound) != 0 {
		t.Fatal("assets pulled for a rejected payment")
	}
}

func TestMakePaymentWrongAsset(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	if _, err := f.engine.MakePayment(testBorrower, testAddr(0x99), big.NewInt(1200)); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
}

func TestMakePaymentLateFeeDistributed(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.fees.LateFlat = big.NewInt(10)
	f.hooks.fees.LateBps = 0
	f.openLine(t, 120_000, 120_000)
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	f.now = rec.DueDate + 1

	drawIncome := f.hooks.totalIncome()
	breakdown, err := f.engine.MakePayment(testBorrower, testAsset, big.NewInt(1210))
	if err != nil {
		t.Fatalf("late payment: %v", err)
	}
	if !breakdown.Late || breakdown.Fees.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected breakdown: %+v", breakdown)
	}
	gained := new(big.Int).Sub(f.hooks.totalIncome(), drawIncome)
	if gained.Cmp(big.NewInt(1210)) != 0 {
		t.Fatalf("distributed = %s, want interest + late fee 1210", gained)
	}
}

func TestPayoffEarly(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.fees.EarlyPayoffFlat = big.NewInt(100)
	f.hooks.fees.EarlyPayoffBps = 50
	f.openLine(t, 120_000, 120_000)

	// balance 120000 + interest 1200 + early payoff fee 700.
	if _, err := f.engine.Payoff(testBorrower, testAsset, big.NewInt(121_899)); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("short tender: err = %v, want precondition", err)
	}
	breakdown, err := f.engine.Payoff(testBorrower, testAsset, big.NewInt(121_900))
	if err != nil {
		t.Fatalf("payoff: %v", err)
	}
	if breakdown.Total().Cmp(big.NewInt(121_900)) != 0 {
		t.Fatalf("total = %s, want 121900", breakdown.Total())
	}
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	if rec.Live() {
		t.Fatalf("record still live after payoff: %+v", rec)
	}
}

func TestTriggerDefaultGraceBoundary(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.grace = 7200
	f.openLine(t, 120_000, 120_000)
	rec, _ := f.engine.CreditRecordOf(testBorrower)

	f.now = rec.DueDate + 7200
	if _, err := f.engine.TriggerDefault(testBorrower); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("at boundary: err = %v, want precondition", err)
	}

	f.now = rec.DueDate + 7201
	losses, err := f.engine.TriggerDefault(testBorrower)
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if losses.Cmp(big.NewInt(120_000)) != 0 {
		t.Fatalf("losses = %s, want full balance", losses)
	}
	if len(f.hooks.losses) != 1 || f.hooks.losses[0].Cmp(big.NewInt(120_000)) != 0 {
		t.Fatalf("distributed losses = %v", f.hooks.losses)
	}
	rec, _ = f.engine.CreditRecordOf(testBorrower)
	if rec.State != CreditDefaulted {
		t.Fatalf("state = %v, want defaulted", rec.State)
	}
	if rec.Balance.Cmp(big.NewInt(120_000)) != 0 {
		t.Fatalf("defaulted balance = %s, want kept", rec.Balance)
	}
}

func TestTriggerDefaultFallsBackToProtocolGrace(t *testing.T) {
	f := newEngineFixture(t)
	f.hooks.grace = 0
	f.oracle.grace = 3600
	f.openLine(t, 120_000, 120_000)
	rec, _ := f.engine.CreditRecordOf(testBorrower)

	f.now = rec.DueDate + 3600
	if _, err := f.engine.TriggerDefault(testBorrower); err == nil {
		t.Fatal("expected rejection within protocol grace window")
	}
	f.now = rec.DueDate + 3601
	if _, err := f.engine.TriggerDefault(testBorrower); err != nil {
		t.Fatalf("default: %v", err)
	}
}

func TestCloseDefaultedRequiresApprover(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	f.now = rec.DueDate + int64(f.oracle.grace) + int64(f.hooks.grace) + 1
	if _, err := f.engine.TriggerDefault(testBorrower); err != nil {
		t.Fatalf("default: %v", err)
	}

	if err := f.engine.CloseDefaulted(testBorrower, testBorrower); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("non-approver close: err = %v, want precondition", err)
	}
	if err := f.engine.CloseDefaulted(testApprover, testBorrower); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec, _ = f.engine.CreditRecordOf(testBorrower)
	if rec.Live() {
		t.Fatalf("record live after close: %+v", rec)
	}
	if _, err := f.engine.RequestCredit(testBorrower, big.NewInt(1000), 30, 6, ScheduleInterestOnly); err != nil {
		t.Fatalf("request after close: %v", err)
	}
}

func TestCloseDefaultedRejectsActiveLine(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	if err := f.engine.CloseDefaulted(testApprover, testBorrower); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
}

func TestDrawdownRejectedWithoutLenderShares(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 0)
	// A funded custodian alone is not enough: with no shares outstanding
	// the fee income has nowhere to go, so the drawdown must fail before
	// any assets move.
	f.hooks.noShares = true
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(500), nil); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	if len(f.transfer.outbound) != 0 || len(f.transfer.inbound) != 0 {
		t.Fatalf("assets moved despite rejection: out=%v in=%v", f.transfer.outbound, f.transfer.inbound)
	}
	rec, err := f.engine.CreditRecordOf(testBorrower)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.State != CreditApproved || rec.Balance.Sign() != 0 {
		t.Fatalf("record mutated despite rejection: %+v", rec)
	}
}

func TestMakePaymentRejectedWithoutLenderShares(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	rec, _ := f.engine.CreditRecordOf(testBorrower)

	f.hooks.noShares = true
	pulled := len(f.transfer.inbound)
	if _, err := f.engine.MakePayment(testBorrower, testAsset, rec.DueAmount); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	if len(f.transfer.inbound) != pulled {
		t.Fatal("payment pulled from borrower despite rejection")
	}
	after, _ := f.engine.CreditRecordOf(testBorrower)
	if after.Balance.Cmp(rec.Balance) != 0 || after.RemainingPayments != rec.RemainingPayments {
		t.Fatalf("record mutated despite rejection: %+v", after)
	}
}

func TestPayoffRejectedWithoutLenderShares(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	f.hooks.noShares = true
	pulled := len(f.transfer.inbound)
	if _, err := f.engine.Payoff(testBorrower, testAsset, big.NewInt(200_000)); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	if len(f.transfer.inbound) != pulled {
		t.Fatal("payoff pulled from borrower despite rejection")
	}
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	if rec.State != CreditActive {
		t.Fatalf("state = %v, want still active", rec.State)
	}
}

func TestTriggerDefaultRejectedWithoutLenderShares(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 120_000, 120_000)
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	f.now = rec.DueDate + int64(f.oracle.grace) + 1

	f.hooks.noShares = true
	if _, err := f.engine.TriggerDefault(testBorrower); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want precondition", err)
	}
	if len(f.hooks.losses) != 0 {
		t.Fatalf("losses distributed despite rejection: %v", f.hooks.losses)
	}
	rec, _ = f.engine.CreditRecordOf(testBorrower)
	if rec.State != CreditActive {
		t.Fatalf("state = %v, want still active", rec.State)
	}
}

func TestDrawdownKeepsExistingDueDate(t *testing.T) {
	f := newEngineFixture(t)
	f.openLine(t, 1000, 100)
	rec, _ := f.engine.CreditRecordOf(testBorrower)
	first := rec.DueDate

	f.now += 86_400
	if _, err := f.engine.Drawdown(testBorrower, testBorrower, big.NewInt(100), nil); err != nil {
		t.Fatalf("second drawdown: %v", err)
	}
	rec, _ = f.engine.CreditRecordOf(testBorrower)
	if rec.DueDate != first {
		t.Fatalf("due date = %d, want anchored at first drawdown %d", rec.DueDate, first)
	}
}
