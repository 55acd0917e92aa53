package pool

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"creditpool/common"
	"creditpool/config"
	"creditpool/credit"
	"creditpool/distribution"
	"creditpool/events"
	"creditpool/observability"
)

const shareDecimals = 18

// Pool is the top-level credit pool: it owns the liquidity side (lender
// deposits, withdrawal lockout, share ledger) and wires the credit engine to
// it. A single write lock guards every state-changing operation for its full
// duration, so each call is atomic; read-only queries share a read lock and
// observe a consistent snapshot.
type Pool struct {
	mu sync.RWMutex

	cfg       *config.Pool
	state     State
	ledger    *distribution.Ledger
	engine    *credit.Engine
	transfer  credit.AssetTransferService
	oracle    credit.ProtocolOracle
	auth      credit.ApproverRegistry
	custodian [20]byte
	asset     [20]byte

	approvers      map[[20]byte]struct{}
	shareScale     *big.Int
	totalPrincipal *big.Int

	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.PoolMetrics
	nowFn   func() int64
}

// New constructs a pool bound to the custodian identity and the underlying
// asset. The configuration is validated and cloned; collaborators are wired
// with the setters before first use.
func New(custodian, asset [20]byte, cfg *config.Pool) (*Pool, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:            cfg.Clone(),
		ledger:         distribution.NewLedger(),
		custodian:      custodian,
		asset:          asset,
		approvers:      make(map[[20]byte]struct{}),
		shareScale:     big.NewInt(1),
		totalPrincipal: big.NewInt(0),
		emitter:        events.NoopEmitter{},
		metrics:        observability.Pool(),
		nowFn:          func() int64 { return time.Now().Unix() },
	}
	engine := credit.NewEngine(custodian, asset)
	engine.SetLiquidityHooks(liquidityHooks{p})
	engine.SetApprovers(approverRegistry{p})
	p.engine = engine
	return p, nil
}

// SetState wires the durable backend and restores the distribution ledger
// and principal totals from it.
func (p *Pool) SetState(state State) error {
	if state == nil {
		return errNilState
	}
	p.state = state
	p.engine.SetState(state)

	snap, err := state.GetDistributionSnapshot()
	if err != nil {
		return err
	}
	p.ledger = distribution.Restore(snap)

	lenders, err := state.ListLenders()
	if err != nil {
		return err
	}
	total := big.NewInt(0)
	for _, info := range lenders {
		if info != nil && info.Principal != nil {
			total.Add(total, info.Principal)
		}
	}
	p.totalPrincipal = total
	return nil
}

// SetTransferService wires the asset transfer collaborator. The asset's
// decimal count fixes the share scale: shares are minted in normalized
// 18-decimal units regardless of the asset's native precision.
func (p *Pool) SetTransferService(svc credit.AssetTransferService) error {
	if svc == nil {
		return errNilTransfer
	}
	decimals := svc.Decimals()
	if decimals > shareDecimals {
		return errDecimalsUnsupported
	}
	p.transfer = svc
	p.shareScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shareDecimals-decimals)), nil)
	p.engine.SetTransferService(svc)
	return nil
}

// SetCollateralCustody wires the collateral custody collaborator.
func (p *Pool) SetCollateralCustody(c credit.CollateralCustody) {
	p.engine.SetCollateralCustody(c)
}

// SetProtocolOracle wires the global protocol config oracle.
func (p *Pool) SetProtocolOracle(o credit.ProtocolOracle) {
	p.oracle = o
	p.engine.SetProtocolOracle(o)
}

// SetAuthorization wires the external authorization oracle. Locally added
// approvers are honored in addition to it.
func (p *Pool) SetAuthorization(a credit.ApproverRegistry) { p.auth = a }

// SetPauses wires the module pause view consulted by the credit engine.
func (p *Pool) SetPauses(v common.PauseView) { p.engine.SetPauses(v) }

// SetEmitter configures the event emitter for pool and credit events.
// Passing nil resets it to a no-op.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
	p.engine.SetEmitter(emitter)
}

// SetLogger configures structured logging for pool operations.
func (p *Pool) SetLogger(logger *slog.Logger) { p.logger = logger }

// SetNowFunc overrides the time source for the pool and the credit engine.
// Primarily intended for tests.
func (p *Pool) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	p.nowFn = now
	p.engine.SetNowFunc(now)
}

func (p *Pool) now() int64 { return p.nowFn() }

func (p *Pool) emit(evt *events.Event) {
	if evt == nil || p.emitter == nil {
		return
	}
	p.emitter.Emit(evt)
}

func (p *Pool) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pool) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

// observe records metrics for one operation and logs rejections.
func (p *Pool) observe(op string, started time.Time, err error) {
	p.metrics.Observe(op, err, started)
	if err != nil {
		p.logDebug("pool operation rejected", "operation", op, "error", err.Error())
	}
}

func (p *Pool) isAdmin(actor [20]byte) bool {
	return p.auth != nil && p.auth.IsAdmin(actor)
}

// approverRegistry resolves approver checks against the external oracle and
// the locally administered approver set. Invoked only while the pool lock is
// held.
type approverRegistry struct{ p *Pool }

func (r approverRegistry) IsApprover(actor [20]byte) bool {
	if r.p.auth != nil && r.p.auth.IsApprover(actor) {
		return true
	}
	_, ok := r.p.approvers[actor]
	return ok
}

func (r approverRegistry) IsAdmin(actor [20]byte) bool { return r.p.isAdmin(actor) }

// liquidityHooks exposes the pool's configuration and distribution ledger to
// the credit engine. The engine only runs inside a pool operation, so these
// methods never take the lock themselves.
type liquidityHooks struct{ p *Pool }

func (h liquidityHooks) IsPoolOn() bool { return h.p.cfg.PoolOn }

func (h liquidityHooks) AprBps() uint64 { return h.p.cfg.AprBps }

func (h liquidityHooks) MinBorrowAmount() *big.Int {
	return new(big.Int).Set(h.p.cfg.MinBorrowAmount)
}

func (h liquidityHooks) MaxBorrowAmount() *big.Int {
	return new(big.Int).Set(h.p.cfg.MaxBorrowAmount)
}

func (h liquidityHooks) Fees() credit.FeeSchedule {
	cfg := h.p.cfg
	return credit.FeeSchedule{
		PlatformFlat:    new(big.Int).Set(cfg.PlatformFeeFlat),
		PlatformBps:     cfg.PlatformFeeBps,
		LateFlat:        new(big.Int).Set(cfg.LateFeeFlat),
		LateBps:         cfg.LateFeeBps,
		EarlyPayoffFlat: new(big.Int).Set(cfg.EarlyPayoffFeeFlat),
		EarlyPayoffBps:  cfg.EarlyPayoffFeeBps,
	}
}

func (h liquidityHooks) GracePeriodSeconds() uint64 { return h.p.cfg.DefaultGraceSeconds }

func (h liquidityHooks) HasShares() bool { return h.p.ledger.TotalShares().Sign() > 0 }

func (h liquidityHooks) DistributeIncome(amount *big.Int) error {
	return h.p.distribute(amount, true)
}

func (h liquidityHooks) DistributeLosses(amount *big.Int) error {
	return h.p.distribute(amount, false)
}
