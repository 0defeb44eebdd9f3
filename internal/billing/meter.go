package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutorlink/internal/metrics"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Outcome is the result of one billing tick.
type Outcome int

const (
	OutcomeCharged Outcome = iota
	OutcomeInsufficientFunds
	OutcomeFailed
	OutcomeLeaseLost
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCharged:
		return "charged"
	case OutcomeInsufficientFunds:
		return types.EndReasonInsufficientFunds
	case OutcomeFailed:
		return "persistence-error"
	case OutcomeLeaseLost:
		return "lease-lost"
	case OutcomeStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Config struct {
	Interval   time.Duration
	UnitCost   float64
	PayeeShare float64
	LeaseTTL   time.Duration

	// OpTimeout bounds the store calls of one tick.
	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   time.Minute,
		UnitCost:   1,
		PayeeShare: 0.75,
		LeaseTTL:   3 * time.Minute,
		OpTimeout:  10 * time.Second,
	}
}

// Account names who pays whom for a live session. SessionID is the room
// key; RecordID is the live session record the totals are added to.
type Account struct {
	SessionID string
	RecordID  string
	PayerID   string
	PayeeID   string
}

func (a Account) valid() bool {
	return a.SessionID != "" && a.PayerID != "" && a.PayeeID != "" && a.PayerID != a.PayeeID
}

// StopHandler is called once when a timer stops itself (insufficient funds,
// persistence failure or a lost lease). It is not called for Stop.
type StopHandler func(t *Timer, outcome Outcome)

// Meter starts and drives billing timers.
type Meter struct {
	ledger  interfaces.BillingLedger
	pusher  interfaces.Pusher
	lease   Lease
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	onStop StopHandler
	closed bool
	wg     sync.WaitGroup
}

func NewMeter(ledger interfaces.BillingLedger, pusher interfaces.Pusher, lease Lease, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Meter {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.UnitCost <= 0 {
		cfg.UnitCost = def.UnitCost
	}
	if cfg.PayeeShare < 0 || cfg.PayeeShare > 1 {
		cfg.PayeeShare = def.PayeeShare
	}
	if cfg.LeaseTTL <= cfg.Interval {
		cfg.LeaseTTL = 3 * cfg.Interval
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if lease == nil {
		lease = NewLocalLease()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Meter{
		ledger:  ledger,
		pusher:  pusher,
		lease:   lease,
		cfg:     cfg,
		logger:  logger.Named("billing"),
		metrics: m,
	}
}

func (m *Meter) Config() Config { return m.cfg }

// OnSelfStop installs the handler for timers that end on their own.
func (m *Meter) OnSelfStop(fn StopHandler) {
	m.mu.Lock()
	m.onStop = fn
	m.mu.Unlock()
}

const (
	acquireAttempts = 3
	acquireBackoff  = 50 * time.Millisecond
)

// Start acquires the session's lease and launches a timer that ticks every
// Interval. The first charge happens one full interval after Start.
func (m *Meter) Start(ctx context.Context, acct Account) (*Timer, error) {
	if !acct.valid() {
		return nil, ErrInvalidAccount
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrMeterClosed
	}

	owner := uuid.NewString()
	// A timer that was just stopped may still be releasing its lease.
	var acquired bool
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		ok, err := m.lease.Acquire(ctx, acct.SessionID, owner, m.cfg.LeaseTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquireBackoff):
		}
	}
	if !acquired {
		return nil, ErrLeaseHeld
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &Timer{
		acct:    acct,
		owner:   owner,
		meter:   m,
		ctx:     tctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now().UTC(),
	}
	m.metrics.TimerStarted()
	m.logger.Info("billing started",
		zap.String("session_id", acct.SessionID),
		zap.String("payer", acct.PayerID),
		zap.String("payee", acct.PayeeID))

	m.wg.Add(1)
	go t.run()
	return t, nil
}

// Tick performs one billing interval for t: debit the payer, credit the
// payee their share, then add the interval to the session's totals. The
// payee is never credited unless the debit succeeded. Once the debit is
// attempted the tick runs to completion even if the timer is stopped.
func (m *Meter) Tick(t *Timer) Outcome {
	if t.ctx.Err() != nil {
		return OutcomeStopped
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), m.cfg.OpTimeout)
	defer cancel()

	acct := t.acct
	log := m.logger.With(zap.String("session_id", acct.SessionID))

	held, err := m.lease.Refresh(ctx, acct.SessionID, t.owner, m.cfg.LeaseTTL)
	if err != nil {
		log.Error("lease refresh failed", zap.Error(err))
		return OutcomeFailed
	}
	if !held {
		log.Warn("billing lease lost")
		return OutcomeLeaseLost
	}

	unit := m.cfg.UnitCost
	payer, err := m.ledger.DebitCoins(ctx, acct.PayerID, unit)
	if errors.Is(err, interfaces.ErrInsufficientFunds) {
		log.Info("payer out of coins", zap.String("payer", acct.PayerID))
		return OutcomeInsufficientFunds
	}
	if err != nil {
		log.Error("debit failed", zap.String("payer", acct.PayerID), zap.Error(err))
		return OutcomeFailed
	}
	m.pusher.PushToUser(acct.PayerID, coinUpdate(acct.SessionID, payer))

	earned := unit * m.cfg.PayeeShare
	payee, err := m.ledger.CreditEarned(ctx, acct.PayeeID, earned)
	if err != nil {
		log.Error("credit failed after debit",
			zap.String("payer", acct.PayerID),
			zap.String("payee", acct.PayeeID),
			zap.Float64("amount", earned),
			zap.Error(err))
		return OutcomeFailed
	}
	m.pusher.PushToUser(acct.PayeeID, coinUpdate(acct.SessionID, payee))

	if acct.RecordID != "" {
		if err := m.ledger.RecordBilling(ctx, acct.RecordID, unit, earned); err != nil {
			log.Warn("session totals not updated", zap.String("record_id", acct.RecordID), zap.Error(err))
		}
	}

	t.charged.Add(1)
	m.metrics.BillingTick(OutcomeCharged.String(), unit, earned)
	return OutcomeCharged
}

func coinUpdate(sessionID string, u *types.User) *types.Outbound {
	return types.NewOutbound(types.EventCoinUpdate, &types.CoinUpdatePayload{
		SessionID:   sessionID,
		Coins:       u.Coins,
		EarnedCoins: u.EarnedCoins,
	})
}

// Close refuses new timers and waits for running ones to exit. Callers stop
// their timers first.
func (m *Meter) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Meter) selfStopped(t *Timer, outcome Outcome) {
	m.metrics.BillingTick(outcome.String(), 0, 0)
	m.mu.Lock()
	fn := m.onStop
	m.mu.Unlock()
	if fn != nil {
		fn(t, outcome)
	}
}

// Timer is one session's running meter.
type Timer struct {
	acct    Account
	owner   string
	meter   *Meter
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
	reason   atomic.Value
	charged  atomic.Int64
}

func (t *Timer) run() {
	defer t.meter.wg.Done()
	defer close(t.done)

	ticker := time.NewTicker(t.meter.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			outcome := t.meter.Tick(t)
			if outcome == OutcomeCharged {
				continue
			}
			if t.Stop(outcome.String()) {
				t.meter.selfStopped(t, outcome)
			}
			return
		}
	}
}

// Stop cancels the timer and releases its lease. Only the first call does
// anything; it reports whether this call was the one that stopped it.
func (t *Timer) Stop(reason string) bool {
	stopped := false
	t.stopOnce.Do(func() {
		stopped = true
		t.reason.Store(reason)
		t.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), t.meter.cfg.OpTimeout)
		defer cancel()
		if err := t.meter.lease.Release(ctx, t.acct.SessionID, t.owner); err != nil {
			t.meter.logger.Warn("lease release failed", zap.String("session_id", t.acct.SessionID), zap.Error(err))
		}
		t.meter.metrics.TimerStopped(reason)
		t.meter.logger.Info("billing stopped",
			zap.String("session_id", t.acct.SessionID),
			zap.String("reason", reason),
			zap.Int64("intervals", t.charged.Load()))
	})
	return stopped
}

func (t *Timer) Account() Account { return t.acct }

func (t *Timer) StartedAt() time.Time { return t.started }

// Charged is the number of intervals billed so far.
func (t *Timer) Charged() int64 { return t.charged.Load() }

// Stopped reports whether Stop has run.
func (t *Timer) Stopped() bool { return t.ctx.Err() != nil }

// Reason is the stop reason, empty while running.
func (t *Timer) Reason() string {
	r, _ := t.reason.Load().(string)
	return r
}

// Done closes when the ticking goroutine exits.
func (t *Timer) Done() <-chan struct{} { return t.done }
