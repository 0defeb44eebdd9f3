package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tutorlink/internal/testutil"
	"tutorlink/pkg/types"
)

type pushRecord struct {
	userID string
	msg    *types.Outbound
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []pushRecord
}

func (p *recordingPusher) PushToUser(userID string, msg interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, _ := msg.(*types.Outbound)
	p.pushes = append(p.pushes, pushRecord{userID: userID, msg: out})
	return 1
}

func (p *recordingPusher) forUser(userID string) []*types.Outbound {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*types.Outbound
	for _, r := range p.pushes {
		if r.userID == userID {
			out = append(out, r.msg)
		}
	}
	return out
}

func newTestMeter(t *testing.T, interval time.Duration) (*Meter, *recordingPusher, *LocalLease) {
	t.Helper()
	store := testutil.NewStore(t)
	testutil.SeedUser(t, store, "learner", 5)
	testutil.SeedUser(t, store, "tutor", 0)

	pusher := &recordingPusher{}
	lease := NewLocalLease()
	m := NewMeter(store, pusher, lease, Config{Interval: interval, UnitCost: 1, PayeeShare: 0.75}, zaptest.NewLogger(t), nil)
	t.Cleanup(m.Close)
	return m, pusher, lease
}

var account = Account{SessionID: "req-1", PayerID: "learner", PayeeID: "tutor"}

func TestMeter_TickMovesCoins(t *testing.T) {
	m, pusher, _ := newTestMeter(t, time.Hour)
	timer, err := m.Start(context.Background(), account)
	require.NoError(t, err)
	defer timer.Stop(types.EndReasonHangup)

	assert.Equal(t, OutcomeCharged, m.Tick(timer))
	assert.Equal(t, int64(1), timer.Charged())

	payer := pusher.forUser("learner")
	require.Len(t, payer, 1)
	assert.Equal(t, types.EventCoinUpdate, payer[0].Event)
	assert.Equal(t, 4.0, payer[0].Data.(*types.CoinUpdatePayload).Coins)

	payee := pusher.forUser("tutor")
	require.Len(t, payee, 1)
	assert.Equal(t, 0.75, payee[0].Data.(*types.CoinUpdatePayload).EarnedCoins)
}

func TestMeter_InsufficientFundsNeverCredits(t *testing.T) {
	m, pusher, _ := newTestMeter(t, time.Hour)
	timer, err := m.Start(context.Background(), Account{SessionID: "req-2", PayerID: "tutor", PayeeID: "learner"})
	require.NoError(t, err)
	defer timer.Stop(types.EndReasonHangup)

	assert.Equal(t, OutcomeInsufficientFunds, m.Tick(timer))
	assert.Empty(t, pusher.forUser("learner"), "payee must not be credited")
	assert.Empty(t, pusher.forUser("tutor"))
}

func TestMeter_SelfStopsWhenPayerRunsDry(t *testing.T) {
	store := testutil.NewStore(t)
	testutil.SeedUser(t, store, "learner", 2)
	testutil.SeedUser(t, store, "tutor", 0)
	pusher := &recordingPusher{}
	m := NewMeter(store, pusher, NewLocalLease(), Config{Interval: 20 * time.Millisecond, UnitCost: 1, PayeeShare: 0.75}, zaptest.NewLogger(t), nil)
	t.Cleanup(m.Close)

	stopped := make(chan Outcome, 1)
	m.OnSelfStop(func(_ *Timer, o Outcome) { stopped <- o })

	timer, err := m.Start(context.Background(), account)
	require.NoError(t, err)

	select {
	case o := <-stopped:
		assert.Equal(t, OutcomeInsufficientFunds, o)
	case <-time.After(5 * time.Second):
		t.Fatal("timer never stopped")
	}
	<-timer.Done()

	assert.Equal(t, int64(2), timer.Charged())
	assert.Equal(t, types.EndReasonInsufficientFunds, timer.Reason())
	assert.False(t, timer.Stop(types.EndReasonHangup), "already stopped")

	payer, err := store.GetUser(context.Background(), "learner")
	require.NoError(t, err)
	assert.Equal(t, 0.0, payer.Coins)
	payee, err := store.GetUser(context.Background(), "tutor")
	require.NoError(t, err)
	assert.Equal(t, 1.5, payee.EarnedCoins)
}

func TestMeter_StopIsIdempotentAndSilent(t *testing.T) {
	m, _, lease := newTestMeter(t, time.Hour)
	called := false
	m.OnSelfStop(func(*Timer, Outcome) { called = true })

	timer, err := m.Start(context.Background(), account)
	require.NoError(t, err)
	assert.True(t, lease.Held(account.SessionID))

	assert.True(t, timer.Stop(types.EndReasonHangup))
	assert.False(t, timer.Stop(types.EndReasonHangup))
	<-timer.Done()

	assert.True(t, timer.Stopped())
	assert.False(t, lease.Held(account.SessionID))
	assert.Equal(t, OutcomeStopped, m.Tick(timer))
	assert.False(t, called)
}

func TestMeter_LeaseBlocksSecondTimer(t *testing.T) {
	m, _, _ := newTestMeter(t, time.Hour)
	first, err := m.Start(context.Background(), account)
	require.NoError(t, err)

	_, err = m.Start(context.Background(), account)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	first.Stop(types.EndReasonHangup)
	second, err := m.Start(context.Background(), account)
	require.NoError(t, err)
	second.Stop(types.EndReasonHangup)
}

func TestMeter_RejectsBadAccounts(t *testing.T) {
	m, _, _ := newTestMeter(t, time.Hour)
	_, err := m.Start(context.Background(), Account{SessionID: "s", PayerID: "a", PayeeID: "a"})
	assert.ErrorIs(t, err, ErrInvalidAccount)

	m.Close()
	_, err = m.Start(context.Background(), account)
	assert.ErrorIs(t, err, ErrMeterClosed)
}

func TestMeter_MissingPayeeFailsTick(t *testing.T) {
	m, _, _ := newTestMeter(t, time.Hour)
	timer, err := m.Start(context.Background(), Account{SessionID: "req-3", PayerID: "learner", PayeeID: "ghost"})
	require.NoError(t, err)
	defer timer.Stop(types.EndReasonHangup)

	assert.Equal(t, OutcomeFailed, m.Tick(timer))
}
