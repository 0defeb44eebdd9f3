package database

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dbconfig "tutorlink/pkg/database"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")
	cfg.LogLevel = "silent"

	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func seedUser(t *testing.T, m *Manager, id string, coins float64) {
	t.Helper()
	require.NoError(t, m.CreateUser(context.Background(), &types.User{
		ID:     id,
		Name:   "user " + id,
		Coins:  coins,
		Skills: []types.Skill{{Subject: "Math", Topic: "Algebra", Level: "expert"}},
	}))
}

func TestManager_UserRoundTrip(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, m, "alice", 5)

	u, err := m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5.0, u.Coins)
	require.Len(t, u.Skills, 1)
	assert.Equal(t, "Algebra", u.Skills[0].Topic)

	_, err = m.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, m.SetStatusConnection(ctx, "alice", "conn-1"))
	u, err = m.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", u.StatusConnectionID)
	assert.ErrorIs(t, m.SetStatusConnection(ctx, "nobody", "conn-2"), interfaces.ErrNotFound)
}

func TestManager_DebitCoins(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, m, "payer", 1)

	u, err := m.DebitCoins(ctx, "payer", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, u.Coins)

	_, err = m.DebitCoins(ctx, "payer", 1)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientFunds)

	_, err = m.DebitCoins(ctx, "ghost", 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestManager_DebitCoins_ConcurrentNeverOverdraws(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, m, "payer", 5)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.DebitCoins(ctx, "payer", 1); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	u, err := m.GetUser(ctx, "payer")
	require.NoError(t, err)
	assert.Equal(t, 0.0, u.Coins)
}

func TestManager_CreditEarned(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, m, "tutor", 0)

	u, err := m.CreditEarned(ctx, "tutor", 0.75)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, u.EarnedCoins, 1e-9)
	u, err = m.CreditEarned(ctx, "tutor", 0.75)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, u.EarnedCoins, 1e-9)

	_, err = m.CreditEarned(ctx, "ghost", 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestManager_RelationshipLifecycle(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	req := &types.RelationshipRequest{ID: "r1", RequesterID: "a", RecipientID: "b", Status: types.StatusPending}
	require.NoError(t, m.CreateRelationship(ctx, req))

	found, err := m.FindRelationship(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, "r1", found.ID)

	// A second record for the same unordered pair is refused by the index.
	dup := &types.RelationshipRequest{ID: "r2", RequesterID: "b", RecipientID: "a", Status: types.StatusPending}
	assert.ErrorIs(t, m.CreateRelationship(ctx, dup), interfaces.ErrConflict)

	require.NoError(t, m.ApproveRelationship(ctx, "r1"))
	assert.ErrorIs(t, m.ApproveRelationship(ctx, "r1"), interfaces.ErrNotFoundOrProcessed)

	mates, err := m.ListMates(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, mates)
	mates, err = m.ListMates(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, mates)

	require.NoError(t, m.DeleteRelationship(ctx, "r1"))
	_, err = m.GetRelationship(ctx, "r1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	mates, err = m.ListMates(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, mates)

	assert.ErrorIs(t, m.DeleteRelationship(ctx, "r1"), interfaces.ErrNotFoundOrProcessed)
}

func TestManager_RejectAndReopen(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateRelationship(ctx, &types.RelationshipRequest{
		ID: "r1", RequesterID: "a", RecipientID: "b", Status: types.StatusPending,
	}))

	assert.ErrorIs(t, m.ReopenRelationship(ctx, "r1", "b", "a"), interfaces.ErrNotFoundOrProcessed)
	require.NoError(t, m.RejectRelationship(ctx, "r1"))
	assert.ErrorIs(t, m.RejectRelationship(ctx, "r1"), interfaces.ErrNotFoundOrProcessed)

	require.NoError(t, m.ReopenRelationship(ctx, "r1", "b", "a"))
	r, err := m.GetRelationship(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, r.Status)
	assert.Equal(t, "b", r.RequesterID)
	assert.Equal(t, "a", r.RecipientID)
}

func TestManager_SessionRequestStatusIsConditional(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateSessionRequest(ctx, &types.SessionRequest{
		ID: "sr1", RequesterID: "learner", TutorID: "tutor", Subject: "Math", Status: types.StatusPending,
	}))

	found, err := m.FindPendingSessionRequest(ctx, "learner", "tutor")
	require.NoError(t, err)
	assert.Equal(t, "sr1", found.ID)
	_, err = m.FindPendingSessionRequest(ctx, "tutor", "learner")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, m.UpdateSessionRequestStatus(ctx, "sr1", types.StatusPending, types.StatusApproved))
	assert.ErrorIs(t,
		m.UpdateSessionRequestStatus(ctx, "sr1", types.StatusPending, types.StatusRejected),
		interfaces.ErrNotFoundOrProcessed)

	r, err := m.GetSessionRequest(ctx, "sr1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, r.Status)
	assert.NotNil(t, r.RespondedAt)
}

func TestManager_SessionTransitionsAndBilling(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	s := &types.Session{ID: "s1", RequestID: "sr1", RequesterID: "learner", TutorID: "tutor", Status: types.SessionScheduled}
	require.NoError(t, m.CreateSession(ctx, s))

	assert.ErrorIs(t, m.CreateSession(ctx, &types.Session{
		ID: "s2", RequestID: "sr1", Status: types.SessionScheduled,
	}), interfaces.ErrConflict)

	got, err := m.FindSessionByRequest(ctx, "sr1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)

	got, err = m.TransitionSession(ctx, "s1", types.SessionActive, "learner")
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, m.RecordBilling(ctx, "s1", 1, 0.75))
	require.NoError(t, m.RecordBilling(ctx, "s1", 1, 0.75))
	got, err = m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MinutesBilled)
	assert.InDelta(t, 2.0, got.CoinsCharged, 1e-9)
	assert.InDelta(t, 1.5, got.CoinsEarned, 1e-9)

	got, err = m.TransitionSession(ctx, "s1", types.SessionCancelled, "tutor")
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, got.Status)
	assert.Equal(t, "tutor", got.CancelledBy)
	assert.NotNil(t, got.EndedAt)

	_, err = m.TransitionSession(ctx, "s1", types.SessionCompleted, "")
	assert.ErrorIs(t, err, interfaces.ErrNotFoundOrProcessed)
}

func TestManager_Notifications(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, m.CreateNotification(ctx, &types.Notification{
			ID:          id,
			RecipientID: "bob",
			Type:        "relationship-request",
			Message:     "hello",
			DeliveredAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	list, err := m.ListNotifications(ctx, "bob", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n3", list[0].ID)
	assert.False(t, list[0].Read)
}

func TestManager_InterviewRequests(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.CreateInterviewRequest(ctx, &types.InterviewRequest{
		ID: "iv1", InterviewerID: "hr", CandidateID: "cand", Status: types.StatusApproved,
	}))
	iv, err := m.GetInterviewRequest(ctx, "iv1")
	require.NoError(t, err)
	assert.Equal(t, "cand", iv.CandidateID)

	require.NoError(t, m.CancelInterviewRequest(ctx, "iv1"))
	iv, err = m.GetInterviewRequest(ctx, "iv1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, iv.Status)
	assert.ErrorIs(t, m.CancelInterviewRequest(ctx, "iv1"), interfaces.ErrNotFoundOrProcessed)
	assert.ErrorIs(t, m.CancelInterviewRequest(ctx, "nope"), interfaces.ErrNotFoundOrProcessed)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.HealthCheck(ctx))
	require.NoError(t, m.Close())
	assert.Error(t, m.HealthCheck(ctx))
	assert.NoError(t, m.Close())
	assert.ErrorIs(t, m.CreateUser(ctx, &types.User{ID: "late"}), interfaces.ErrPersistence)
}

func TestManager_MemoryDatabase(t *testing.T) {
	m, err := NewManager(dbconfig.MemoryConfig(), nil)
	require.NoError(t, err)
	defer m.Close()

	seedUser(t, m, "mem", 2)
	u, err := m.DebitCoins(context.Background(), "mem", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, u.Coins)
}
