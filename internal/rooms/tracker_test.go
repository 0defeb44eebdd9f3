package rooms

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorlink/pkg/types"
)

type fakeTimer struct {
	stops atomic.Int32
}

func (f *fakeTimer) Stop(reason string) bool {
	return f.stops.Add(1) == 1
}

func TestTracker_JoinClaimsBillingAtTwoDistinctUsers(t *testing.T) {
	tr := NewTracker()

	res, err := tr.Join("s1", "c1", "learner", types.RoomTutoring)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, res.Others)
	assert.Zero(t, res.BillingClaim)

	// A second device of the same user is not a second party.
	res, err = tr.Join("s1", "c1b", "learner", types.RoomTutoring)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DistinctUsers)
	assert.Zero(t, res.BillingClaim)

	res, err = tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DistinctUsers)
	assert.Len(t, res.Others, 2)
	assert.NotZero(t, res.BillingClaim)

	// Re-joining while the claim is outstanding does not issue another.
	res, err = tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)
	assert.Zero(t, res.BillingClaim)
}

func TestTracker_InterviewRoomsNeverClaim(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("iv", "c1", "hr", types.RoomInterview)
	res, err := tr.Join("iv", "c2", "cand", types.RoomInterview)
	require.NoError(t, err)
	assert.Zero(t, res.BillingClaim)

	_, err = tr.Join("iv", "c3", "x", types.RoomTutoring)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestTracker_ConcurrentJoinsYieldOneClaim(t *testing.T) {
	for round := 0; round < 50; round++ {
		tr := NewTracker()
		var claims atomic.Int32
		var wg sync.WaitGroup
		for i, user := range []string{"learner", "tutor", "learner", "tutor"} {
			wg.Add(1)
			go func(conn, user string) {
				defer wg.Done()
				res, err := tr.Join("s1", conn, user, types.RoomTutoring)
				if err == nil && res.BillingClaim != 0 {
					claims.Add(1)
				}
			}(fmt.Sprintf("c%d", i), user)
		}
		wg.Wait()
		require.Equal(t, int32(1), claims.Load(), "round %d", round)
	}
}

func TestTracker_AttachTimer(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	res, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)

	timer := &fakeTimer{}
	assert.False(t, tr.AttachTimer("s1", res.BillingClaim+1, timer), "wrong claim")
	assert.True(t, tr.AttachTimer("s1", res.BillingClaim, timer))
	assert.True(t, tr.HasTimer("s1"))
	assert.False(t, tr.AttachTimer("s1", res.BillingClaim, &fakeTimer{}), "claim is single use")

	// With a meter attached no further claim is issued.
	res, _ = tr.Join("s1", "c3", "tutor", types.RoomTutoring)
	assert.Zero(t, res.BillingClaim)
}

func TestTracker_ClaimInvalidatedByLeave(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	first, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	require.NotZero(t, first.BillingClaim)

	tr.Leave("s1", "c2")
	second, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	require.NotZero(t, second.BillingClaim)
	assert.NotEqual(t, first.BillingClaim, second.BillingClaim)

	assert.False(t, tr.AttachTimer("s1", first.BillingClaim, &fakeTimer{}))
	assert.True(t, tr.AttachTimer("s1", second.BillingClaim, &fakeTimer{}))
}

func TestTracker_AdoptTimerAfterRejoin(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	first, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	tr.Leave("s1", "c2")

	stale := &fakeTimer{}
	assert.False(t, tr.AdoptTimer("s1", stale), "one user is never billed")

	second, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	require.NotZero(t, second.BillingClaim)
	require.False(t, tr.AttachTimer("s1", first.BillingClaim, stale))
	assert.True(t, tr.AdoptTimer("s1", stale))
	assert.True(t, tr.HasTimer("s1"))

	assert.False(t, tr.AttachTimer("s1", second.BillingClaim, &fakeTimer{}), "the newer claim was dropped")
	tr.ReleaseClaim("s1", second.BillingClaim)
	assert.Equal(t, BillingHandle(stale), tr.DetachTimer("s1"))

	_, _ = tr.Join("iv", "c1", "learner", types.RoomInterview)
	_, _ = tr.Join("iv", "c2", "tutor", types.RoomInterview)
	assert.False(t, tr.AdoptTimer("iv", &fakeTimer{}))
}

func TestTracker_ReleaseClaimAllowsRetry(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	res, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	tr.ReleaseClaim("s1", res.BillingClaim)

	again, _ := tr.Join("s1", "c3", "tutor", types.RoomTutoring)
	assert.NotZero(t, again.BillingClaim)
}

func TestTracker_LeaveDetachesTimer(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	res, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	timer := &fakeTimer{}
	require.True(t, tr.AttachTimer("s1", res.BillingClaim, timer))

	lr := tr.Leave("s1", "c2")
	assert.True(t, lr.WasMember)
	assert.Equal(t, "tutor", lr.Member.UserID)
	assert.False(t, lr.Emptied)
	assert.Equal(t, timer, lr.Timer)
	assert.Len(t, lr.Remaining, 1)

	lr = tr.Leave("s1", "c1")
	assert.True(t, lr.Emptied)
	assert.Nil(t, lr.Timer)
	_, ok := tr.Room("s1")
	assert.False(t, ok)

	lr = tr.Leave("s1", "c1")
	assert.False(t, lr.WasMember)
}

func TestTracker_NoTimerSurvivesEmptyRoom(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	_, _ = tr.Join("s1", "c1b", "learner", types.RoomTutoring)
	res, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	timer := &fakeTimer{}
	require.True(t, tr.AttachTimer("s1", res.BillingClaim, timer))

	// The learner's second device leaving keeps two distinct users.
	lr := tr.Leave("s1", "c1b")
	assert.Nil(t, lr.Timer)
	assert.True(t, tr.HasTimer("s1"))

	var detached []BillingHandle
	for _, c := range []string{"c1", "c2"} {
		if lr := tr.Leave("s1", c); lr.Timer != nil {
			detached = append(detached, lr.Timer)
		}
	}
	assert.Equal(t, []BillingHandle{timer}, detached)
	assert.False(t, tr.HasTimer("s1"))
}

func TestTracker_RemoveConnectionLeavesEveryRoom(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	_, _ = tr.Join("s2", "c1", "learner", types.RoomTutoring)
	_, _ = tr.Join("s2", "c2", "tutor", types.RoomTutoring)

	results := tr.RemoveConnection("c1")
	require.Len(t, results, 2)
	assert.Equal(t, "s1", results[0].SessionID)
	assert.True(t, results[0].Emptied)
	assert.Equal(t, "s2", results[1].SessionID)
	assert.Len(t, results[1].Remaining, 1)

	assert.False(t, tr.IsMember("s2", "c1"))
	assert.Nil(t, tr.RemoveConnection("c1"))
}

func TestTracker_DetachTimerIf(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	res, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	timer := &fakeTimer{}
	require.True(t, tr.AttachTimer("s1", res.BillingClaim, timer))

	assert.False(t, tr.DetachTimerIf("s1", &fakeTimer{}))
	assert.True(t, tr.DetachTimerIf("s1", timer))
	assert.False(t, tr.DetachTimerIf("s1", timer))
	assert.Nil(t, tr.DetachTimer("s1"))
}

func TestTracker_SharedImage(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, "", tr.SeedSharedImage("s1", "img"), "no room yet")

	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	assert.Equal(t, "stored.png", tr.SeedSharedImage("s1", "stored.png"))
	assert.Equal(t, "stored.png", tr.SeedSharedImage("s1", "other.png"), "seeded once")

	require.True(t, tr.SetSharedImage("s1", ""))
	assert.Equal(t, "", tr.SeedSharedImage("s1", "stored.png"), "removal sticks")

	img, ok := tr.SharedImage("s1")
	assert.True(t, ok)
	assert.Empty(t, img)
}

func TestTracker_StatsAndDetachAll(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Join("s1", "c1", "learner", types.RoomTutoring)
	res, _ := tr.Join("s1", "c2", "tutor", types.RoomTutoring)
	_, _ = tr.Join("iv", "c3", "hr", types.RoomInterview)
	timer := &fakeTimer{}
	require.True(t, tr.AttachTimer("s1", res.BillingClaim, timer))

	stats := tr.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "iv", stats[0].SessionID)
	assert.True(t, stats[1].Billing)
	assert.Equal(t, 2, stats[1].DistinctUsers)

	assert.Equal(t, []BillingHandle{timer}, tr.DetachAll())
	assert.False(t, tr.HasTimer("s1"))
}
