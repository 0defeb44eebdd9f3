// Package rooms tracks which connections are joined to which live session.
package rooms

import (
	"sort"
	"sync"
	"time"

	"tutorlink/pkg/types"
)

// BillingHandle is the running meter a room owns. Stop must be idempotent.
type BillingHandle interface {
	Stop(reason string) bool
}

type Member struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	JoinedAt     time.Time `json:"joined_at"`
}

type room struct {
	id        string
	kind      types.RoomKind
	members   map[string]Member
	createdAt time.Time

	// claim is non-zero while a billing start is in flight; it is
	// invalidated whenever the room drops below two distinct users.
	claim uint64
	timer BillingHandle

	sharedImage string
	imageSeeded bool
}

func (r *room) distinctUsers() int {
	seen := make(map[string]struct{}, len(r.members))
	for _, m := range r.members {
		seen[m.UserID] = struct{}{}
	}
	return len(seen)
}

func (r *room) snapshot(exclude string) []Member {
	out := make([]Member, 0, len(r.members))
	for id, m := range r.members {
		if id != exclude {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// JoinResult describes the room right after a join. A non-zero
// BillingClaim obliges the caller to either AttachTimer or ReleaseClaim.
type JoinResult struct {
	Kind          types.RoomKind
	Others        []Member
	DistinctUsers int
	Created       bool
	AlreadyMember bool
	BillingClaim  uint64
}

type LeaveResult struct {
	SessionID     string
	Member        Member
	WasMember     bool
	Remaining     []Member
	DistinctUsers int
	Emptied       bool

	// Timer is set when this leave detached the room's meter; the caller
	// must stop it.
	Timer BillingHandle
}

type RoomStats struct {
	SessionID     string         `json:"session_id"`
	Kind          types.RoomKind `json:"kind"`
	Members       []Member       `json:"members"`
	DistinctUsers int            `json:"distinct_users"`
	Billing       bool           `json:"billing"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Tracker maps session ids to member sets. One mutex guards both indexes
// so a disconnect updates every room atomically. Timer Stop calls always
// happen in the caller, after the lock is released.
type Tracker struct {
	mu     sync.Mutex
	rooms  map[string]*room
	byConn map[string]map[string]struct{}
	seq    uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rooms:  make(map[string]*room),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room, creating it if absent. When the room now
// holds exactly two distinct users, is a tutoring room, and has neither a
// meter nor a pending start, the result carries a billing claim. Concurrent
// joins produce at most one claim.
func (t *Tracker) Join(sessionID, connID, userID string, kind types.RoomKind) (JoinResult, error) {
	if sessionID == "" || connID == "" || userID == "" {
		return JoinResult{}, ErrInvalidJoin
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[sessionID]
	created := false
	if !ok {
		r = &room{
			id:        sessionID,
			kind:      kind,
			members:   make(map[string]Member),
			createdAt: time.Now().UTC(),
		}
		t.rooms[sessionID] = r
		created = true
	} else if r.kind != kind {
		return JoinResult{}, ErrKindMismatch
	}

	_, already := r.members[connID]
	if !already {
		r.members[connID] = Member{ConnectionID: connID, UserID: userID, JoinedAt: time.Now().UTC()}
		if t.byConn[connID] == nil {
			t.byConn[connID] = make(map[string]struct{})
		}
		t.byConn[connID][sessionID] = struct{}{}
	}

	res := JoinResult{
		Kind:          r.kind,
		Others:        r.snapshot(connID),
		DistinctUsers: r.distinctUsers(),
		Created:       created,
		AlreadyMember: already,
	}
	if r.kind == types.RoomTutoring && res.DistinctUsers == 2 && r.timer == nil && r.claim == 0 {
		t.seq++
		r.claim = t.seq
		res.BillingClaim = r.claim
	}
	return res, nil
}

// AttachTimer hands the room a started meter. It fails, and the caller
// must stop h, when the claim was invalidated or the room no longer has
// two distinct users.
func (t *Tracker) AttachTimer(sessionID string, claim uint64, h BillingHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok || claim == 0 || r.claim != claim || r.timer != nil || r.distinctUsers() != 2 {
		return false
	}
	r.claim = 0
	r.timer = h
	return true
}

// AdoptTimer attaches a meter whose claim went stale, as long as the room is
// back at two distinct users with no meter. Any newer pending claim is
// dropped; its start cannot get the lease this meter already holds.
func (t *Tracker) AdoptTimer(sessionID string, h BillingHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok || r.kind != types.RoomTutoring || r.timer != nil || r.distinctUsers() != 2 {
		return false
	}
	r.claim = 0
	r.timer = h
	return true
}

// ReleaseClaim abandons a billing start.
func (t *Tracker) ReleaseClaim(sessionID string, claim uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[sessionID]; ok && r.claim == claim {
		r.claim = 0
	}
}

// DetachTimer removes and returns the room's meter, if any.
func (t *Tracker) DetachTimer(sessionID string) BillingHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return nil
	}
	h := r.timer
	r.timer = nil
	r.claim = 0
	return h
}

// DetachTimerIf removes h only if it is still the room's meter. A meter
// that stops itself uses this so it never detaches a successor.
func (t *Tracker) DetachTimerIf(sessionID string, h BillingHandle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok || r.timer != h {
		return false
	}
	r.timer = nil
	return true
}

// Leave removes connID from the room. The room is deleted when empty; its
// meter is detached whenever fewer than two distinct users remain.
func (t *Tracker) Leave(sessionID, connID string) LeaveResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(sessionID, connID)
}

func (t *Tracker) leaveLocked(sessionID, connID string) LeaveResult {
	res := LeaveResult{SessionID: sessionID}
	r, ok := t.rooms[sessionID]
	if !ok {
		return res
	}
	m, member := r.members[connID]
	if !member {
		res.Remaining = r.snapshot("")
		res.DistinctUsers = r.distinctUsers()
		return res
	}

	delete(r.members, connID)
	if set := t.byConn[connID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(t.byConn, connID)
		}
	}

	res.Member = m
	res.WasMember = true
	res.Remaining = r.snapshot("")
	res.DistinctUsers = r.distinctUsers()
	if res.DistinctUsers < 2 {
		res.Timer = r.timer
		r.timer = nil
		r.claim = 0
	}
	if len(r.members) == 0 {
		delete(t.rooms, sessionID)
		res.Emptied = true
	}
	return res
}

// RemoveConnection leaves every room connID belongs to in one critical
// section, so no observer sees the connection in some rooms but not others.
func (t *Tracker) RemoveConnection(connID string) []LeaveResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.byConn[connID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]LeaveResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.leaveLocked(id, connID))
	}
	return out
}

// Members lists the room's connections, nil when the room does not exist.
func (t *Tracker) Members(sessionID string) []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return nil
	}
	return r.snapshot("")
}

// IsMember reports whether connID is in the room.
func (t *Tracker) IsMember(sessionID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return false
	}
	_, member := r.members[connID]
	return member
}

// HasTimer reports whether the room currently owns a meter.
func (t *Tracker) HasTimer(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	return ok && r.timer != nil
}

// SeedSharedImage sets the image stored on the backing request, once per
// room lifetime, and returns the room's current image.
func (t *Tracker) SeedSharedImage(sessionID, image string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return ""
	}
	if !r.imageSeeded {
		r.imageSeeded = true
		if r.sharedImage == "" {
			r.sharedImage = image
		}
	}
	return r.sharedImage
}

// SetSharedImage replaces the room's current image. False when no such room.
func (t *Tracker) SetSharedImage(sessionID, image string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return false
	}
	r.sharedImage = image
	r.imageSeeded = true
	return true
}

// SharedImage returns the room's current image.
func (t *Tracker) SharedImage(sessionID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return "", false
	}
	return r.sharedImage, true
}

// Room returns a snapshot of one room.
func (t *Tracker) Room(sessionID string) (RoomStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return RoomStats{}, false
	}
	return statsOf(r), true
}

// Stats snapshots every room, ordered by session id.
func (t *Tracker) Stats() []RoomStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]RoomStats, 0, len(t.rooms))
	for _, r := range t.rooms {
		out = append(out, statsOf(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func statsOf(r *room) RoomStats {
	return RoomStats{
		SessionID:     r.id,
		Kind:          r.kind,
		Members:       r.snapshot(""),
		DistinctUsers: r.distinctUsers(),
		Billing:       r.timer != nil,
		CreatedAt:     r.createdAt,
	}
}

// DetachAll removes every meter, for shutdown.
func (t *Tracker) DetachAll() []BillingHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []BillingHandle
	for _, r := range t.rooms {
		if r.timer != nil {
			out = append(out, r.timer)
			r.timer = nil
		}
		r.claim = 0
	}
	return out
}
