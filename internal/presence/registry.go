package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Entry is the snapshot of one registered connection.
type Entry struct {
	ConnectionID string               `json:"connection_id"`
	UserID       string               `json:"user_id"`
	Name         string               `json:"name"`
	Skills       []types.Skill        `json:"skills"`
	Rating       float64              `json:"rating"`
	Status       types.PresenceStatus `json:"status"`
	ConnectedAt  time.Time            `json:"connected_at"`

	conn interfaces.Connection
}

// Conn returns the live connection behind the entry.
func (e Entry) Conn() interfaces.Connection { return e.conn }

// Registry maps connection ids to presence entries. It is the only answer
// to "who is reachable right now". Store calls never run under mu.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	users  interfaces.UserStore
	logger *zap.Logger
}

var _ interfaces.Pusher = (*Registry)(nil)

func NewRegistry(users interfaces.UserStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*Entry),
		users:   users,
		logger:  logger.Named("presence"),
	}
}

// Register loads the user's profile and stores or overwrites the entry for
// conn. An unknown user id creates no entry.
func (r *Registry) Register(ctx context.Context, conn interfaces.Connection, userID string) (Entry, error) {
	if conn == nil {
		return Entry{}, ErrNilConnection
	}
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		r.logger.Warn("register: user lookup failed",
			zap.String("connection_id", conn.ID()), zap.String("user_id", userID), zap.Error(err))
		return Entry{}, err
	}

	entry := &Entry{
		ConnectionID: conn.ID(),
		UserID:       user.ID,
		Name:         user.Name,
		Skills:       user.Skills,
		Rating:       user.Rating,
		Status:       types.PresenceAvailable,
		ConnectedAt:  time.Now().UTC(),
		conn:         conn,
	}
	conn.SetUserID(user.ID)

	r.mu.Lock()
	r.entries[conn.ID()] = entry
	snapshot := *entry
	r.mu.Unlock()

	if err := r.users.SetStatusConnection(ctx, user.ID, conn.ID()); err != nil {
		r.logger.Warn("register: failed to record status connection", zap.String("user_id", user.ID), zap.Error(err))
	}
	r.logger.Debug("registered", zap.String("connection_id", conn.ID()), zap.String("user_id", user.ID))
	return snapshot, nil
}

// UpdateSkills replaces the cached skills. A nil slice re-fetches them
// from the store.
func (r *Registry) UpdateSkills(ctx context.Context, connID string, skills []types.Skill) ([]types.Skill, error) {
	entry, ok := r.Get(connID)
	if !ok {
		return nil, ErrNotRegistered
	}
	if skills == nil {
		user, err := r.users.GetUser(ctx, entry.UserID)
		if err != nil {
			return nil, err
		}
		skills = user.Skills
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return nil, ErrNotRegistered
	}
	e.Skills = skills
	return skills, nil
}

func (r *Registry) SetStatus(connID string, status types.PresenceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return ErrNotRegistered
	}
	e.Status = status
	return nil
}

func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Conn returns the live connection registered under connID.
func (r *Registry) Conn(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Remove drops the entry for connID and returns it.
func (r *Registry) Remove(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, connID)
	return *e, true
}

// FindByUserID scans every entry; a user may be connected from several
// devices.
func (r *Registry) FindByUserID(userID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

// IsOnline reports whether userID has at least one registered connection.
func (r *Registry) IsOnline(userID string) bool {
	return len(r.FindByUserID(userID)) > 0
}

// PushToUser writes msg to every connection of userID outside the lock and
// returns how many writes succeeded.
func (r *Registry) PushToUser(userID string, msg interface{}) int {
	entries := r.FindByUserID(userID)
	sent := 0
	for _, e := range entries {
		if err := e.conn.WriteJSON(msg); err != nil {
			r.logger.Debug("push failed", zap.String("connection_id", e.ConnectionID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Counts returns registered connections and distinct users.
func (r *Registry) Counts() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.entries))
	for _, e := range r.entries {
		seen[e.UserID] = struct{}{}
	}
	return len(r.entries), len(seen)
}

// FindTutors returns one match per connected user (other than
// excludeUserID) with at least one skill satisfying the criteria, best
// rated first.
func (r *Registry) FindTutors(criteria types.FindTutorsPayload, excludeUserID string) []types.TutorMatch {
	r.mu.RLock()
	byUser := make(map[string]types.TutorMatch)
	for _, e := range r.entries {
		if e.UserID == excludeUserID {
			continue
		}
		if _, done := byUser[e.UserID]; done {
			continue
		}
		for _, s := range e.Skills {
			if SkillMatches(s, criteria) {
				byUser[e.UserID] = types.TutorMatch{
					UserID: e.UserID,
					Name:   e.Name,
					Rating: e.Rating,
					Skills: e.Skills,
					Status: e.Status,
				}
				break
			}
		}
	}
	r.mu.RUnlock()

	out := make([]types.TutorMatch, 0, len(byUser))
	for _, m := range byUser {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// IsNotFound reports whether a Register failure means the user id did not
// resolve, as opposed to a store outage.
func IsNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
