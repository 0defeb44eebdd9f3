package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbconfig "tutorlink/pkg/database"
	"tutorlink/pkg/interfaces"
	"tutorlink/pkg/types"
)

// Manager implements interfaces.Store on gorm.
//
// SQLite allows one writer at a time. Write paths take writeMu so
// concurrent transactions queue in-process instead of failing with
// SQLITE_BUSY; reads go straight to the pool. Postgres skips the mutex.
type Manager struct {
	db      *gorm.DB
	config  *dbconfig.Config
	logger  *zap.Logger
	writeMu sync.Mutex
	serial  bool

	mu     sync.RWMutex
	closed bool
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the database and migrates the schema.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		db:     db,
		config: config,
		logger: logger.Named("database"),
		serial: config.Driver == dbconfig.DriverSQLite,
	}
	if err := m.Migrate(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Migrate creates or updates every table the core uses.
func (m *Manager) Migrate() error {
	err := m.db.AutoMigrate(
		&types.User{},
		&types.Mate{},
		&types.RelationshipRequest{},
		&types.SessionRequest{},
		&types.Session{},
		&types.InterviewRequest{},
		&types.Notification{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB exposes the gorm handle for tests and seed tooling.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

func (m *Manager) write(ctx context.Context, op func(tx *gorm.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: database manager is closed", interfaces.ErrPersistence)
	}
	if m.serial {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
	}
	return op(m.db.WithContext(ctx))
}

func (m *Manager) read(ctx context.Context) *gorm.DB {
	return m.db.WithContext(ctx)
}

// classify maps driver errors onto the shared taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return interfaces.ErrNotFound
	case errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, interfaces.ErrNotFoundOrProcessed),
		errors.Is(err, interfaces.ErrInsufficientFunds),
		errors.Is(err, interfaces.ErrConflict),
		errors.Is(err, interfaces.ErrPersistence):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", op, interfaces.ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %v", op, interfaces.ErrPersistence, err)
	}
}

// Users

func (m *Manager) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var u types.User
	if err := m.read(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, classify("get user", err)
	}
	return &u, nil
}

func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return classify("create user", tx.Create(user).Error)
	})
}

func (m *Manager) SetStatusConnection(ctx context.Context, userID, connectionID string) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.User{}).Where("id = ?", userID).Update("status_connection_id", connectionID)
		if res.Error != nil {
			return classify("set status connection", res.Error)
		}
		if res.RowsAffected == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

func (m *Manager) ListMates(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := m.read(ctx).Model(&types.Mate{}).Where("user_id = ?", userID).Order("mate_id").Pluck("mate_id", &ids).Error
	if err != nil {
		return nil, classify("list mates", err)
	}
	return ids, nil
}

// Billing ledger

func (m *Manager) DebitCoins(ctx context.Context, userID string, amount float64) (*types.User, error) {
	err := m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.User{}).
			Where("id = ? AND coins >= ?", userID, amount).
			Update("coins", gorm.Expr("coins - ?", amount))
		if res.Error != nil {
			return classify("debit coins", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var count int64
		if err := tx.Model(&types.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return classify("debit coins", err)
		}
		if count == 0 {
			return interfaces.ErrNotFound
		}
		return interfaces.ErrInsufficientFunds
	})
	if err != nil {
		return nil, err
	}
	return m.GetUser(ctx, userID)
}

func (m *Manager) CreditEarned(ctx context.Context, userID string, amount float64) (*types.User, error) {
	err := m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.User{}).
			Where("id = ?", userID).
			Update("earned_coins", gorm.Expr("earned_coins + ?", amount))
		if res.Error != nil {
			return classify("credit earned", res.Error)
		}
		if res.RowsAffected == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.GetUser(ctx, userID)
}

func (m *Manager) RecordBilling(ctx context.Context, sessionID string, charged, earned float64) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"minutes_billed": gorm.Expr("minutes_billed + 1"),
			"coins_charged":  gorm.Expr("coins_charged + ?", charged),
			"coins_earned":   gorm.Expr("coins_earned + ?", earned),
		})
		if res.Error != nil {
			return classify("record billing", res.Error)
		}
		if res.RowsAffected == 0 {
			return interfaces.ErrNotFound
		}
		return nil
	})
}

// Relationships

func (m *Manager) FindRelationship(ctx context.Context, userA, userB string) (*types.RelationshipRequest, error) {
	var r types.RelationshipRequest
	if err := m.read(ctx).First(&r, "pair_key = ?", types.PairKey(userA, userB)).Error; err != nil {
		return nil, classify("find relationship", err)
	}
	return &r, nil
}

func (m *Manager) GetRelationship(ctx context.Context, requestID string) (*types.RelationshipRequest, error) {
	var r types.RelationshipRequest
	if err := m.read(ctx).First(&r, "id = ?", requestID).Error; err != nil {
		return nil, classify("get relationship", err)
	}
	return &r, nil
}

func (m *Manager) CreateRelationship(ctx context.Context, req *types.RelationshipRequest) error {
	req.PairKey = types.PairKey(req.RequesterID, req.RecipientID)
	return m.write(ctx, func(tx *gorm.DB) error {
		return classify("create relationship", tx.Create(req).Error)
	})
}

func (m *Manager) ReopenRelationship(ctx context.Context, requestID, requesterID, recipientID string) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.RelationshipRequest{}).
			Where("id = ? AND status = ?", requestID, types.StatusRejected).
			Updates(map[string]interface{}{
				"status":       types.StatusPending,
				"requester_id": requesterID,
				"recipient_id": recipientID,
			})
		return conditional("reopen relationship", res)
	})
}

func (m *Manager) ApproveRelationship(ctx context.Context, requestID string) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			var r types.RelationshipRequest
			if err := tx.First(&r, "id = ?", requestID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return interfaces.ErrNotFoundOrProcessed
				}
				return classify("approve relationship", err)
			}
			res := tx.Model(&types.RelationshipRequest{}).
				Where("id = ? AND status = ?", requestID, types.StatusPending).
				Update("status", types.StatusApproved)
			if err := conditional("approve relationship", res); err != nil {
				return err
			}
			mates := []types.Mate{
				{UserID: r.RequesterID, MateID: r.RecipientID},
				{UserID: r.RecipientID, MateID: r.RequesterID},
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&mates).Error; err != nil {
				return classify("link mates", err)
			}
			return nil
		})
	})
}

func (m *Manager) RejectRelationship(ctx context.Context, requestID string) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.RelationshipRequest{}).
			Where("id = ? AND status = ?", requestID, types.StatusPending).
			Update("status", types.StatusRejected)
		return conditional("reject relationship", res)
	})
}

func (m *Manager) DeleteRelationship(ctx context.Context, requestID string) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			var r types.RelationshipRequest
			err := tx.First(&r, "id = ? AND status = ?", requestID, types.StatusApproved).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return interfaces.ErrNotFoundOrProcessed
			}
			if err != nil {
				return classify("delete relationship", err)
			}
			if err := tx.Delete(&types.RelationshipRequest{}, "id = ?", requestID).Error; err != nil {
				return classify("delete relationship", err)
			}
			err = tx.Where("(user_id = ? AND mate_id = ?) OR (user_id = ? AND mate_id = ?)",
				r.RequesterID, r.RecipientID, r.RecipientID, r.RequesterID).
				Delete(&types.Mate{}).Error
			return classify("unlink mates", err)
		})
	})
}

// Session requests

func (m *Manager) FindPendingSessionRequest(ctx context.Context, requesterID, tutorID string) (*types.SessionRequest, error) {
	var r types.SessionRequest
	err := m.read(ctx).
		Where("requester_id = ? AND tutor_id = ? AND status = ?", requesterID, tutorID, types.StatusPending).
		First(&r).Error
	if err != nil {
		return nil, classify("find pending session request", err)
	}
	return &r, nil
}

func (m *Manager) GetSessionRequest(ctx context.Context, requestID string) (*types.SessionRequest, error) {
	var r types.SessionRequest
	if err := m.read(ctx).First(&r, "id = ?", requestID).Error; err != nil {
		return nil, classify("get session request", err)
	}
	return &r, nil
}

func (m *Manager) CreateSessionRequest(ctx context.Context, req *types.SessionRequest) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return classify("create session request", tx.Create(req).Error)
	})
}

func (m *Manager) UpdateSessionRequestStatus(ctx context.Context, requestID string, from, to types.RequestStatus) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.SessionRequest{}).
			Where("id = ? AND status = ?", requestID, from).
			Updates(map[string]interface{}{
				"status":       to,
				"responded_at": time.Now().UTC(),
			})
		return conditional("update session request", res)
	})
}

// Sessions

func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var s types.Session
	if err := m.read(ctx).First(&s, "id = ?", sessionID).Error; err != nil {
		return nil, classify("get session", err)
	}
	return &s, nil
}

func (m *Manager) FindSessionByRequest(ctx context.Context, requestID string) (*types.Session, error) {
	var s types.Session
	if err := m.read(ctx).First(&s, "request_id = ?", requestID).Error; err != nil {
		return nil, classify("find session by request", err)
	}
	return &s, nil
}

func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return classify("create session", tx.Create(session).Error)
	})
}

func (m *Manager) TransitionSession(ctx context.Context, sessionID string, status types.SessionStatus, by string) (*types.Session, error) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"status": status}
	switch status {
	case types.SessionActive:
		updates["started_at"] = now
	case types.SessionCompleted:
		updates["ended_at"] = now
	case types.SessionCancelled:
		updates["ended_at"] = now
		updates["cancelled_by"] = by
	}
	err := m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.Session{}).
			Where("id = ? AND status NOT IN ?", sessionID,
				[]string{string(types.SessionCompleted), string(types.SessionCancelled)}).
			Updates(updates)
		return conditional("transition session", res)
	})
	if err != nil {
		return nil, err
	}
	return m.GetSession(ctx, sessionID)
}

// Interviews

func (m *Manager) GetInterviewRequest(ctx context.Context, requestID string) (*types.InterviewRequest, error) {
	var r types.InterviewRequest
	if err := m.read(ctx).First(&r, "id = ?", requestID).Error; err != nil {
		return nil, classify("get interview request", err)
	}
	return &r, nil
}

func (m *Manager) CreateInterviewRequest(ctx context.Context, req *types.InterviewRequest) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return classify("create interview request", tx.Create(req).Error)
	})
}

func (m *Manager) CancelInterviewRequest(ctx context.Context, requestID string) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&types.InterviewRequest{}).
			Where("id = ? AND status = ?", requestID, types.StatusApproved).
			Update("status", types.StatusCancelled)
		return conditional("cancel interview request", res)
	})
}

// Notifications

func (m *Manager) CreateNotification(ctx context.Context, n *types.Notification) error {
	return m.write(ctx, func(tx *gorm.DB) error {
		return classify("create notification", tx.Create(n).Error)
	})
}

func (m *Manager) ListNotifications(ctx context.Context, recipientID string, limit int) ([]*types.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*types.Notification
	err := m.read(ctx).
		Where("recipient_id = ?", recipientID).
		Order("delivered_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, classify("list notifications", err)
	}
	return out, nil
}

func conditional(op string, res *gorm.DB) error {
	if res.Error != nil {
		return classify(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return interfaces.ErrNotFoundOrProcessed
	}
	return nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("database manager is closed")
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var one int
	if err := m.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// Let an in-flight write finish before the pool goes away.
	if m.serial {
		m.writeMu.Lock()
		defer m.writeMu.Unlock()
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	m.logger.Info("closing database")
	return sqlDB.Close()
}
