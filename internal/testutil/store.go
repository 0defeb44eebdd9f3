package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"tutorlink/internal/database"
	dbconfig "tutorlink/pkg/database"
	"tutorlink/pkg/types"
)

// NewStore opens a migrated SQLite store in the test's temp dir.
func NewStore(t testing.TB) *database.Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "tutorlink.db")
	cfg.LogLevel = "silent"
	m, err := database.NewManager(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// SeedUser creates a user with the given spendable balance and skills.
func SeedUser(t testing.TB, store *database.Manager, id string, coins float64, skills ...types.Skill) *types.User {
	t.Helper()
	u := &types.User{ID: id, Name: "User " + id, Coins: coins, Rating: 4.5, Skills: skills}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}
