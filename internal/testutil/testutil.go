// Package testutil provides sqlite-backed databases and fixtures for tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/database"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// DB returns a freshly migrated in-memory database private to tb.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn), gormLogger.Silent)
	if err != nil {
		tb.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		tb.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func CreateUser(tb testing.TB, db *gorm.DB) *model.User {
	tb.Helper()
	email := uuid.NewString()[:8] + "@example.com"
	u := &model.User{Provider: model.ProviderPassword, ProviderID: email, Email: email}
	if err := db.Create(u).Error; err != nil {
		tb.Fatalf("create user: %v", err)
	}
	return u
}

// CreateSet inserts a set owned by userID with one word per en/pl pair.
func CreateSet(tb testing.TB, db *gorm.DB, userID uuid.UUID, name string, pairs ...[2]string) *model.Set {
	tb.Helper()
	set := &model.Set{UserID: userID, Name: name, Level: model.LevelA1, WordsCount: len(pairs)}
	if err := db.Create(set).Error; err != nil {
		tb.Fatalf("create set: %v", err)
	}
	for i, p := range pairs {
		w := &model.Word{
			SetID:     set.ID,
			UserID:    userID,
			En:        p[0],
			Pl:        p[1],
			CreatedAt: set.CreatedAt.Add(time.Duration(i) * time.Millisecond),
		}
		if err := db.Create(w).Error; err != nil {
			tb.Fatalf("create word: %v", err)
		}
		set.Words = append(set.Words, *w)
	}
	return set
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{T: t.UTC()} }

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }
