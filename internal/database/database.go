package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartwords/api/internal/config"
	"github.com/smartwords/api/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(postgres.Open(cfg.DatabaseURL), parseLogLevel(cfg.DBLogLevel))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// Open is shared by Connect and the sqlite-backed tests.
func Open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Profile{},
		&model.RefreshToken{},
		&model.Set{},
		&model.Word{},
		&model.GenerationRun{},
		&model.Sentence{},
		&model.ExerciseSession{},
		&model.Attempt{},
		&model.Rating{},
		&model.EventLog{},
	)
	if err != nil {
		return err
	}

	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_users_provider_provider_id ON users(provider, provider_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_sets_user_name ON sets(user_id, name)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_words_set_en_norm ON words(set_id, en_norm)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_generation_runs_user_key ON generation_runs(user_id, idempotency_key)",
		"CREATE INDEX IF NOT EXISTS idx_sentences_generation_position ON sentences(generation_id, position)",
		// At most one unfinished session per set.
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_exercise_sessions_active_set ON exercise_sessions(set_id) WHERE finished_at IS NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_session_sentence_no ON attempts(session_id, sentence_id, attempt_no)",
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
