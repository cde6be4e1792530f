package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/config"
	"github.com/smartwords/api/internal/database"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"github.com/smartwords/api/internal/service"
)

const wordsPerSet = 5

type seedRow struct {
	level model.Level
	set   string
	en    string
	pl    string
}

func main() {
	filePath := flag.String("file", "data/seed_words.tsv", "Path to a level<TAB>set<TAB>en<TAB>pl file")
	email := flag.String("email", "demo@smartwords.local", "Demo account email")
	password := flag.String("password", "demo-password", "Demo account password")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	appLog, err := logger.NewWithOptions(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	db, err := database.Connect(cfg)
	if err != nil {
		appLog.Fatal("Failed to connect to database", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		appLog.Fatal("Failed to migrate database", "error", err)
	}

	rows, err := loadRows(*filePath)
	if err != nil {
		appLog.Fatal("Failed to load seed file", "file", *filePath, "error", err)
	}
	appLog.Info("Loaded seed words", "count", len(rows), "file", *filePath)

	ctx := context.Background()
	authService := service.NewAuthService(db, cfg.JWTSecret, service.NewLogMailer(appLog, cfg.FrontendURL), appLog)
	session, err := authService.Signup(ctx, service.SignupCommand{Email: *email, Password: *password})
	if apperr.IsCode(err, apperr.CodeEmailAlreadyRegistered) {
		session, err = authService.Login(ctx, service.LoginCommand{Email: *email, Password: *password})
	}
	if err != nil {
		appLog.Fatal("Failed to prepare demo account", "email", *email, "error", err)
	}

	sets := service.NewSetService(db, service.NewEventRecorder(db, appLog), appLog)
	created, skipped := 0, 0
	for _, cmd := range buildCommands(rows) {
		_, err := sets.Create(ctx, session.User.ID, cmd)
		switch {
		case err == nil:
			created++
		case apperr.IsCode(err, apperr.CodeDuplicateName):
			skipped++
		default:
			appLog.Warn("Error creating set", "name", cmd.Name, "error", err)
			skipped++
		}
	}

	appLog.Info("Seeding complete", "email", *email, "created", created, "skipped", skipped)
}

func loadRows(path string) ([]seedRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var rows []seedRow
	scanner := bufio.NewScanner(file)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 4 {
			return nil, fmt.Errorf("line %d: want 4 tab-separated fields, got %d", n, len(parts))
		}
		level := model.Level(strings.ToUpper(strings.TrimSpace(parts[0])))
		if !level.Valid() {
			return nil, fmt.Errorf("line %d: unknown level %q", n, parts[0])
		}
		rows = append(rows, seedRow{
			level: level,
			set:   strings.TrimSpace(parts[1]),
			en:    strings.TrimSpace(parts[2]),
			pl:    strings.TrimSpace(parts[3]),
		})
	}
	return rows, scanner.Err()
}

// buildCommands groups rows by set name and splits groups larger than one
// create request allows into "Name 2", "Name 3" and so on.
func buildCommands(rows []seedRow) []service.CreateSetCommand {
	var (
		order  []string
		byName = map[string][]seedRow{}
	)
	for _, r := range rows {
		if _, ok := byName[r.set]; !ok {
			order = append(order, r.set)
		}
		byName[r.set] = append(byName[r.set], r)
	}

	var cmds []service.CreateSetCommand
	for _, name := range order {
		group := byName[name]
		for i := 0; i < len(group); i += wordsPerSet {
			end := i + wordsPerSet
			if end > len(group) {
				end = len(group)
			}
			cmd := service.CreateSetCommand{Name: name, Level: group[i].level}
			if i > 0 {
				cmd.Name = fmt.Sprintf("%s %d", name, i/wordsPerSet+1)
			}
			for _, r := range group[i:end] {
				cmd.Words = append(cmd.Words, service.WordInput{En: r.en, Pl: r.pl})
			}
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}
