package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agnosto/instawebhooks/db/models"
	"github.com/agnosto/instawebhooks/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

const FileName = "history.db"

// Database represents the database connection
type Database struct {
	DB   *gorm.DB
	Path string
}

// NewDatabase opens (creating if needed) the history ledger in stateDir.
func NewDatabase(stateDir string) (*Database, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbPath := filepath.Join(stateDir, FileName)

	if err := quarantineCorrupt(dbPath); err != nil {
		return nil, fmt.Errorf("failed to check database: %w", err)
	}

	logConfig := gormlogger.Config{
		LogLevel: gormlogger.Warn,
		Colorful: false,
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.New(
			logger.Logger,
			logConfig,
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.SentPost{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{DB: db, Path: dbPath}, nil
}

// CorruptSuffix is appended to a history database that failed its integrity
// check; the ledger starts over beside it.
const CorruptSuffix = ".corrupt"

// quarantineCorrupt runs SQLite's quick_check on an existing database and
// moves it aside when the file is unreadable or damaged.
func quarantineCorrupt(dbPath string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	result, checkErr := quickCheck(dbPath)
	if checkErr == nil && result == "ok" {
		return nil
	}
	if checkErr != nil {
		result = checkErr.Error()
	}

	target := dbPath + CorruptSuffix
	logger.Logger.Printf("[WARN] History database %s failed its integrity check (%s); moving it to %s", dbPath, result, target)
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(dbPath + suffix)
	}
	return os.Rename(dbPath, target)
}

func quickCheck(dbPath string) (string, error) {
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", err
	}
	defer sqlDB.Close()

	var result string
	if err := sqlDB.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return "", err
	}
	return result, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
