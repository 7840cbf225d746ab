package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxiofs/storehub/internal/db/migrations"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// FileName is the registry database file under <data_dir>/db
const FileName = "storehub.db"

// Open opens the storehub SQLite database under dataDir and applies pending migrations
func Open(dataDir string, logger *logrus.Logger) (*sql.DB, error) {
	dbPath := filepath.Join(dataDir, "db", FileName)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrations.NewMigrationManager(conn, logger).Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	if logger != nil {
		logger.WithField("db_path", dbPath).Info("SQLite database initialized")
	}
	return conn, nil
}
