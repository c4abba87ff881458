package commands

import (
	"database/sql"

	"github.com/mmazurovsky/jobs-alerts-sub001/config"
	"github.com/mmazurovsky/jobs-alerts-sub001/db"
	"github.com/mmazurovsky/jobs-alerts-sub001/errors"
	"github.com/mmazurovsky/jobs-alerts-sub001/logger"
)

// openDatabase opens and migrates the engine database. An empty path
// falls back to the configured one.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load configuration")
		}
		dbPath = cfg.Database.Path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
