package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/transferwatch/transferwatch/internal/db"
	"github.com/transferwatch/transferwatch/internal/logger"
)

//go:embed 001_initial.sql
var mig001 string

// RunMigrations runs all migrations for the transfer store.
func RunMigrations(log *logger.Logger, database *sql.DB) error {
	migrations := []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(log, database, migrations)
}
