// Package database provides the SQLite store used by PLC Remote.
//
// The database holds operator-facing history only (the recent-devices list
// shown during onboarding). Live device state never touches disk; it lives
// in the in-memory state store and is lost on restart.
//
// Connections are opened in WAL mode with a busy timeout and a single
// writer. Schema changes are applied from embedded migration files named
// YYYYMMDD_HHMMSS_description.{up,down}.sql:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
