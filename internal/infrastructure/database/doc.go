// Package database opens the SQLite file behind the bridge's history store
// and applies its embedded schema migrations.
//
// Migrations are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. Each one runs in its own transaction and is recorded
// in schema_migrations.
//
//	db, err := database.Open(database.Config{Path: "./data/flyport.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
