// Package database provides SQLite connectivity for the DALI bridge.
//
// It opens the database with WAL mode and a busy timeout, and applies
// versioned migrations from any fs.FS (the binary embeds them from the
// top-level migrations package):
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
