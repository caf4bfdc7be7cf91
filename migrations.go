package cas

import (
	"github.com/BurntSushi/migration"
	_ "github.com/lib/pq"
)

func SqlCreateDatabase(conx *DBConnection) error {
	// Check first if the database already exists
	if db, eConnect := conx.Connect(); eConnect == nil {
		// The postgres driver will not return an error until we attempt to start a transaction
		if tx, eTxBegin := db.Begin(); eTxBegin == nil {
			tx.Rollback()
			db.Close()
			return nil
		} else {
			// database does not exist, go ahead and try to create it
			db.Close()
		}
	} else {
		return eConnect
	}
	// Connect via the 'postgres' database
	copy := *conx
	copy.Database = "postgres"
	if db, e := copy.Connect(); e == nil {
		defer db.Close()
		_, eExec := db.Exec("CREATE DATABASE \"" + conx.Database + "\"")
		return eExec
	} else {
		return e
	}
}

func RunMigrations(conx *DBConnection) error {
	db, err := migration.Open(conx.DriverName(), conx.ConnectionString(), createMigrations())
	if err == nil {
		db.Close()
	}
	return err
}

func createMigrations() []migration.Migrator {
	var migrations []migration.Migrator

	text := []string{
		// 1. casticket
		`CREATE TABLE casticket (ticket VARCHAR PRIMARY KEY, kind INTEGER NOT NULL, userid VARCHAR NOT NULL, createdat TIMESTAMP NOT NULL, consumedat TIMESTAMP,
			service VARCHAR, isprimary BOOLEAN NOT NULL DEFAULT FALSE, iou VARCHAR, grantedbypgt VARCHAR, grantedbyst VARCHAR, grantedbypt VARCHAR);
		CREATE INDEX idx_casticket_userid ON casticket (userid);
		CREATE INDEX idx_casticket_createdat ON casticket (createdat);`,

		// 2. casuser
		`CREATE TABLE casuser (userid BIGSERIAL PRIMARY KEY, username VARCHAR NOT NULL, password VARCHAR, archived BOOLEAN NOT NULL DEFAULT FALSE);
		CREATE UNIQUE INDEX idx_casuser_username ON casuser (LOWER(username));`,

		// 3. casuserattrib
		`CREATE TABLE casuserattrib (userid BIGINT NOT NULL, name VARCHAR NOT NULL, value VARCHAR NOT NULL);
		CREATE INDEX idx_casuserattrib_userid ON casuserattrib (userid);`,
	}

	for _, src := range text {
		srcCapture := src
		migrations = append(migrations, func(tx migration.LimitedTx) error {
			_, err := tx.Exec(srcCapture)
			return err
		})
	}

	return migrations
}
