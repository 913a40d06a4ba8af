package export

import (
	"context"
	"database/sql"

	"github.com/hb9tf/spinecho/waveform"
)

var sqliteDialect = dialect{
	name: "sqlite",
	createTables: []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			"ID"             TEXT NOT NULL PRIMARY KEY,
			"Sample"         TEXT NOT NULL,
			"Note"           TEXT NOT NULL,
			"Started"        INTEGER,
			"Finished"       INTEGER,
			"PulseType"      TEXT NOT NULL,
			"PulseFreq"      REAL,
			"PulseWidth"     REAL,
			"ReadFreq"       REAL,
			"LODevice"       TEXT NOT NULL,
			"LOFreq"         REAL,
			"LOPower"        REAL,
			"MagnetCurrent"  REAL,
			"Experiments"    INTEGER,
			"BatchSize"      INTEGER,
			"SamplingFreq"   REAL,
			"Notches"        TEXT NOT NULL,
			"SNRLinear"      REAL,
			"SNRDB"          REAL,
			"SNRError"       TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS series (
			"ID"         INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			"SessionID"  TEXT NOT NULL REFERENCES sessions(ID),
			"Kind"       TEXT NOT NULL,
			"Idx"        INTEGER,
			"Size"       INTEGER,
			"Samples"    TEXT NOT NULL
		);`,
	},
}

// SQLite stores results in a sqlite database (driver "sqlite3").
type SQLite struct {
	DB *sql.DB
}

func (s *SQLite) Write(ctx context.Context, r *waveform.Result) error {
	return writeSQL(ctx, s.DB, sqliteDialect, r)
}
