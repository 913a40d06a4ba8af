package export

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/hb9tf/spinecho/waveform"
)

var mysqlDialect = dialect{
	name: "mysql",
	createTables: []string{
		"CREATE TABLE IF NOT EXISTS sessions (" +
			"`ID`             VARCHAR(36) NOT NULL PRIMARY KEY," +
			"`Sample`         TEXT NOT NULL," +
			"`Note`           TEXT NOT NULL," +
			"`Started`        BIGINT," +
			"`Finished`       BIGINT," +
			"`PulseType`      VARCHAR(32) NOT NULL," +
			"`PulseFreq`      DOUBLE," +
			"`PulseWidth`     DOUBLE," +
			"`ReadFreq`       DOUBLE," +
			"`LODevice`       VARCHAR(64) NOT NULL," +
			"`LOFreq`         DOUBLE," +
			"`LOPower`        DOUBLE," +
			"`MagnetCurrent`  DOUBLE," +
			"`Experiments`    INTEGER," +
			"`BatchSize`      INTEGER," +
			"`SamplingFreq`   DOUBLE," +
			"`Notches`        TEXT NOT NULL," +
			"`SNRLinear`      DOUBLE," +
			"`SNRDB`          DOUBLE," +
			"`SNRError`       TEXT NOT NULL" +
			");",
		"CREATE TABLE IF NOT EXISTS series (" +
			"`ID`         INTEGER NOT NULL PRIMARY KEY AUTO_INCREMENT," +
			"`SessionID`  VARCHAR(36) NOT NULL," +
			"`Kind`       VARCHAR(16) NOT NULL," +
			"`Idx`        INTEGER," +
			"`Size`       INTEGER," +
			"`Samples`    LONGTEXT NOT NULL," +
			"INDEX (`SessionID`)" +
			");",
	},
}

// MySQL stores results in a MySQL database (driver "mysql").
type MySQL struct {
	DB *sql.DB
}

func (m *MySQL) Write(ctx context.Context, r *waveform.Result) error {
	return writeSQL(ctx, m.DB, mysqlDialect, r)
}

// MySQLOptions describe how to reach the MySQL server.
type MySQLOptions struct {
	Server   string
	User     string
	Password string
	DBName   string
}

// OpenMySQL opens a connection pool to the MySQL server.
func OpenMySQL(opts MySQLOptions) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = opts.Server
	cfg.DBName = opts.DBName
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return db, nil
}
