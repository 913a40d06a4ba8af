package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/spinecho/waveform"
)

// dialect holds the schema of one SQL backend. Both backends use "?"
// placeholders so inserts and queries are shared.
type dialect struct {
	name         string
	createTables []string
}

const (
	sqlInsertSessionTmpl = `INSERT INTO sessions (
		ID,
		Sample,
		Note,
		Started,
		Finished,
		PulseType,
		PulseFreq,
		PulseWidth,
		ReadFreq,
		LODevice,
		LOFreq,
		LOPower,
		MagnetCurrent,
		Experiments,
		BatchSize,
		SamplingFreq,
		Notches,
		SNRLinear,
		SNRDB,
		SNRError
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	sqlInsertSeriesTmpl = `INSERT INTO series (
		SessionID,
		Kind,
		Idx,
		Size,
		Samples
	) VALUES (?, ?, ?, ?, ?);`
	sqlSelectSessionTmpl = `SELECT
		ID,
		Sample,
		Note,
		Started,
		Finished,
		PulseType,
		PulseFreq,
		PulseWidth,
		ReadFreq,
		LODevice,
		LOFreq,
		LOPower,
		MagnetCurrent,
		Experiments,
		BatchSize,
		SamplingFreq,
		Notches,
		SNRLinear,
		SNRDB,
		SNRError
	FROM
		sessions
	WHERE
		ID = ?;`
	sqlSelectSeriesTmpl = `SELECT
		Kind,
		Idx,
		Size,
		Samples
	FROM
		series
	WHERE
		SessionID = ?
	ORDER BY
		Kind ASC,
		Idx ASC;`
	sqlSelectLatestTmpl = `SELECT
		ID
	FROM
		sessions
	ORDER BY
		Started DESC
	LIMIT 1;`
)

// writeSQL stores a result in one transaction.
func writeSQL(ctx context.Context, db *sql.DB, d dialect, r *waveform.Result) error {
	for _, tmpl := range d.createTables {
		if err := sqlExec(ctx, db, tmpl); err != nil {
			return fmt.Errorf("unable to create %s table: %w", d.name, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var snrLinear, snrDB sql.NullFloat64
	if r.SNR != nil {
		snrLinear = sql.NullFloat64{Float64: r.SNR.Linear, Valid: true}
		snrDB = sql.NullFloat64{Float64: r.SNR.DB, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, sqlInsertSessionTmpl,
		r.ID, r.Sample, r.Note, r.Started.UnixMilli(), r.Finished.UnixMilli(),
		r.PulseType, r.PulseFreq, r.PulseWidth, r.ReadFreq,
		r.Oscillator.Device, r.Oscillator.Frequency, r.Oscillator.Power, r.Current,
		r.Experiments, r.BatchSize, r.SamplingFrequency, encodeSamples(r.Notches),
		snrLinear, snrDB, r.SNRError,
	); err != nil {
		return fmt.Errorf("unable to store session %s: %w", r.ID, err)
	}

	statement, err := tx.PrepareContext(ctx, sqlInsertSeriesTmpl)
	if err != nil {
		return err
	}
	defer statement.Close()

	counts := map[string]int{}
	insert := func(kind string, idx, size int, samples []float64) error {
		if _, err := statement.ExecContext(ctx, r.ID, kind, idx, size, encodeSamples(samples)); err != nil {
			return fmt.Errorf("unable to store %s %d of session %s: %w", kind, idx, r.ID, err)
		}
		counts[kind] += 1
		return nil
	}
	for _, m := range r.BatchMeans {
		if err := insert(KindBatchMean, m.Index, m.Size, m.Mean); err != nil {
			return err
		}
	}
	if err := insert(KindAverage, 0, r.Experiments, r.GrandAverage); err != nil {
		return err
	}
	if err := insert(KindTime, 0, 0, r.Time); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	glog.Infof("stored session %s in %s: %+v\n", r.ID, d.name, counts)
	return nil
}

func sqlExec(ctx context.Context, db *sql.DB, tmpl string) error {
	statement, err := db.PrepareContext(ctx, tmpl)
	if err != nil {
		return err
	}
	defer statement.Close()
	if _, err := statement.ExecContext(ctx); err != nil {
		return err
	}

	return nil
}

// Load reads a stored session back from a database written by SQLite or MySQL.
func Load(ctx context.Context, db *sql.DB, id string) (*waveform.Result, error) {
	r := &waveform.Result{}
	var started, finished int64
	var notches string
	var snrLinear, snrDB sql.NullFloat64
	if err := db.QueryRowContext(ctx, sqlSelectSessionTmpl, id).Scan(
		&r.ID, &r.Sample, &r.Note, &started, &finished,
		&r.PulseType, &r.PulseFreq, &r.PulseWidth, &r.ReadFreq,
		&r.Oscillator.Device, &r.Oscillator.Frequency, &r.Oscillator.Power, &r.Current,
		&r.Experiments, &r.BatchSize, &r.SamplingFrequency, &notches,
		&snrLinear, &snrDB, &r.SNRError,
	); err != nil {
		return nil, fmt.Errorf("unable to load session %s: %w", id, err)
	}
	r.Started = time.UnixMilli(started)
	r.Finished = time.UnixMilli(finished)
	if snrLinear.Valid && snrDB.Valid {
		r.SNR = &waveform.SNR{Linear: snrLinear.Float64, DB: snrDB.Float64}
	}
	var err error
	if r.Notches, err = decodeSamples(notches); err != nil {
		return nil, fmt.Errorf("session %s: notches: %w", id, err)
	}

	rows, err := db.QueryContext(ctx, sqlSelectSeriesTmpl, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, samples string
		var idx, size int
		if err := rows.Scan(&kind, &idx, &size, &samples); err != nil {
			return nil, err
		}
		v, err := decodeSamples(samples)
		if err != nil {
			return nil, fmt.Errorf("session %s: %s %d: %w", id, kind, idx, err)
		}
		switch kind {
		case KindBatchMean:
			r.BatchMeans = append(r.BatchMeans, waveform.BatchMean{Index: idx, Size: size, Mean: v})
		case KindAverage:
			r.GrandAverage = v
		case KindTime:
			r.Time = v
		default:
			glog.Warningf("session %s: ignoring unknown series kind %q\n", id, kind)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if r.GrandAverage == nil {
		return nil, fmt.Errorf("session %s has no average", id)
	}
	return r, nil
}

// Latest returns the ID of the most recently started session.
func Latest(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	if err := db.QueryRowContext(ctx, sqlSelectLatestTmpl).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errors.New("no session stored")
		}
		return "", err
	}
	return id, nil
}

func encodeSamples(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func decodeSamples(s string) ([]float64, error) {
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	v := make([]float64, len(parts))
	for i, p := range parts {
		x, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		v[i] = x
	}
	return v, nil
}
