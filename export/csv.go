package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/spinecho/waveform"
)

const (
	timestampFmt = "20060102_150405"
	// widthUnit is the approximate pulse width in ns of one generator unit.
	widthUnit = 4
)

// CSV writes a result as comma separated rows preceded by a "#" metadata
// header: one row per batch mean, then the grand average, then the time axis
// in ns. With Dir set, each result goes to its own file in Dir; otherwise it
// is written to Out (stdout if nil).
type CSV struct {
	Dir string
	Out io.Writer
}

// Filename returns the name under which a result is stored in a directory.
func Filename(r *waveform.Result) string {
	return fmt.Sprintf("data_%s_Sample=%s_Pulse=%s_%gMHz_AvgN=%d_MagnetI=%g_A.txt",
		r.Started.Format(timestampFmt), r.Sample, r.PulseType, r.PulseFreq, r.Experiments, r.Current)
}

func (c *CSV) Write(ctx context.Context, r *waveform.Result) error {
	if c.Dir == "" {
		out := c.Out
		if out == nil {
			out = os.Stdout
		}
		return WriteText(out, r)
	}

	path := filepath.Join(c.Dir, Filename(r))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", path, err)
	}
	if err := WriteText(f, r); err != nil {
		f.Close()
		return fmt.Errorf("unable to write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	glog.Infof("wrote session %s to %q\n", r.ID, path)
	return nil
}

// WriteText writes the header and rows of a result to w.
func WriteText(w io.Writer, r *waveform.Result) error {
	bw := bufio.NewWriter(w)
	for _, line := range header(r) {
		if _, err := fmt.Fprintf(bw, "# %s #\n", line); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(bw)
	for _, m := range r.BatchMeans {
		if err := cw.Write(formatRow(m.Mean)); err != nil {
			return err
		}
	}
	if err := cw.Write(formatRow(r.GrandAverage)); err != nil {
		return err
	}
	if err := cw.Write(formatRow(r.Time)); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

func header(r *waveform.Result) []string {
	snr := "undefined"
	switch {
	case r.SNR != nil:
		snr = fmt.Sprintf("%.4f (%.2f dB)", r.SNR.Linear, r.SNR.DB)
	case r.SNRError != "":
		snr = fmt.Sprintf("undefined (%s)", r.SNRError)
	}
	notches := make([]string, 0, len(r.Notches))
	for _, f := range r.Notches {
		notches = append(notches, waveform.ReadableFreq(f))
	}
	return []string{
		fmt.Sprintf("Date and Time: %s", r.Started.Format(timestampFmt)),
		fmt.Sprintf("Session: %s", r.ID),
		fmt.Sprintf("Sample: %s", r.Sample),
		fmt.Sprintf("Pulse Type: %s", r.PulseType),
		fmt.Sprintf("Pulse Frequency and Width: %g MHz, %g ns", r.PulseFreq, r.PulseWidth*widthUnit),
		fmt.Sprintf("Downconverting Frequency: %g MHz", r.ReadFreq),
		fmt.Sprintf("LO Device: %s", r.Oscillator.Device),
		fmt.Sprintf("LO Frequency and Power: %g GHz, %g dBm", r.Oscillator.Frequency/1e9, r.Oscillator.Power),
		fmt.Sprintf("Magnet Current: %g A", r.Current),
		fmt.Sprintf("Number of Experiments: %d", r.Experiments),
		fmt.Sprintf("Max Batch Size: %d", r.BatchSize),
		fmt.Sprintf("Sampling Frequency: %s", waveform.ReadableFreq(r.SamplingFrequency)),
		fmt.Sprintf("Notch Frequencies: %s", strings.Join(notches, ", ")),
		fmt.Sprintf("SNR: %s", snr),
		fmt.Sprintf("Note: %s", r.Note),
		fmt.Sprintf("Data Format: Each row is a %d-experiment average", r.BatchSize),
		"The second-to-last row is the average of all rows above",
		"The last row is the time row in ns",
	}
}

func formatRow(v []float64) []string {
	row := make([]string, len(v))
	for i, x := range v {
		row[i] = strconv.FormatFloat(x, 'e', 6, 64)
	}
	return row
}

// ReadText parses the rows written by WriteText. Header lines are skipped;
// the returned result carries the batch means, grand average and time axis.
func ReadText(r io.Reader) (*waveform.Result, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("need at least an average row and a time row")
	}

	rows := make([][]float64, len(records))
	for i, rec := range records {
		row := make([]float64, len(rec))
		for j, s := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %d: %w", i+1, j+1, err)
			}
			row[j] = v
		}
		rows[i] = row
	}

	n := len(rows)
	res := &waveform.Result{
		Time:         rows[n-1],
		GrandAverage: rows[n-2],
	}
	for i, row := range rows[:n-2] {
		res.BatchMeans = append(res.BatchMeans, waveform.BatchMean{Index: i, Mean: row})
	}
	return res, nil
}
