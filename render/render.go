package main

/*
This application renders the averaged waveform and its power spectral density
for a sweep recorded with spinecho.

It reads either a result file written by the csv exporter or a session stored
in sqlite.
*/

import (
	"context"
	"database/sql"
	goflag "flag"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"github.com/hb9tf/spinecho/export"
	"github.com/hb9tf/spinecho/plot"
	"github.com/hb9tf/spinecho/waveform"

	// Blind import support for sqlite3 used by sqlite.go.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	input      = pflag.String("input", "sqlite", "Where to read the result from (one of: csv, sqlite)")
	csvFile    = pflag.String("csvFile", "", "Result file written by the csv exporter.")
	fs         = pflag.Float64("fs", 0, "Sampling frequency in Hz, for result files that do not record it.")
	sqliteFile = pflag.String("sqliteFile", "/tmp/spinecho", "File path of the sqlite DB file to use.")
	sessionID  = pflag.String("session", "", "Session to render (defaults to the most recent one).")
	imgPath    = pflag.String("imgPath", "/tmp/out.png", "Path where the waveform image should be written to.")
	psdPath    = pflag.String("psdPath", "", "Path where the PSD image should be written to (skipped if empty).")
	imgWidth   = pflag.Int("imgWidth", plot.DefaultWidth, "Width of output image in pixels.")
	imgHeight  = pflag.Int("imgHeight", plot.DefaultHeight, "Height of output image in pixels.")
)

func main() {
	ctx := context.Background()
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	// Set defaults for glog flags. Can be overridden via cmdline.
	goflag.Set("logtostderr", "false")
	goflag.Set("stderrthreshold", "WARNING")
	goflag.Set("v", "1")
	// Parse flags globally.
	pflag.Parse()

	var res *waveform.Result
	switch strings.ToLower(*input) {
	case "csv":
		f, err := os.Open(*csvFile)
		if err != nil {
			glog.Exitf("unable to open result file: %s\n", err)
		}
		res, err = export.ReadText(f)
		f.Close()
		if err != nil {
			glog.Exitf("unable to read result file %q: %s\n", *csvFile, err)
		}
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		defer db.Close()
		id := *sessionID
		if id == "" {
			if id, err = export.Latest(ctx, db); err != nil {
				glog.Exitf("unable to find the latest session: %s\n", err)
			}
		}
		if res, err = export.Load(ctx, db, id); err != nil {
			glog.Exitf("unable to load session %q: %s\n", id, err)
		}
	default:
		glog.Exitf("%q is not a supported input, pick one of: csv, sqlite", *input)
	}
	if *fs != 0 {
		res.SamplingFrequency = *fs
	}

	fmt.Println("Selected session metadata:")
	fmt.Printf("  - Sample: %s\n", res.Sample)
	fmt.Printf("  - Pulse: %s at %g MHz\n", res.PulseType, res.PulseFreq)
	fmt.Printf("  - Magnet current: %g A\n", res.Current)
	fmt.Printf("  - Experiments: %d in %d batches\n", res.Experiments, len(res.BatchMeans))
	if res.SNR != nil {
		fmt.Printf("  - SNR: %.2f dB\n", res.SNR.DB)
	}
	fmt.Printf("Rendering images (%d x %d)\n", *imgWidth, *imgHeight)

	opts := plot.Options{Width: *imgWidth, Height: *imgHeight}
	img, err := plot.Waveform(res, opts)
	if err != nil {
		glog.Fatal(err)
	}
	if err := writeImage(*imgPath, img); err != nil {
		glog.Fatal(err)
	}
	if *psdPath != "" {
		img, err := plot.PSD(res, opts)
		if err != nil {
			glog.Fatal(err)
		}
		if err := writeImage(*psdPath, img); err != nil {
			glog.Fatal(err)
		}
	}
	glog.Flush()
}

func writeImage(path string, img image.Image) error {
	fmt.Printf("Writing image to %q\n", path)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := plot.Encode(f, path, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
