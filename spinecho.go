package main

import (
	"context"
	"database/sql"
	goflag "flag"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/config"
	"github.com/hb9tf/spinecho/export"
	"github.com/hb9tf/spinecho/instrument"
	"github.com/hb9tf/spinecho/instrument/bnc855b"
	"github.com/hb9tf/spinecho/instrument/kepco"
	"github.com/hb9tf/spinecho/instrument/sc5511a"
	"github.com/hb9tf/spinecho/metrics"
	"github.com/hb9tf/spinecho/plot"
	"github.com/hb9tf/spinecho/scpi"
	"github.com/hb9tf/spinecho/session"
	"github.com/hb9tf/spinecho/waveform"

	// Blind import support for sqlite3 used by sqlite.go.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	configFile    = pflag.String("config", "", "Sweep definition (YAML). Flags set on the command line override its values.")
	output        = pflag.String("output", "csv", "Export mechanism to use (one of: csv, sqlite, mysql)")
	outDir        = pflag.String("outDir", "", "Directory to write csv results to (stdout if empty).")
	scpiTimeout   = pflag.Duration("scpiTimeout", scpi.DefaultTimeout, "Upper bound for a single SCPI command.")
	metricsListen = pflag.String("metricsListen", "", "Address to serve Prometheus metrics on while the sweep runs (disabled if empty).")

	// Plots
	plotDir   = pflag.String("plotDir", "", "Directory to write waveform and PSD plots to (disabled if empty).")
	plotExt   = pflag.String("plotExt", ".png", "Image format of the plots (one of: .png, .jpg).")
	imgWidth  = pflag.Int("imgWidth", plot.DefaultWidth, "Width of the plots in pixels.")
	imgHeight = pflag.Int("imgHeight", plot.DefaultHeight, "Height of the plots in pixels.")

	// SQLite
	sqliteFile = pflag.String("sqliteFile", "/tmp/spinecho", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = pflag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = pflag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = pflag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = pflag.String("mysqlDBName", "spinecho", "Name of the DB to use.")
)

func main() {
	config.RegisterFlags(pflag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	// Set defaults for glog flags. Can be overridden via cmdline.
	goflag.Set("logtostderr", "false")
	goflag.Set("stderrthreshold", "WARNING")
	goflag.Set("v", "1")
	// Parse flags globally.
	pflag.Parse()

	sweep := config.Default()
	if *configFile != "" {
		var err error
		if sweep, err = config.Load(*configFile); err != nil {
			glog.Exitf("unable to load sweep: %s\n", err)
		}
	}
	if err := sweep.ApplyFlags(pflag.CommandLine); err != nil {
		glog.Exitf("invalid flag: %s\n", err)
	}
	cfg := sweep.Session()
	// Catch configuration errors before any instrument is touched.
	if err := cfg.Validate(); err != nil {
		glog.Exitf("invalid sweep: %s\n", err)
	}
	token, err := config.ReadSecret(sweep.Capture.TokenFile)
	if err != nil {
		glog.Exit(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics setup
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if *metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			glog.Warning(http.ListenAndServe(*metricsListen, mux))
		}()
	}

	exporter := newExporter()

	// Instrument setup
	magnetConn, err := scpi.Dial(ctx, sweep.Magnet.Address, *scpiTimeout)
	if err != nil {
		glog.Exitf("unable to reach magnet current source: %s\n", err)
	}
	defer magnetConn.Close()
	osc, closeOsc := newOscillator(ctx, sweep.LO)
	defer closeOsc()
	opts := sweep.Coordinator()
	opts.Metrics = m
	coordinator := instrument.NewCoordinator(kepco.New(magnetConn), osc, opts)

	client := &capture.HTTPClient{
		Server:  sweep.Capture.Server,
		Token:   token,
		Mode:    sweep.Capture.Mode,
		Timeout: sweep.Capture.Timeout,
	}

	// Run
	start := time.Now()
	res, err := session.Run(ctx, cfg, session.Deps{
		Instruments: coordinator,
		Client:      client,
		Metrics:     m,
	})
	if res == nil {
		glog.Flush()
		glog.Exitf("sweep failed after %s: %s\n", time.Since(start).Round(time.Second), err)
	}
	if err != nil {
		glog.Errorf("sweep finished with error: %s\n", err)
	}
	glog.Infof("sweep %s done in %s (%d experiments)\n", res.ID, time.Since(start).Round(time.Second), res.Experiments)

	// Results are kept even when the sweep was interrupted while shutting down.
	writeCtx := context.WithoutCancel(ctx)
	if werr := exporter.Write(writeCtx, res); werr != nil {
		glog.Errorf("unable to export results: %s\n", werr)
		err = werr
	}
	if *plotDir != "" {
		if perr := writePlots(res); perr != nil {
			glog.Errorf("unable to plot results: %s\n", perr)
			err = perr
		}
	}

	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func newExporter() export.Exporter {
	switch strings.ToLower(*output) {
	case "csv":
		return &export.CSV{Dir: *outDir}
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		return &export.SQLite{DB: db}
	case "mysql":
		pass, err := config.ReadSecret(*mysqlPasswordFile)
		if err != nil {
			glog.Exitf("unable to read MySQL password: %s\n", err)
		}
		db, err := export.OpenMySQL(export.MySQLOptions{
			Server:   *mysqlServer,
			User:     *mysqlUser,
			Password: pass,
			DBName:   *mysqlDBName,
		})
		if err != nil {
			glog.Exitf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		return &export.MySQL{DB: db}
	default:
		glog.Exitf("%q is not a supported export method, pick one of: csv, sqlite, mysql", *output)
	}
	return nil
}

func newOscillator(ctx context.Context, lo config.LO) (instrument.Oscillator, func()) {
	switch lo.Device {
	case sc5511a.DeviceName:
		dev, err := sc5511a.Open(lo.Serial)
		if err != nil {
			glog.Exitf("unable to open %s %q: %s\n", lo.Device, lo.Serial, err)
		}
		osc := sc5511a.New(dev)
		return osc, func() { osc.Close() }
	case bnc855b.DeviceName:
		conn, err := scpi.Dial(ctx, lo.Address, *scpiTimeout)
		if err != nil {
			glog.Exitf("unable to reach %s: %s\n", lo.Device, err)
		}
		osc, err := bnc855b.New(conn, lo.Channel)
		if err != nil {
			conn.Close()
			glog.Exit(err)
		}
		return osc, func() { conn.Close() }
	default:
		glog.Exitf("%q is not a supported local oscillator, pick one of: %s, %s", lo.Device, sc5511a.DeviceName, bnc855b.DeviceName)
	}
	return nil, nil
}

func writePlots(res *waveform.Result) error {
	base := filepath.Join(*plotDir, strings.TrimSuffix(export.Filename(res), ".txt"))
	opts := plot.Options{Width: *imgWidth, Height: *imgHeight}

	opts.Title = fmt.Sprintf("%s, %g A, %d experiments", res.Sample, res.Current, res.Experiments)
	wf, err := plot.Waveform(res, opts)
	if err != nil {
		return err
	}
	if err := writeImage(base+"_waveform"+*plotExt, wf); err != nil {
		return err
	}

	opts.Title = fmt.Sprintf("%s, PSD of the grand average", res.Sample)
	psd, err := plot.PSD(res, opts)
	if err != nil {
		return err
	}
	return writeImage(base+"_psd"+*plotExt, psd)
}

func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := plot.Encode(f, path, img); err != nil {
		f.Close()
		return fmt.Errorf("unable to encode %q: %w", path, err)
	}
	glog.Infof("wrote %s\n", path)
	return f.Close()
}
