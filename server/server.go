package main

/*
This application runs on the acquisition board. It accepts capture requests
over HTTP and runs the capture script of the requested mode, passing the
request on stdin and returning the script's JSON output.
*/

import (
	goflag "flag"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/config"
	"github.com/hb9tf/spinecho/metrics"
	"github.com/hb9tf/spinecho/relay"
)

var (
	listen    = pflag.String("listen", ":5500", "Address and port to listen on.")
	certFile  = pflag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile   = pflag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	tokenFile = pflag.String("tokenFile", "", "Path to the file containing the auth token clients have to send.")
	timeout   = pflag.Duration("timeout", relay.DefaultTimeout, "Upper bound for one run of a capture script.")

	rawCommand       = pflag.String("rawCommand", "python3 /home/xilinx/jupyter_notebooks/capture_raw.py", "Command capturing full rate ADC data.")
	decimatedCommand = pflag.String("decimatedCommand", "python3 /home/xilinx/jupyter_notebooks/capture_decimated.py", "Command capturing decimated ADC data.")
)

func main() {
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	// Set defaults for glog flags. Can be overridden via cmdline.
	goflag.Set("logtostderr", "false")
	goflag.Set("stderrthreshold", "WARNING")
	goflag.Set("v", "1")
	// Parse flags globally.
	pflag.Parse()

	token, err := config.ReadSecret(*tokenFile)
	if err != nil {
		glog.Exit(err)
	}
	commands := map[capture.Mode][]string{}
	for mode, cmd := range map[capture.Mode]string{
		capture.Raw:       *rawCommand,
		capture.Decimated: *decimatedCommand,
	} {
		if argv := strings.Fields(cmd); len(argv) > 0 {
			commands[mode] = argv
		}
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := relay.New(relay.Options{
		Token:    token,
		Commands: commands,
		Timeout:  *timeout,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Gatherer: prometheus.DefaultGatherer,
	})
	if err != nil {
		glog.Exitf("unable to set up relay: %s\n", err)
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: handler,
	}
	if *certFile != "" || *keyFile != "" {
		glog.Fatal(server.ListenAndServeTLS(*certFile, *keyFile))
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		glog.Fatal(server.ListenAndServe())
	}

	glog.Flush()
}
