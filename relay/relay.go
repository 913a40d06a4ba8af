// Package relay serves capture requests on the acquisition board by running
// the capture script that matches the requested mode.
package relay

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/metrics"
)

const (
	// DefaultTimeout bounds one run of a capture script.
	DefaultTimeout = 300 * time.Second

	authHeader     = "auth"
	maxRequestBody = 1 << 20
	// waitDelay bounds how long output pipes are drained after a script was killed.
	waitDelay = 2 * time.Second
)

// Run outcomes recorded in metrics.
const (
	outcomeOK       = "ok"
	outcomeFailed   = "failed"
	outcomeTimeout  = "timeout"
	outcomeBadJSON  = "bad_output"
	outcomeRejected = "rejected"
)

// Options configure the relay.
type Options struct {
	// Token must match the auth header of every capture request.
	Token string
	// Commands maps a capture mode to the argv of its script. The request
	// body is passed on stdin, the JSON result is read from stdout.
	Commands map[capture.Mode][]string
	Timeout  time.Duration

	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
}

type server struct {
	opts Options
	// busy serializes script runs; the board holds one batch at a time.
	busy sync.Mutex
}

type runRequest struct {
	Mode capture.Mode `json:"mode"`
}

// New returns the HTTP handler of the relay.
func New(opts Options) (*gin.Engine, error) {
	if opts.Token == "" {
		return nil, errors.New("relay needs an auth token")
	}
	if len(opts.Commands) == 0 {
		return nil, errors.New("relay needs at least one capture command")
	}
	for mode, argv := range opts.Commands {
		if len(argv) == 0 {
			return nil, errors.New("empty command for mode " + string(mode))
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	s := &server{opts: opts}
	r := gin.New()
	r.Use(gin.Recovery(), logRequests())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	r.POST("/run", s.authenticate, s.run)
	return r, nil
}

func logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		glog.V(1).Infof("%s %s from %s: %d (%s)\n", c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func (s *server) authenticate(c *gin.Context) {
	got := c.GetHeader(authHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
		glog.Warningf("rejected unauthenticated request from %s\n", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *server) run(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body", "details": err.Error()})
		return
	}
	var req runRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body", "details": err.Error()})
		return
	}
	argv, ok := s.opts.Commands[req.Mode]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mode specified"})
		return
	}
	mode := string(req.Mode)

	if !s.busy.TryLock() {
		s.opts.Metrics.RecordRelayRun(mode, outcomeRejected)
		c.JSON(http.StatusConflict, gin.H{"error": "a capture is already running"})
		return
	}
	defer s.busy.Unlock()

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	took := time.Since(start).Round(time.Millisecond)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		glog.Warningf("%s capture timed out after %s\n", mode, took)
		s.opts.Metrics.RecordRelayRun(mode, outcomeTimeout)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Script timed out", "details": stderr.String()})
	case err != nil:
		glog.Warningf("%s capture failed after %s: %s\n", mode, took, err)
		s.opts.Metrics.RecordRelayRun(mode, outcomeFailed)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Script failed", "details": stderr.String()})
	case !json.Valid(stdout.Bytes()):
		glog.Warningf("%s capture returned %d bytes of invalid JSON\n", mode, stdout.Len())
		s.opts.Metrics.RecordRelayRun(mode, outcomeBadJSON)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Script returned invalid JSON", "details": stderr.String()})
	default:
		glog.Infof("%s capture done in %s (%d bytes)\n", mode, took, stdout.Len())
		s.opts.Metrics.RecordRelayRun(mode, outcomeOK)
		c.Data(http.StatusOK, "application/json", stdout.Bytes())
	}
}
