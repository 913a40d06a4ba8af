package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
)

const (
	contentType  = "application/json"
	runEndpoint  = "run"
	authHeader   = "auth"
	maxErrorBody = 64 << 10

	// DefaultTimeout exceeds the board's own script timeout so that its error
	// response, not ours, is what the caller sees.
	DefaultTimeout = 330 * time.Second

	// timeScale converts the board's microsecond time row to nanoseconds.
	timeScale = 1e3
)

// HTTPClient posts batch requests to the board's relay server.
type HTTPClient struct {
	// Server is the base URL of the relay, e.g. http://10.0.0.5:5500.
	Server string
	Token  string
	Mode   Mode
	// Timeout bounds one Post including reading the response.
	Timeout time.Duration

	Client *http.Client
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type arrayResponse struct {
	Array [][]float64 `json:"array"`
}

func (c *HTTPClient) Post(ctx context.Context, batchSize int, pulse PulseParams) (*Block, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	mode := c.Mode
	if mode == "" {
		mode = Raw
	}

	body, err := json.Marshal(Request{
		Mode:        mode,
		PulseParams: pulse,
		Experiments: batchSize,
	})
	if err != nil {
		return nil, &AcquisitionFailed{Message: "unable to encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.Server, "/"), runEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &AcquisitionFailed{Message: "unable to build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(authHeader, c.Token)

	glog.V(1).Infof("requesting %d experiments (%s) from %s\n", batchSize, mode, url)
	resp, err := client.Do(req)
	if err != nil {
		return nil, &AcquisitionFailed{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		af := &AcquisitionFailed{StatusCode: resp.StatusCode}
		var er errorResponse
		if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
			af.Message = er.Error
			af.Detail = er.Details
		} else {
			af.Message = strings.TrimSpace(string(raw))
		}
		return nil, af
	}

	block, err := Decode(resp.Body, batchSize)
	if err != nil {
		return nil, &AcquisitionFailed{StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return block, nil
}

// Decode reads an {"array": [...]} body holding the experiment rows followed
// by the time row in microseconds. batchSize is the number of experiments
// that were requested.
func Decode(r io.Reader, batchSize int) (*Block, error) {
	var ar arrayResponse
	if err := json.NewDecoder(r).Decode(&ar); err != nil {
		return nil, err
	}
	if len(ar.Array) < 2 {
		return nil, fmt.Errorf("got %d rows, want at least one experiment and a time row", len(ar.Array))
	}
	n := len(ar.Array) - 1
	if n != batchSize {
		glog.Warningf("requested %d experiments, response holds %d\n", batchSize, n)
	}
	rows := ar.Array[:n]
	timeRow := ar.Array[n]
	for i, row := range rows {
		if len(row) != len(timeRow) {
			return nil, fmt.Errorf("row %d has %d samples, time row has %d", i, len(row), len(timeRow))
		}
	}
	t := make([]float64, len(timeRow))
	for i, v := range timeRow {
		t[i] = v * timeScale
	}
	return &Block{Rows: rows, Time: t}, nil
}
