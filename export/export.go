package export

import (
	"context"

	"github.com/hb9tf/spinecho/waveform"
)

// Exporter persists the result of a completed session.
type Exporter interface {
	Write(context.Context, *waveform.Result) error
}

// Series kinds stored by the exporters.
const (
	KindBatchMean = "batch_mean"
	KindAverage   = "average"
	KindTime      = "time"
)
