// Package scheduler splits a sweep into bounded remote acquisitions and
// hands each filtered batch to a consumer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/spinecho/capture"
	"github.com/hb9tf/spinecho/metrics"
	"github.com/hb9tf/spinecho/waveform"
)

// DefaultCooldown is the pause between two consecutive batches.
const DefaultCooldown = time.Second

var (
	ErrBatchSizeTooLarge = fmt.Errorf("batch size exceeds %d", capture.MaxBatchSize)
	ErrInvalidPlan       = errors.New("invalid batch plan")
	ErrShapeMismatch     = errors.New("batch shape mismatch")
)

// Plan returns the batch sizes for total experiments with at most maxBatch
// experiments per batch.
func Plan(total, maxBatch int) ([]int, error) {
	if maxBatch > capture.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d", ErrBatchSizeTooLarge, maxBatch)
	}
	if maxBatch < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidPlan, maxBatch)
	}
	if total < 1 {
		return nil, fmt.Errorf("%w: number of experiments must be at least 1, got %d", ErrInvalidPlan, total)
	}
	sizes := make([]int, 0, (total+maxBatch-1)/maxBatch)
	for remaining := total; remaining > 0; remaining -= maxBatch {
		sizes = append(sizes, min(maxBatch, remaining))
	}
	return sizes, nil
}

// Verifier re-checks the instruments before a batch is acquired.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Filter conditions the rows of a batch.
type Filter interface {
	ApplyBatch(rows [][]float64) ([][]float64, error)
}

// BatchFunc consumes one filtered batch.
type BatchFunc func(ctx context.Context, b waveform.Batch) error

// Scheduler runs the batches of one sweep in order. It is used by a single
// goroutine.
type Scheduler struct {
	Client capture.Client
	Pulse  capture.PulseParams
	// Verifier and Filter are optional.
	Verifier Verifier
	Filter   Filter
	Cooldown time.Duration

	Metrics *metrics.Metrics
}

// Run acquires total experiments in batches of at most maxBatch. The time
// axis of the first batch is reused for all later batches. Any failure ends
// the run; nothing is retried.
func (s *Scheduler) Run(ctx context.Context, total, maxBatch int, onBatch BatchFunc) error {
	sizes, err := Plan(total, maxBatch)
	if err != nil {
		return err
	}
	glog.Infof("running %d experiments in %d batches\n", total, len(sizes))

	var timeAxis waveform.TimeAxis
	done := 0
	for i, size := range sizes {
		if i > 0 {
			if err := sleep(ctx, s.Cooldown); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.Verifier != nil {
			if err := s.Verifier.Verify(ctx); err != nil {
				s.Metrics.RecordError("scheduler", "verify")
				return fmt.Errorf("batch %d/%d: %w", i+1, len(sizes), err)
			}
		}

		start := time.Now()
		block, err := s.Client.Post(ctx, size, s.Pulse)
		if err != nil {
			s.Metrics.RecordError("scheduler", "acquisition")
			var af *capture.AcquisitionFailed
			if !errors.As(err, &af) {
				err = &capture.AcquisitionFailed{Err: err}
			}
			return fmt.Errorf("batch %d/%d: %w", i+1, len(sizes), err)
		}
		s.Metrics.RecordBatch(size, time.Since(start))

		if len(block.Rows) == 0 {
			return fmt.Errorf("batch %d/%d: %w: no experiment rows", i+1, len(sizes), ErrShapeMismatch)
		}
		if len(block.Rows) != size {
			glog.Warningf("batch %d/%d: board returned %d experiments, requested %d\n", i+1, len(sizes), len(block.Rows), size)
		}
		if timeAxis == nil {
			timeAxis = block.Time
		} else if len(block.Time) != len(timeAxis) {
			return fmt.Errorf("batch %d/%d: %w: time axis has %d samples, first batch had %d", i+1, len(sizes), ErrShapeMismatch, len(block.Time), len(timeAxis))
		}

		rows := block.Rows
		if s.Filter != nil {
			if rows, err = s.Filter.ApplyBatch(rows); err != nil {
				return fmt.Errorf("batch %d/%d: %w", i+1, len(sizes), err)
			}
		}
		if err := onBatch(ctx, waveform.Batch{Index: i, Rows: rows, Time: timeAxis}); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(sizes), err)
		}

		done += len(block.Rows)
		glog.Infof("batch %d/%d done (%d/%d experiments, %s)\n", i+1, len(sizes), done, total, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
