package vdi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/pkg/logger"
	"github.com/BartekS5/udmigrate/pkg/models"
)

const (
	PollInitialInterval = time.Second
	PollFactor          = 1.5
	PollMaxInterval     = 60 * time.Second
	PollTimeout         = 10 * PollMaxInterval
)

// Clock is the part of clock.Clock the poller needs.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// StatusGetter is satisfied by *Client.
type StatusGetter interface {
	Status(ctx context.Context, datasetID string, actor Actor) (*models.DatasetDetails, error)
}

// Poller waits for VDI to finish importing an uploaded dataset.
type Poller struct {
	Status          StatusGetter
	Clock           Clock
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	Timeout         time.Duration
}

func NewPoller(status StatusGetter, clk Clock) *Poller {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Poller{
		Status:          status,
		Clock:           clk,
		InitialInterval: PollInitialInterval,
		Multiplier:      PollFactor,
		MaxInterval:     PollMaxInterval,
		Timeout:         PollTimeout,
	}
}

// Schedule returns a fresh jitter-free backoff starting now. NextBackOff
// yields backoff.Stop once the next wait would pass the overall timeout.
func (p *Poller) Schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      p.Timeout,
		Stop:                backoff.Stop,
		Clock:               p.Clock,
	}
	b.Reset()
	return b
}

// AwaitCompletion polls until the import reaches a terminal state. It returns
// an empty string when the import completed, or the joined import messages
// when VDI rejected it; a rejection is a normal outcome, not an error. Status
// call failures and the overall timeout are returned as errors.
func (p *Poller) AwaitCompletion(ctx context.Context, datasetID string, actor Actor) (string, error) {
	schedule := p.Schedule()
	start := p.Clock.Now()
	logger.Infof("Polling for status of %s", datasetID)

	for {
		details, err := p.Status.Status(ctx, datasetID, actor)
		if err != nil {
			return "", err
		}

		status := details.Status.Import
		if status.Terminal() {
			logger.Infof("Polled %s for %s", datasetID, p.Clock.Now().Sub(start).Round(time.Second))
			if status.Failed() {
				logger.Warnf("Upload %s: %s", status, datasetID)
				return FailureMessage(details), nil
			}
			logger.Infof("Upload complete: %s", datasetID)
			return "", nil
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			return "", errors.NewTimeout(nil, fmt.Sprintf("timed out polling for upload completion of %s (last status %q after %s)",
				datasetID, status, p.Clock.Now().Sub(start).Round(time.Second)))
		}

		select {
		case <-ctx.Done():
			return "", errors.Trace(ctx.Err())
		case <-p.Clock.After(wait):
		}
	}
}

// FailureMessage joins the import messages of a rejected dataset. A rejection
// without messages still yields a non-empty text so the ledger marks it
// invalid.
func FailureMessage(details *models.DatasetDetails) string {
	msg := strings.Join(details.ImportMessages, ", ")
	if strings.TrimSpace(msg) == "" {
		return "import " + string(details.Status.Import)
	}
	return msg
}
