package etl

import (
	"context"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/internal/transport"
)

// Step names a network operation the orchestrator may tolerate failing.
type Step string

const (
	StepDownload     Step = "download"
	StepShareOffer   Step = "share-offer"
	StepShareReceipt Step = "share-receipt"
)

type Action int

const (
	// Abort stops the run; re-running is the retry.
	Abort Action = iota
	// SkipRecord leaves the record for the next run and carries on.
	SkipRecord
)

// FailurePolicy decides per step what a recoverable failure does. The zero
// value aborts on everything.
type FailurePolicy map[Step]Action

func (p FailurePolicy) actionFor(step Step) Action {
	if p == nil {
		return Abort
	}
	return p[step]
}

// IsRecoverable reports whether err is a failed remote call that a later run
// could succeed at. Local I/O errors, cancellation, timeouts and contract
// violations are not.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errors.NotSupported) || errors.Is(err, errors.Timeout) {
		return false
	}
	_, ok := transport.AsRequestError(err)
	return ok
}

// tolerate returns true when err at step should skip the record instead of
// stopping the run.
func (p FailurePolicy) tolerate(step Step, err error) bool {
	return p.actionFor(step) == SkipRecord && IsRecoverable(err)
}
