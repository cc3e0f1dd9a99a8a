// Package operation waits for asynchronous App Runner operations to finish.
package operation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/controlplane"
)

const (
	// DefaultInterval is the wait between two status checks.
	DefaultInterval = 10 * time.Second
	// DefaultMaxWait keeps a poll below the 15 minute Lambda ceiling.
	DefaultMaxWait = 13 * time.Minute
)

// ErrEmptyOperationID is returned when asked to wait for no operation.
var ErrEmptyOperationID = errors.New("operation id is empty")

// OperationFailedError reports an operation that ended in a non-success state.
type OperationFailedError struct {
	ServiceARN  string
	OperationID string
	Status      controlplane.OperationStatus
}

func (e *OperationFailedError) Error() string {
	status := string(e.Status)
	if status == "" {
		status = "UNKNOWN"
	}
	return fmt.Sprintf("operation %s on service %s ended with status: %s", e.OperationID, e.ServiceARN, status)
}

// TimeoutError reports an operation still running after MaxWait.
type TimeoutError struct {
	ServiceARN  string
	OperationID string
	Waited      time.Duration
	LastStatus  controlplane.OperationStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s on service %s still %s after %s", e.OperationID, e.ServiceARN, e.LastStatus, e.Waited)
}

// Phase buckets an operation status.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseSucceeded
	PhaseFailed
)

// Classify maps a status to its phase. Anything that is neither running nor
// SUCCEEDED is terminal failure, including unknown and empty statuses.
func Classify(status controlplane.OperationStatus) Phase {
	switch status {
	case controlplane.OperationSucceeded:
		return PhaseSucceeded
	case controlplane.OperationPending, controlplane.OperationInProgress:
		return PhaseRunning
	default:
		return PhaseFailed
	}
}

// StatusSource is the single call the poller needs from the control plane.
type StatusSource interface {
	PollOperation(ctx context.Context, serviceArn, operationID string) (controlplane.OperationStatus, error)
}

// Poller repeatedly checks an operation until it reaches a terminal state.
type Poller struct {
	Source   StatusSource
	Interval time.Duration
	// MaxWait bounds the total wait. Zero leaves only ctx as the bound.
	MaxWait time.Duration
	Clock   clock.Clock
}

// NewPoller creates a Poller on the wall clock.
func NewPoller(source StatusSource, interval, maxWait time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		Source:   source,
		Interval: interval,
		MaxWait:  maxWait,
		Clock:    clock.NewClock(),
	}
}

// Await blocks until the operation succeeds, fails, times out or ctx ends.
func (p *Poller) Await(ctx context.Context, serviceArn, operationID string) error {
	if operationID == "" {
		return ErrEmptyOperationID
	}

	logger := log.With().Str("service", serviceArn).Str("operation", operationID).Logger()
	start := p.Clock.Now()
	for {
		status, err := p.Source.PollOperation(ctx, serviceArn, operationID)
		if err != nil {
			return fmt.Errorf("failed to poll operation %s: %w", operationID, err)
		}

		switch Classify(status) {
		case PhaseSucceeded:
			logger.Debug().Dur("duration", p.Clock.Since(start)).Msg("Operation succeeded")
			return nil
		case PhaseFailed:
			return &OperationFailedError{ServiceARN: serviceArn, OperationID: operationID, Status: status}
		}

		waited := p.Clock.Since(start)
		if p.MaxWait > 0 && waited+p.Interval > p.MaxWait {
			return &TimeoutError{ServiceARN: serviceArn, OperationID: operationID, Waited: waited, LastStatus: status}
		}

		logger.Debug().Str("status", string(status)).Dur("interval", p.Interval).Msg("Operation running, waiting")
		timer := p.Clock.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}
