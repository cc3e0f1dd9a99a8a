package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/webhooks"
)

// EventReconciler applies a single lifecycle event.
type EventReconciler interface {
	Reconcile(ctx context.Context, ev webhooks.LifecycleEvent) (webhooks.Result, error)
}

// Engine serializes lifecycle events. Two events for the same configuration
// name must never interleave, so only one reconcile runs at a time.
type Engine struct {
	Reconciler EventReconciler
	Requests   chan webhooks.Request
	mu         sync.Mutex
}

func NewEngine(reconciler EventReconciler) *Engine {
	return &Engine{
		Reconciler: reconciler,
		Requests:   make(chan webhooks.Request, 100),
	}
}

// Start consumes Requests until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	log.Info().Msg("Engine started, waiting for lifecycle events...")
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.Requests:
			res, err := e.Handle(ctx, req.Event)
			if req.Respond != nil {
				req.Respond(res, err)
			}
		}
	}
}

// Handle reconciles one event while holding the engine lock.
func (e *Engine) Handle(ctx context.Context, ev webhooks.LifecycleEvent) (webhooks.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log.Info().
		Str("kind", string(ev.Kind)).
		Str("resource", ev.ResourceName).
		Str("stack", ev.StackName).
		Msg("Processing lifecycle event")

	start := time.Now()
	res, err := e.Reconciler.Reconcile(ctx, ev)
	duration := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", string(ev.Kind)).
			Str("resource", ev.ResourceName).
			Dur("duration", duration).
			Msg("Lifecycle event failed")
		return res, err
	}

	log.Info().
		Str("kind", string(ev.Kind)).
		Str("resource", ev.ResourceName).
		Str("arn", res.Data[webhooks.DataKeyARN]).
		Dur("duration", duration).
		Msg("Lifecycle event reconciled")
	return res, nil
}
