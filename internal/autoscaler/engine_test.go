package autoscaler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rshade/apprunner-scale/internal/webhooks"
)

// overlapReconciler records whether two reconciles ever ran at once.
type overlapReconciler struct {
	running atomic.Int32
	overlap atomic.Bool
	err     error
}

func (o *overlapReconciler) Reconcile(_ context.Context, ev webhooks.LifecycleEvent) (webhooks.Result, error) {
	if o.running.Add(1) > 1 {
		o.overlap.Store(true)
	}
	defer o.running.Add(-1)
	time.Sleep(5 * time.Millisecond)
	if o.err != nil {
		return webhooks.NewResult(""), o.err
	}
	return webhooks.NewResult("arn:" + ev.ResourceName), nil
}

func TestEngine_HandleSerializes(t *testing.T) {
	rec := &overlapReconciler{}
	e := NewEngine(rec)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Handle(context.Background(), webhooks.LifecycleEvent{Kind: webhooks.KindCreate, ResourceName: "StackA"}); err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if rec.overlap.Load() {
		t.Error("Expected reconciles to be serialized")
	}
}

func TestEngine_StartResponds(t *testing.T) {
	rec := &overlapReconciler{}
	e := NewEngine(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Start(ctx)

	type outcome struct {
		res webhooks.Result
		err error
	}
	got := make(chan outcome, 1)
	e.Requests <- webhooks.Request{
		Event:   webhooks.LifecycleEvent{Kind: webhooks.KindCreate, ResourceName: "StackA"},
		Respond: func(res webhooks.Result, err error) { got <- outcome{res, err} },
	}

	select {
	case o := <-got:
		if o.err != nil {
			t.Fatalf("Unexpected error: %v", o.err)
		}
		if o.res.Data[webhooks.DataKeyARN] != "arn:StackA" {
			t.Errorf("Wrong arn: got %s want arn:StackA", o.res.Data[webhooks.DataKeyARN])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("No response received")
	}
}

func TestEngine_HandleReturnsError(t *testing.T) {
	rec := &overlapReconciler{err: errors.New("boom")}
	e := NewEngine(rec)

	res, err := e.Handle(context.Background(), webhooks.LifecycleEvent{Kind: webhooks.KindDelete, ResourceName: "StackA"})
	if err == nil || err.Error() != "boom" {
		t.Errorf("Expected boom, got %v", err)
	}
	if res.PhysicalID != webhooks.PhysicalResourceID {
		t.Errorf("Wrong physical id: got %s", res.PhysicalID)
	}
}
