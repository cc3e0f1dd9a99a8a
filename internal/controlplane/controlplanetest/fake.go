// Package controlplanetest provides an in-memory controlplane.Client for tests.
package controlplanetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rshade/apprunner-scale/internal/controlplane"
)

// Fake is an in-memory control plane. It records every call in order and
// rejects deletion of a policy that a service still references, like the
// real API does.
type Fake struct {
	mu sync.Mutex

	// Policies by name.
	Policies map[string]*controlplane.Policy
	// Stacks maps a stack name to its service ARNs.
	Stacks map[string][]string
	// Attachments maps a service ARN to the policy ARN it references.
	Attachments map[string]string
	// Statuses scripts the statuses returned for a service's operations.
	// Each poll consumes one entry; the last entry repeats. Unscripted
	// services succeed on the first poll.
	Statuses map[string][]controlplane.OperationStatus
	// NoOperations makes PollOperation return ErrNoOperations for a service.
	NoOperations map[string]bool
	// AttachErrors fails AttachPolicyToService for a service.
	AttachErrors map[string]error
	// Errors fails a method by name, e.g. "DeletePolicy".
	Errors map[string]error
	// NewARNs are handed out by CreatePolicy in order before generated ones.
	NewARNs []string
	// Connections by name.
	Connections map[string]*controlplane.Connection

	calls   []string
	polls   map[string]int
	created int
}

var _ controlplane.Client = (*Fake)(nil)

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Policies:     map[string]*controlplane.Policy{},
		Stacks:       map[string][]string{},
		Attachments:  map[string]string{},
		Statuses:     map[string][]controlplane.OperationStatus{},
		NoOperations: map[string]bool{},
		AttachErrors: map[string]error{},
		Errors:       map[string]error{},
		Connections:  map[string]*controlplane.Connection{},
		polls:        map[string]int{},
	}
}

// AddPolicy registers an existing policy.
func (f *Fake) AddPolicy(name, arn string, params controlplane.Parameters) *controlplane.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &controlplane.Policy{Name: name, ARN: arn, Parameters: params}
	f.Policies[name] = p
	return p
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Polls returns how many times PollOperation was called for a service.
func (f *Fake) Polls(serviceArn string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[serviceArn]
}

// AttachedPolicy returns the policy ARN a service references.
func (f *Fake) AttachedPolicy(serviceArn string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Attachments[serviceArn]
}

func (f *Fake) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *Fake) FindPolicyByName(_ context.Context, name string) (*controlplane.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindPolicyByName(%s)", name)
	if err := f.Errors["FindPolicyByName"]; err != nil {
		return nil, err
	}
	p, ok := f.Policies[name]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) CreatePolicy(_ context.Context, name string, params controlplane.Parameters) (*controlplane.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreatePolicy(%s,%d,%d,%d)", name, params.MaxConcurrency, params.MaxSize, params.MinSize)
	if err := f.Errors["CreatePolicy"]; err != nil {
		return nil, err
	}
	if _, ok := f.Policies[name]; ok {
		return nil, fmt.Errorf("autoscaling configuration %q already exists", name)
	}

	f.created++
	var arn string
	if len(f.NewARNs) > 0 {
		arn, f.NewARNs = f.NewARNs[0], f.NewARNs[1:]
	} else {
		arn = fmt.Sprintf("arn:aws:apprunner:us-east-1:123456789012:autoscalingconfiguration/%s/%d", name, f.created)
	}
	p := &controlplane.Policy{Name: name, ARN: arn, Parameters: params}
	f.Policies[name] = p
	cp := *p
	return &cp, nil
}

func (f *Fake) DeletePolicy(_ context.Context, arn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeletePolicy(%s)", arn)
	if err := f.Errors["DeletePolicy"]; err != nil {
		return err
	}
	for svc, attached := range f.Attachments {
		if attached == arn {
			return fmt.Errorf("autoscaling configuration %s is in use by %s", arn, svc)
		}
	}
	for name, p := range f.Policies {
		if p.ARN == arn {
			delete(f.Policies, name)
			return nil
		}
	}
	return fmt.Errorf("autoscaling configuration %s not found", arn)
}

func (f *Fake) FindServiceArnsForStack(_ context.Context, stack string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindServiceArnsForStack(%s)", stack)
	if err := f.Errors["FindServiceArnsForStack"]; err != nil {
		return nil, err
	}
	return append([]string(nil), f.Stacks[stack]...), nil
}

func (f *Fake) AttachPolicyToService(_ context.Context, serviceArn, policyArn string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AttachPolicyToService(%s,%s)", serviceArn, policyArn)
	if err := f.AttachErrors[serviceArn]; err != nil {
		return "", err
	}
	f.Attachments[serviceArn] = policyArn
	return "op-" + serviceArn, nil
}

func (f *Fake) PollOperation(_ context.Context, serviceArn, operationID string) (controlplane.OperationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PollOperation(%s,%s)", serviceArn, operationID)
	n := f.polls[serviceArn]
	f.polls[serviceArn] = n + 1
	if err := f.Errors["PollOperation"]; err != nil {
		return "", err
	}
	if f.NoOperations[serviceArn] {
		return "", controlplane.ErrNoOperations
	}
	script := f.Statuses[serviceArn]
	if len(script) == 0 {
		return controlplane.OperationSucceeded, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], nil
}

func (f *Fake) FindConnection(_ context.Context, name string) (*controlplane.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindConnection(%s)", name)
	if err := f.Errors["FindConnection"]; err != nil {
		return nil, err
	}
	c, ok := f.Connections[name]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
