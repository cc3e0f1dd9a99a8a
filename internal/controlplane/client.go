// Package controlplane talks to the App Runner control APIs and to the stack
// outputs that expose the ARNs of the services owned by a deployment.
package controlplane

import "context"

// Client is the typed surface the reconciler needs from the control plane.
// Every method issues at most one logical request; none of them retry.
type Client interface {
	// FindPolicyByName returns the active policy with the exact name, or nil.
	FindPolicyByName(ctx context.Context, name string) (*Policy, error)
	// CreatePolicy creates a new policy. The caller checks for an existing one first.
	CreatePolicy(ctx context.Context, name string, params Parameters) (*Policy, error)
	// DeletePolicy deletes a policy that no service references any more.
	DeletePolicy(ctx context.Context, arn string) error
	// FindServiceArnsForStack resolves the service ARNs exported by a stack.
	FindServiceArnsForStack(ctx context.Context, stack string) ([]string, error)
	// AttachPolicyToService repoints a service and returns the operation to poll.
	AttachPolicyToService(ctx context.Context, serviceArn, policyArn string) (string, error)
	// PollOperation checks the current status of one operation without waiting.
	PollOperation(ctx context.Context, serviceArn, operationID string) (OperationStatus, error)
	// FindConnection returns the source connection with the given name, or nil.
	FindConnection(ctx context.Context, name string) (*Connection, error)
}

// StackOutputs resolves the exported outputs of a deployment stack.
type StackOutputs interface {
	// Exports returns export name -> value, in the order the stack reports them.
	Exports(ctx context.Context, stack string) ([]Export, error)
}

// Export is a single named stack output.
type Export struct {
	Name  string
	Value string
}

// DefaultServiceExportSuffixes are appended to the stack name to build the
// export names that carry service ARNs.
var DefaultServiceExportSuffixes = []string{
	"AppRunnerServiceL1ServiceArn",
	"AppRunnerServiceL2ServiceArn",
}

// ServiceArnsFromExports keeps the values of exports named <stack><suffix>,
// preserving the stack's output order.
func ServiceArnsFromExports(stack string, exports []Export, suffixes []string) []string {
	wanted := make(map[string]struct{}, len(suffixes))
	for _, s := range suffixes {
		wanted[stack+s] = struct{}{}
	}

	arns := make([]string, 0, len(suffixes))
	for _, e := range exports {
		if _, ok := wanted[e.Name]; !ok || e.Value == "" {
			continue
		}
		arns = append(arns, e.Value)
	}
	return arns
}
