package controlplane

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
)

// CloudFormationAPI is the subset of the CloudFormation SDK client used here.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// CloudFormationOutputs reads exported outputs of a CloudFormation stack.
type CloudFormationOutputs struct {
	API CloudFormationAPI
}

func (c *CloudFormationOutputs) Exports(ctx context.Context, stack string) ([]Export, error) {
	out, err := c.API.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stack),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %q: %w", stack, err)
	}
	if len(out.Stacks) == 0 {
		return nil, nil
	}

	var exports []Export
	for _, o := range out.Stacks[0].Outputs {
		if o.ExportName == nil {
			continue
		}
		exports = append(exports, Export{
			Name:  aws.ToString(o.ExportName),
			Value: aws.ToString(o.OutputValue),
		})
	}
	return exports, nil
}

// PulumiOutputs reads outputs of a Pulumi stack through the Automation API.
// Output keys are treated as export names, so a Pulumi program exposes
// "<stack>AppRunnerServiceL1ServiceArn" the same way the CloudFormation
// template exports it.
type PulumiOutputs struct {
	WorkDir string
}

// NewPulumiOutputs creates a PulumiOutputs for the program in workDir.
func NewPulumiOutputs(workDir string) *PulumiOutputs {
	return &PulumiOutputs{WorkDir: workDir}
}

func (p *PulumiOutputs) Exports(ctx context.Context, stack string) ([]Export, error) {
	s, err := auto.SelectStackLocalSource(ctx, stack, p.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load stack: %w", err)
	}

	outputs, err := s.Outputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack outputs: %w", err)
	}
	return exportsFromPulumi(outputs), nil
}

// exportsFromPulumi keeps plain, non-secret string outputs.
func exportsFromPulumi(outputs auto.OutputMap) []Export {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	// OutputMap has no order; sort so service order is stable across calls.
	sort.Strings(keys)

	exports := make([]Export, 0, len(keys))
	for _, k := range keys {
		v := outputs[k]
		s, ok := v.Value.(string)
		if !ok || v.Secret {
			continue
		}
		exports = append(exports, Export{Name: k, Value: s})
	}
	return exports
}
