package controlplane

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	"github.com/aws/aws-sdk-go-v2/service/apprunner/types"
	"github.com/rs/zerolog/log"
)

// AppRunnerAPI is the subset of the App Runner SDK client used here.
type AppRunnerAPI interface {
	ListAutoScalingConfigurations(ctx context.Context, in *apprunner.ListAutoScalingConfigurationsInput, optFns ...func(*apprunner.Options)) (*apprunner.ListAutoScalingConfigurationsOutput, error)
	DescribeAutoScalingConfiguration(ctx context.Context, in *apprunner.DescribeAutoScalingConfigurationInput, optFns ...func(*apprunner.Options)) (*apprunner.DescribeAutoScalingConfigurationOutput, error)
	CreateAutoScalingConfiguration(ctx context.Context, in *apprunner.CreateAutoScalingConfigurationInput, optFns ...func(*apprunner.Options)) (*apprunner.CreateAutoScalingConfigurationOutput, error)
	DeleteAutoScalingConfiguration(ctx context.Context, in *apprunner.DeleteAutoScalingConfigurationInput, optFns ...func(*apprunner.Options)) (*apprunner.DeleteAutoScalingConfigurationOutput, error)
	UpdateService(ctx context.Context, in *apprunner.UpdateServiceInput, optFns ...func(*apprunner.Options)) (*apprunner.UpdateServiceOutput, error)
	ListOperations(ctx context.Context, in *apprunner.ListOperationsInput, optFns ...func(*apprunner.Options)) (*apprunner.ListOperationsOutput, error)
	ListConnections(ctx context.Context, in *apprunner.ListConnectionsInput, optFns ...func(*apprunner.Options)) (*apprunner.ListConnectionsOutput, error)
}

// AppRunner implements Client on top of the App Runner API and a stack
// output source used for service discovery.
type AppRunner struct {
	API            AppRunnerAPI
	Stacks         StackOutputs
	ExportSuffixes []string
}

var _ Client = (*AppRunner)(nil)

// NewAppRunner creates a Client. A nil suffix list uses DefaultServiceExportSuffixes.
func NewAppRunner(api AppRunnerAPI, stacks StackOutputs, suffixes []string) *AppRunner {
	if len(suffixes) == 0 {
		suffixes = DefaultServiceExportSuffixes
	}
	return &AppRunner{
		API:            api,
		Stacks:         stacks,
		ExportSuffixes: suffixes,
	}
}

// LoadAWSConfig resolves credentials from the environment for the given region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

func (a *AppRunner) FindPolicyByName(ctx context.Context, name string) (*Policy, error) {
	var token *string
	for {
		out, err := a.API.ListAutoScalingConfigurations(ctx, &apprunner.ListAutoScalingConfigurationsInput{
			AutoScalingConfigurationName: aws.String(name),
			NextToken:                    token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list autoscaling configurations %q: %w", name, err)
		}

		for _, summary := range out.AutoScalingConfigurationSummaryList {
			// Only exact names count.
			if aws.ToString(summary.AutoScalingConfigurationName) != name {
				continue
			}
			arn := aws.ToString(summary.AutoScalingConfigurationArn)
			desc, err := a.API.DescribeAutoScalingConfiguration(ctx, &apprunner.DescribeAutoScalingConfigurationInput{
				AutoScalingConfigurationArn: aws.String(arn),
			})
			if err != nil {
				return nil, fmt.Errorf("failed to describe autoscaling configuration %s: %w", arn, err)
			}
			if desc.AutoScalingConfiguration == nil || desc.AutoScalingConfiguration.Status == types.AutoScalingConfigurationStatusInactive {
				continue
			}
			return policyFromSDK(desc.AutoScalingConfiguration), nil
		}

		token = out.NextToken
		if token == nil {
			return nil, nil
		}
	}
}

func (a *AppRunner) CreatePolicy(ctx context.Context, name string, params Parameters) (*Policy, error) {
	// The API takes int32; out-of-range values would wrap.
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters for autoscaling configuration %q: %w", name, err)
	}
	out, err := a.API.CreateAutoScalingConfiguration(ctx, &apprunner.CreateAutoScalingConfigurationInput{
		AutoScalingConfigurationName: aws.String(name),
		MaxConcurrency:               aws.Int32(int32(params.MaxConcurrency)),
		MaxSize:                      aws.Int32(int32(params.MaxSize)),
		MinSize:                      aws.Int32(int32(params.MinSize)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create autoscaling configuration %q: %w", name, err)
	}
	if out.AutoScalingConfiguration == nil || aws.ToString(out.AutoScalingConfiguration.AutoScalingConfigurationArn) == "" {
		return nil, fmt.Errorf("create autoscaling configuration %q returned no arn", name)
	}
	p := policyFromSDK(out.AutoScalingConfiguration)
	log.Debug().Str("arn", p.ARN).Str("name", name).Msg("Created autoscaling configuration")
	return p, nil
}

func (a *AppRunner) DeletePolicy(ctx context.Context, arn string) error {
	if _, err := a.API.DeleteAutoScalingConfiguration(ctx, &apprunner.DeleteAutoScalingConfigurationInput{
		AutoScalingConfigurationArn: aws.String(arn),
	}); err != nil {
		return fmt.Errorf("failed to delete autoscaling configuration %s: %w", arn, err)
	}
	log.Debug().Str("arn", arn).Msg("Deleted autoscaling configuration")
	return nil
}

func (a *AppRunner) FindServiceArnsForStack(ctx context.Context, stack string) ([]string, error) {
	exports, err := a.Stacks.Exports(ctx, stack)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve outputs of stack %q: %w", stack, err)
	}
	return ServiceArnsFromExports(stack, exports, a.ExportSuffixes), nil
}

func (a *AppRunner) AttachPolicyToService(ctx context.Context, serviceArn, policyArn string) (string, error) {
	out, err := a.API.UpdateService(ctx, &apprunner.UpdateServiceInput{
		ServiceArn:                  aws.String(serviceArn),
		AutoScalingConfigurationArn: aws.String(policyArn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to update service %s: %w", serviceArn, err)
	}
	return aws.ToString(out.OperationId), nil
}

func (a *AppRunner) PollOperation(ctx context.Context, serviceArn, operationID string) (OperationStatus, error) {
	var token *string
	seen := 0
	for {
		out, err := a.API.ListOperations(ctx, &apprunner.ListOperationsInput{
			ServiceArn: aws.String(serviceArn),
			NextToken:  token,
		})
		if err != nil {
			return "", fmt.Errorf("failed to list operations of service %s: %w", serviceArn, err)
		}
		seen += len(out.OperationSummaryList)
		for _, op := range out.OperationSummaryList {
			if aws.ToString(op.Id) == operationID {
				return OperationStatus(op.Status), nil
			}
		}
		token = out.NextToken
		if token == nil {
			break
		}
	}
	if seen == 0 {
		return "", ErrNoOperations
	}
	// Not found among existing operations; the poller treats an empty status as terminal.
	return "", nil
}

func (a *AppRunner) FindConnection(ctx context.Context, name string) (*Connection, error) {
	out, err := a.API.ListConnections(ctx, &apprunner.ListConnectionsInput{
		ConnectionName: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list connections %q: %w", name, err)
	}
	for _, c := range out.ConnectionSummaryList {
		if aws.ToString(c.ConnectionName) != name {
			continue
		}
		return &Connection{
			Name:   name,
			ARN:    aws.ToString(c.ConnectionArn),
			Status: ConnectionStatus(c.Status),
		}, nil
	}
	return nil, nil
}

func policyFromSDK(c *types.AutoScalingConfiguration) *Policy {
	return &Policy{
		Name: aws.ToString(c.AutoScalingConfigurationName),
		ARN:  aws.ToString(c.AutoScalingConfigurationArn),
		Parameters: Parameters{
			MaxConcurrency: int(aws.ToInt32(c.MaxConcurrency)),
			MaxSize:        int(aws.ToInt32(c.MaxSize)),
			MinSize:        int(aws.ToInt32(c.MinSize)),
		},
	}
}
