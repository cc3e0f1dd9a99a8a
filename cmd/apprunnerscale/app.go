package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/apprunner"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/autoscaler"
	"github.com/rshade/apprunner-scale/internal/config"
	"github.com/rshade/apprunner-scale/internal/controlplane"
	"github.com/rshade/apprunner-scale/internal/migration"
	"github.com/rshade/apprunner-scale/internal/operation"
)

// app holds the wired components for one process.
type app struct {
	cfg    *config.Config
	client controlplane.Client
	engine *autoscaler.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	awsCfg, err := controlplane.LoadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	var stacks controlplane.StackOutputs
	switch cfg.StackSource {
	case config.StackSourcePulumi:
		stacks = controlplane.NewPulumiOutputs(cfg.Pulumi.WorkDir)
	default:
		stacks = &controlplane.CloudFormationOutputs{API: cloudformation.NewFromConfig(awsCfg)}
	}

	client := controlplane.NewAppRunner(apprunner.NewFromConfig(awsCfg), stacks, cfg.ServiceExportSuffixes)

	log.Debug().
		Str("region", awsCfg.Region).
		Str("stackSource", cfg.StackSource).
		Str("defaultPolicy", cfg.DefaultPolicyName).
		Dur("maxWait", cfg.MaxWait).
		Msg("Control plane client ready")

	return &app{cfg: cfg, client: client, engine: newEngine(cfg, client)}, nil
}

func newEngine(cfg *config.Config, client controlplane.Client) *autoscaler.Engine {
	poller := operation.NewPoller(client, cfg.PollInterval, cfg.MaxWait)

	migrator := migration.NewMigrator(client, poller)
	migrator.DefaultPolicyName = cfg.DefaultPolicyName
	migrator.OnMissingDefault = migration.MissingDefaultAction(cfg.MissingDefaultPolicy)

	rec := autoscaler.NewReconciler(client, migrator)
	rec.ConnectionName = cfg.ConnectionName
	rec.MigrateOnDelete = cfg.MigrateOnDelete

	return autoscaler.NewEngine(rec)
}
