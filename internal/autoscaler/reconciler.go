package autoscaler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rshade/apprunner-scale/internal/controlplane"
	"github.com/rshade/apprunner-scale/internal/webhooks"
)

// ErrConnectionNotReady is returned when the source connection handshake
// has not been completed.
var ErrConnectionNotReady = errors.New("source connection is not available")

// StackMigrator moves a stack's services off the policy about to be deleted.
type StackMigrator interface {
	MigrateStackServices(ctx context.Context, stack string) error
}

// Reconciler drives one autoscaling configuration through Create, Update and
// Delete. It keeps no state between events; everything is re-read from the
// control plane, so a redelivered event is safe to process again.
type Reconciler struct {
	Client   controlplane.Client
	Migrator StackMigrator

	// ConnectionName, when set, must name an AVAILABLE connection before
	// Create or Update proceeds.
	ConnectionName string

	// MigrateOnDelete repoints services before a Delete.
	MigrateOnDelete bool
}

// NewReconciler creates a Reconciler that migrates on Delete.
func NewReconciler(client controlplane.Client, migrator StackMigrator) *Reconciler {
	return &Reconciler{
		Client:          client,
		Migrator:        migrator,
		MigrateOnDelete: true,
	}
}

// Reconcile applies one lifecycle event.
func (r *Reconciler) Reconcile(ctx context.Context, ev webhooks.LifecycleEvent) (webhooks.Result, error) {
	logger := log.With().
		Str("kind", string(ev.Kind)).
		Str("resource", ev.ResourceName).
		Str("stack", ev.StackName).
		Logger()

	var (
		arn string
		err error
	)
	switch ev.Kind {
	case webhooks.KindCreate:
		arn, err = r.create(ctx, logger, ev)
	case webhooks.KindUpdate:
		arn, err = r.update(ctx, logger, ev)
	case webhooks.KindDelete:
		err = r.delete(ctx, logger, ev)
	default:
		err = fmt.Errorf("%w: unknown request type %q", webhooks.ErrInvalidProperties, ev.Kind)
	}
	if err != nil {
		return webhooks.NewResult(""), err
	}
	return webhooks.NewResult(arn), nil
}

func (r *Reconciler) create(ctx context.Context, logger zerolog.Logger, ev webhooks.LifecycleEvent) (string, error) {
	if err := r.checkConnection(ctx); err != nil {
		return "", err
	}

	existing, err := r.Client.FindPolicyByName(ctx, ev.ResourceName)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return r.createPolicy(ctx, logger, ev)
	}
	if existing.Parameters == ev.Parameters {
		logger.Info().Str("arn", existing.ARN).Msg("Autoscaling configuration already exists. Reusing it.")
		return existing.ARN, nil
	}

	logger.Info().Str("arn", existing.ARN).Msg("Autoscaling configuration exists with different parameters. Replacing it.")
	return r.replace(ctx, logger, ev, existing)
}

func (r *Reconciler) update(ctx context.Context, logger zerolog.Logger, ev webhooks.LifecycleEvent) (string, error) {
	if err := r.checkConnection(ctx); err != nil {
		return "", err
	}

	existing, err := r.Client.FindPolicyByName(ctx, ev.ResourceName)
	if err != nil {
		return "", err
	}
	return r.replace(ctx, logger, ev, existing)
}

// replace retires existing, if any, and creates the configuration anew.
// Services are left on the default policy; they are not moved to the new one.
func (r *Reconciler) replace(ctx context.Context, logger zerolog.Logger, ev webhooks.LifecycleEvent, existing *controlplane.Policy) (string, error) {
	if existing != nil {
		if err := r.retire(ctx, logger, ev.StackName, existing, true); err != nil {
			return "", err
		}
	}
	return r.createPolicy(ctx, logger, ev)
}

func (r *Reconciler) delete(ctx context.Context, logger zerolog.Logger, ev webhooks.LifecycleEvent) error {
	existing, err := r.Client.FindPolicyByName(ctx, ev.ResourceName)
	if err != nil {
		return err
	}
	if existing == nil {
		logger.Info().Msg("Autoscaling configuration not found. Nothing to delete.")
		return nil
	}
	return r.retire(ctx, logger, ev.StackName, existing, r.MigrateOnDelete)
}

// retire deletes p, first repointing the stack's services when migrate is set.
// A failed migration leaves p in place.
func (r *Reconciler) retire(ctx context.Context, logger zerolog.Logger, stack string, p *controlplane.Policy, migrate bool) error {
	if migrate {
		if err := r.Migrator.MigrateStackServices(ctx, stack); err != nil {
			return fmt.Errorf("failed to migrate services off %s: %w", p.ARN, err)
		}
	}
	if err := r.Client.DeletePolicy(ctx, p.ARN); err != nil {
		return err
	}
	logger.Info().Str("arn", p.ARN).Msg("Deleted autoscaling configuration")
	return nil
}

func (r *Reconciler) createPolicy(ctx context.Context, logger zerolog.Logger, ev webhooks.LifecycleEvent) (string, error) {
	p, err := r.Client.CreatePolicy(ctx, ev.ResourceName, ev.Parameters)
	if err != nil {
		return "", err
	}
	logger.Info().
		Str("arn", p.ARN).
		Int("maxConcurrency", ev.Parameters.MaxConcurrency).
		Int("maxSize", ev.Parameters.MaxSize).
		Int("minSize", ev.Parameters.MinSize).
		Msg("Created autoscaling configuration")
	return p.ARN, nil
}

func (r *Reconciler) checkConnection(ctx context.Context) error {
	if r.ConnectionName == "" {
		return nil
	}
	return CheckConnection(ctx, r.Client, r.ConnectionName)
}

// CheckConnection fails with ErrConnectionNotReady unless the named
// connection exists and its handshake is complete. Remediation steps are
// logged on failure.
func CheckConnection(ctx context.Context, client controlplane.Client, name string) error {
	conn, err := client.FindConnection(ctx, name)
	if err != nil {
		return err
	}
	if conn.Ready() {
		return nil
	}

	status := "MISSING"
	if conn != nil {
		status = string(conn.Status)
	}
	log.Error().
		Str("connection", name).
		Str("status", status).
		Msg("Source connection is PENDING_HANDSHAKE or does not exist. " +
			"1. Create it: aws apprunner create-connection --connection-name " + name + " --provider-type GITHUB. " +
			"2. Click Complete handshake for it in the App Runner console.")
	return fmt.Errorf("%w: %s is %s", ErrConnectionNotReady, name, status)
}
