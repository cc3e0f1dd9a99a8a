// Package migration moves the services of a stack off an autoscaling
// configuration so that the configuration can be deleted.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/rshade/apprunner-scale/internal/controlplane"
)

// DefaultPolicyName is the App Runner provided configuration every account has.
const DefaultPolicyName = "DefaultConfiguration"

// MissingDefaultAction decides what happens when the default policy cannot be found.
type MissingDefaultAction string

const (
	// MissingDefaultFail aborts the migration with ErrDefaultPolicyMissing.
	MissingDefaultFail MissingDefaultAction = "fail"
	// MissingDefaultSkip logs a warning and leaves services where they are.
	MissingDefaultSkip MissingDefaultAction = "skip"
)

var (
	// ErrDefaultPolicyMissing is returned when there is nothing to migrate onto.
	ErrDefaultPolicyMissing = errors.New("default autoscaling configuration not found")
	// ErrNoServices is returned when a migration was requested for a stack
	// that exposes no services.
	ErrNoServices = errors.New("no service arns found for stack")
)

// ServiceError is the failure of one service's repoint.
type ServiceError struct {
	ServiceARN string
	Err        error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s: %v", e.ServiceARN, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// MigrationError aggregates every failed service of one migration.
type MigrationError struct {
	Stack string
	Total int
	Err   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration of stack %s failed for %d of %d services: %v", e.Stack, len(e.Failed()), e.Total, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Failed lists the services that could not be repointed.
func (e *MigrationError) Failed() []string {
	var errs []error
	if joined, ok := e.Err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{e.Err}
	}

	var arns []string
	for _, err := range errs {
		var se *ServiceError
		if errors.As(err, &se) {
			arns = append(arns, se.ServiceARN)
		}
	}
	return arns
}

// Awaiter waits for an operation on a service to finish.
type Awaiter interface {
	Await(ctx context.Context, serviceArn, operationID string) error
}

// Migrator repoints every service of a stack onto the default policy.
type Migrator struct {
	Client            controlplane.Client
	Poller            Awaiter
	DefaultPolicyName string
	OnMissingDefault  MissingDefaultAction
}

// NewMigrator creates a Migrator that fails when the default policy is absent.
func NewMigrator(client controlplane.Client, poller Awaiter) *Migrator {
	return &Migrator{
		Client:            client,
		Poller:            poller,
		DefaultPolicyName: DefaultPolicyName,
		OnMissingDefault:  MissingDefaultFail,
	}
}

// MigrateStackServices returns only after every service has been repointed
// and its operation has finished. All services are attempted; any failure
// makes the whole migration fail.
func (m *Migrator) MigrateStackServices(ctx context.Context, stack string) error {
	def, err := m.Client.FindPolicyByName(ctx, m.DefaultPolicyName)
	if err != nil {
		return fmt.Errorf("failed to look up default policy: %w", err)
	}
	if def == nil {
		if m.OnMissingDefault == MissingDefaultSkip {
			log.Warn().
				Str("stack", stack).
				Str("default", m.DefaultPolicyName).
				Msg("Default autoscaling configuration not found. Skipping migration; deletion may be rejected while services reference the old configuration.")
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDefaultPolicyMissing, m.DefaultPolicyName)
	}

	arns, err := m.Client.FindServiceArnsForStack(ctx, stack)
	if err != nil {
		return fmt.Errorf("failed to resolve services: %w", err)
	}
	if len(arns) == 0 {
		return fmt.Errorf("%w: %s", ErrNoServices, stack)
	}

	log.Info().
		Str("stack", stack).
		Str("arn", def.ARN).
		Int("services", len(arns)).
		Msg("Migrating services to default autoscaling configuration")

	p := pool.New().WithContext(ctx)
	for _, arn := range arns {
		arn := arn // per-iteration copy; go directive < 1.22 shares loop vars
		p.Go(func(ctx context.Context) error {
			if err := m.migrateService(ctx, arn, def.ARN); err != nil {
				return &ServiceError{ServiceARN: arn, Err: err}
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		merr := &MigrationError{Stack: stack, Total: len(arns), Err: err}
		log.Error().Str("stack", stack).Str("failed", strings.Join(merr.Failed(), ",")).Msg("Migration failed")
		return merr
	}
	return nil
}

func (m *Migrator) migrateService(ctx context.Context, serviceArn, policyArn string) error {
	opID, err := m.Client.AttachPolicyToService(ctx, serviceArn, policyArn)
	if err != nil {
		return err
	}
	log.Debug().Str("service", serviceArn).Str("operation", opID).Msg("Service update issued")
	if err := m.Poller.Await(ctx, serviceArn, opID); err != nil {
		return err
	}
	log.Info().Str("service", serviceArn).Msg("Service migrated")
	return nil
}
