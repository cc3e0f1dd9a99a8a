package controlplane

import (
	"errors"
	"fmt"
)

// ErrNoOperations is returned by PollOperation when the service has no
// operations at all. The operation was never issued or the service is gone.
var ErrNoOperations = errors.New("operation list is empty")

// OperationStatus mirrors the App Runner operation status values.
type OperationStatus string

const (
	OperationPending            OperationStatus = "PENDING"
	OperationInProgress         OperationStatus = "IN_PROGRESS"
	OperationSucceeded          OperationStatus = "SUCCEEDED"
	OperationFailed             OperationStatus = "FAILED"
	OperationRollbackInProgress OperationStatus = "ROLLBACK_IN_PROGRESS"
	OperationRollbackFailed     OperationStatus = "ROLLBACK_FAILED"
	OperationRollbackSucceeded  OperationStatus = "ROLLBACK_SUCCEEDED"
)

// ConnectionStatus mirrors the App Runner source connection status values.
type ConnectionStatus string

const (
	ConnectionPendingHandshake ConnectionStatus = "PENDING_HANDSHAKE"
	ConnectionAvailable        ConnectionStatus = "AVAILABLE"
	ConnectionError            ConnectionStatus = "ERROR"
	ConnectionDeleted          ConnectionStatus = "DELETED"
)

// Parameters are the sizing bounds of an autoscaling configuration.
type Parameters struct {
	MaxConcurrency int `json:"maxConcurrency"`
	MaxSize        int `json:"maxSize"`
	MinSize        int `json:"minSize"`
}

// App Runner API limits.
const (
	MaxConcurrencyLimit = 200
	MaxInstancesLimit   = 25
)

// Validate checks the bounds against the App Runner limits and MinSize <= MaxSize.
func (p Parameters) Validate() error {
	if p.MaxConcurrency < 1 || p.MaxConcurrency > MaxConcurrencyLimit {
		return fmt.Errorf("maxConcurrency must be between 1 and %d, got %d", MaxConcurrencyLimit, p.MaxConcurrency)
	}
	if p.MinSize < 1 || p.MinSize > MaxInstancesLimit {
		return fmt.Errorf("minSize must be between 1 and %d, got %d", MaxInstancesLimit, p.MinSize)
	}
	if p.MaxSize < 1 || p.MaxSize > MaxInstancesLimit {
		return fmt.Errorf("maxSize must be between 1 and %d, got %d", MaxInstancesLimit, p.MaxSize)
	}
	if p.MaxSize < p.MinSize {
		return fmt.Errorf("maxSize must be greater than or equal to minSize")
	}
	return nil
}

// Policy is an App Runner autoscaling configuration. It is addressed by Name,
// deleted and referenced by ARN, and never changed in place.
type Policy struct {
	Name string
	ARN  string
	Parameters
}

// Connection is an App Runner source repository connection.
type Connection struct {
	Name   string
	ARN    string
	Status ConnectionStatus
}

// Ready reports whether the connection handshake has been completed.
func (c *Connection) Ready() bool {
	return c != nil && c.Status == ConnectionAvailable
}
