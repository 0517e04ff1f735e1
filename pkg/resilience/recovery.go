package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackmesh/browserpool/pkg/errors"
	"github.com/stackmesh/browserpool/pkg/logging"
)

// OperationType identifies the class of operation being recovered.
type OperationType string

const (
	OperationTypeConnection OperationType = "connection"
	OperationTypeCommand    OperationType = "command"
	OperationTypeSession    OperationType = "session"
	OperationTypeNavigation OperationType = "navigation"
)

// RecoveryContext is read-only input describing the failed operation.
type RecoveryContext struct {
	OperationID   string        `json:"operation_id"`
	Attempt       int           `json:"attempt"`
	LastError     error         `json:"-"`
	StartedAt     time.Time     `json:"started_at"`
	OperationType OperationType `json:"operation_type"`
}

// RecoveryResult reports the outcome of a compensating attempt.
type RecoveryResult struct {
	Success         bool          `json:"success"`
	Result          interface{}   `json:"result,omitempty"`
	Err             error         `json:"-"`
	RecoveryActions []string      `json:"recovery_actions"`
	Duration        time.Duration `json:"duration"`
}

// RecoveryFunc performs the caller-supplied compensating action.
type RecoveryFunc func(context.Context) (interface{}, error)

// RecoveryCoordinator selects compensating actions for a failed,
// already-wrapped operation and runs the caller's recovery function.
// It never returns an error or panics; failures are captured into the
// result.
type RecoveryCoordinator struct {
	logger  *logging.Logger
	metrics RecoveryRecorder
}

// RecoveryRecorder counts recovery outcomes. Implemented by pkg/metrics.
type RecoveryRecorder interface {
	RecordRecovery(operationType string, success bool)
}

// NewRecoveryCoordinator creates a recovery coordinator.
func NewRecoveryCoordinator() *RecoveryCoordinator {
	return &RecoveryCoordinator{logger: logging.GetLogger()}
}

// WithRecorder attaches a metrics recorder and returns the coordinator.
func (rc *RecoveryCoordinator) WithRecorder(m RecoveryRecorder) *RecoveryCoordinator {
	rc.metrics = m
	return rc
}

// Recover inspects the failure and its context, assembles the list of
// compensating actions, invokes the recovery function and reports a
// structured result.
func (rc *RecoveryCoordinator) Recover(ctx context.Context, rctx RecoveryContext, fn RecoveryFunc) (res RecoveryResult) {
	if rctx.OperationID == "" {
		rctx.OperationID = uuid.New().String()
	}

	started := time.Now()
	res.RecoveryActions = rc.selectActions(rctx)

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = errors.NewRecoveryFailedError(rctx.OperationID,
				fmt.Errorf("recovery function panicked: %v", r))
		}
		res.Duration = time.Since(started)
		rc.logger.LogRecoveryEvent(rctx.OperationID, res.Success, res.RecoveryActions, res.Duration)
		if rc.metrics != nil {
			rc.metrics.RecordRecovery(string(rctx.OperationType), res.Success)
		}
	}()

	rc.logger.Info("Attempting recovery",
		"operation_id", rctx.OperationID,
		"operation_type", string(rctx.OperationType),
		"attempt", rctx.Attempt,
		"actions", res.RecoveryActions,
		"last_error", errString(rctx.LastError),
	)

	if fn == nil {
		res.Success = false
		res.Err = errors.NewRecoveryFailedError(rctx.OperationID,
			fmt.Errorf("no recovery function supplied"))
		return res
	}

	result, err := fn(ctx)
	if err != nil {
		res.Success = false
		res.Err = errors.NewRecoveryFailedError(rctx.OperationID, err)
		return res
	}

	res.Success = true
	res.Result = result
	return res
}

// selectActions maps (error kind, operation type) to compensating actions.
func (rc *RecoveryCoordinator) selectActions(rctx RecoveryContext) []string {
	actions := make([]string, 0, 3)
	err := rctx.LastError

	connectionKind := errors.IsType(err, errors.ErrorTypeConnectionCreation) ||
		errors.IsType(err, errors.ErrorTypeProtocol) ||
		errors.IsType(err, errors.ErrorTypeUnknownConnection)

	switch rctx.OperationType {
	case OperationTypeConnection:
		if connectionKind {
			actions = append(actions, "reconnect")
		}
	case OperationTypeCommand:
		actions = append(actions, "retry-command")
		if connectionKind {
			actions = append(actions, "reconnect")
		}
	case OperationTypeSession:
		if errors.IsType(err, errors.ErrorTypeSession) || connectionKind {
			actions = append(actions, "recreate-session")
		}
	case OperationTypeNavigation:
		if rctx.Attempt < 2 {
			actions = append(actions, "refresh-page")
		}
	}

	if errors.IsType(err, errors.ErrorTypeTimeout) {
		actions = append(actions, "extend-timeout")
	}

	return actions
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
