package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/browserpool/pkg/errors"
)

func TestRecoveryCoordinator_SuccessfulRecovery(t *testing.T) {
	rc := NewRecoveryCoordinator()

	res := rc.Recover(context.Background(), RecoveryContext{
		OperationID:   "op-1",
		Attempt:       1,
		LastError:     errors.NewConnectionCreationError("socket closed"),
		StartedAt:     time.Now(),
		OperationType: OperationTypeConnection,
	}, func(ctx context.Context) (interface{}, error) {
		return "reconnected", nil
	})

	assert.True(t, res.Success)
	assert.Equal(t, "reconnected", res.Result)
	assert.NoError(t, res.Err)
	assert.Contains(t, res.RecoveryActions, "reconnect")
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRecoveryCoordinator_FailedRecoveryCaptured(t *testing.T) {
	rc := NewRecoveryCoordinator()

	res := rc.Recover(context.Background(), RecoveryContext{
		OperationID:   "op-2",
		OperationType: OperationTypeCommand,
		LastError:     errors.NewProtocolError("bad frame"),
	}, func(ctx context.Context) (interface{}, error) {
		return nil, stderrors.New("still broken")
	})

	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.True(t, errors.IsType(res.Err, errors.ErrorTypeRecoveryFailed))
}

func TestRecoveryCoordinator_PanicCaptured(t *testing.T) {
	rc := NewRecoveryCoordinator()

	var res RecoveryResult
	assert.NotPanics(t, func() {
		res = rc.Recover(context.Background(), RecoveryContext{
			OperationType: OperationTypeCommand,
		}, func(ctx context.Context) (interface{}, error) {
			panic("recovery exploded")
		})
	})

	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.True(t, errors.IsType(res.Err, errors.ErrorTypeRecoveryFailed))
}

func TestRecoveryCoordinator_NilRecoveryFunc(t *testing.T) {
	rc := NewRecoveryCoordinator()

	res := rc.Recover(context.Background(), RecoveryContext{
		OperationType: OperationTypeConnection,
	}, nil)

	assert.False(t, res.Success)
	require.Error(t, res.Err)
}

func TestRecoveryCoordinator_GeneratesOperationID(t *testing.T) {
	rc := NewRecoveryCoordinator()

	res := rc.Recover(context.Background(), RecoveryContext{
		OperationType: OperationTypeCommand,
	}, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})

	assert.True(t, res.Success)
}

func TestRecoveryCoordinator_ActionSelection(t *testing.T) {
	rc := NewRecoveryCoordinator()

	tests := []struct {
		name    string
		rctx    RecoveryContext
		want    []string
		exclude []string
	}{
		{
			name: "connection error on connection op",
			rctx: RecoveryContext{
				OperationType: OperationTypeConnection,
				LastError:     errors.NewConnectionCreationError("down"),
			},
			want: []string{"reconnect"},
		},
		{
			name: "command op always retries command",
			rctx: RecoveryContext{
				OperationType: OperationTypeCommand,
				LastError:     errors.NewProtocolError("bad frame"),
			},
			want: []string{"retry-command", "reconnect"},
		},
		{
			name: "session error recreates session",
			rctx: RecoveryContext{
				OperationType: OperationTypeSession,
				LastError:     errors.NewSessionError("session detached"),
			},
			want: []string{"recreate-session"},
		},
		{
			name: "early navigation failure refreshes page",
			rctx: RecoveryContext{
				OperationType: OperationTypeNavigation,
				Attempt:       1,
				LastError:     errors.NewNavigationError("load failed"),
			},
			want: []string{"refresh-page"},
		},
		{
			name: "late navigation failure does not refresh",
			rctx: RecoveryContext{
				OperationType: OperationTypeNavigation,
				Attempt:       2,
				LastError:     errors.NewNavigationError("load failed"),
			},
			exclude: []string{"refresh-page"},
		},
		{
			name: "timeout adds extend-timeout hint",
			rctx: RecoveryContext{
				OperationType: OperationTypeCommand,
				LastError:     errors.NewTimeoutError("evaluate", time.Second),
			},
			want: []string{"retry-command", "extend-timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := rc.selectActions(tt.rctx)
			for _, want := range tt.want {
				assert.Contains(t, actions, want)
			}
			for _, ex := range tt.exclude {
				assert.NotContains(t, actions, ex)
			}
		})
	}
}

type fakeRecoveryRecorder struct {
	calls     int
	lastOk    bool
	lastOpTyp string
}

func (r *fakeRecoveryRecorder) RecordRecovery(operationType string, success bool) {
	r.calls++
	r.lastOk = success
	r.lastOpTyp = operationType
}

func TestRecoveryCoordinator_Recorder(t *testing.T) {
	rec := &fakeRecoveryRecorder{}
	rc := NewRecoveryCoordinator().WithRecorder(rec)

	rc.Recover(context.Background(), RecoveryContext{
		OperationType: OperationTypeSession,
	}, func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})

	assert.Equal(t, 1, rec.calls)
	assert.True(t, rec.lastOk)
	assert.Equal(t, "session", rec.lastOpTyp)
}
