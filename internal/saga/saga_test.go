package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct{ calls []string }

func (r *recorder) step(name string, fail error, compensateFail error) Step {
	return Step{
		Name: name,
		Action: func(ctx context.Context) error {
			r.calls = append(r.calls, "do "+name)
			return fail
		},
		Compensate: func(ctx context.Context) error {
			r.calls = append(r.calls, "undo "+name)
			return compensateFail
		},
	}
}

func TestRunSuccess(t *testing.T) {
	rec := &recorder{}
	err := Run(context.Background(), "ok", []Step{rec.step("a", nil, nil), rec.step("b", nil, nil)}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"do a", "do b"}, rec.calls)
}

func TestRunUnwindsInReverseOrder(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	err := Run(context.Background(), "approve", []Step{
		rec.step("student", nil, nil),
		rec.step("link", nil, nil),
		rec.step("status", boom, nil),
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"do student", "do link", "do status", "undo link", "undo student"}, rec.calls)

	sagaErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "status", sagaErr.Step)
	assert.Equal(t, []string{"link", "student"}, sagaErr.Compensated)
	assert.False(t, sagaErr.Partial())
}

func TestRunKeepsUnwindingAfterCompensationFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	undoFailed := errors.New("delete failed")
	err := Run(context.Background(), "approve", []Step{
		rec.step("student", nil, nil),
		rec.step("link", nil, undoFailed),
		rec.step("status", boom, nil),
	}, nil)

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, undoFailed)
	assert.Equal(t, []string{"do student", "do link", "do status", "undo link", "undo student"}, rec.calls)

	sagaErr, _ := AsError(err)
	assert.True(t, sagaErr.Partial())
	assert.Equal(t, []string{"student"}, sagaErr.Compensated)
	assert.Contains(t, err.Error(), "compensation failed")
}

func TestRunIrreversibleStepIsStranded(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	credential := rec.step("credential", nil, nil)
	credential.Irreversible = true

	err := Run(context.Background(), "enroll", []Step{credential, rec.step("profile", boom, nil)}, nil)

	sagaErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"credential"}, sagaErr.Stranded)
	assert.True(t, sagaErr.Partial())
	assert.NotContains(t, rec.calls, "undo credential")
}
