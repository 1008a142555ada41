package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htquang/jobcore/internal/job"
)

type nopHandler struct{}

func (nopHandler) Process(context.Context, *job.Job) Result               { return Success(nil) }
func (nopHandler) HandleTerminalFailure(context.Context, *job.Job, error) {}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("recognition", nopHandler{}))

	h, ok := r.Get("recognition")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Get("synthesis")
	assert.False(t, ok)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", nopHandler{}))
	assert.Error(t, r.Register("recognition", nil))

	require.NoError(t, r.Register("recognition", nopHandler{}))
	assert.Error(t, r.Register("recognition", nopHandler{}))
}
