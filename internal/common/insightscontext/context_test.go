package insightscontext

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultLogger = logrus.WithField("foo", "bar")

func TestNew(t *testing.T) {
	ctx := New(context.Background(), defaultLogger)
	require.Equal(t, defaultLogger, ctx.Log)
	require.Equal(t, context.Background(), ctx.Context)
}

func TestBackground(t *testing.T) {
	ctx := Background()
	require.Equal(t, ctx.Context, context.Background())
	require.NotNil(t, ctx.Log)
}

func TestWithLogFields(t *testing.T) {
	ctx := WithLogFields(Background(), logrus.Fields{"fish": "chips", "salt": "pepper"})
	require.Equal(t, context.Background(), ctx.Context)
	require.Equal(t, logrus.Fields{"fish": "chips", "salt": "pepper"}, ctx.Log.Data)
}

func TestWithCancel(t *testing.T) {
	ctx, cancel := WithCancel(New(context.Background(), defaultLogger))
	cancel()
	require.Equal(t, defaultLogger, ctx.Log)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(Background(), 1*time.Millisecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestErrGroup(t *testing.T) {
	parent := New(context.Background(), defaultLogger)
	g, ctx := ErrGroup(parent)
	g.Go(func() error {
		return errors.New("boom")
	})
	err := g.Wait()
	assert.EqualError(t, err, "boom")
	assert.Equal(t, defaultLogger, ctx.Log)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
