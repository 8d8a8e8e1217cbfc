package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/insights/model"
)

func TestReadFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
family: pull_requests
across: state
stacks: [assignee]
include:
  repository: [insights]
ranges:
  pr_created:
    $gt: 1704067200
page_size: 10
`), 0o600))

	cmd := aggregateCmd()
	require.NoError(t, cmd.Flags().Set(filterFlag, path))
	spec, err := readFilter(cmd)
	require.NoError(t, err)

	assert.Equal(t, model.PullRequests, spec.Family)
	assert.Equal(t, []model.Dimension{"assignee"}, spec.Stacks)
	assert.Equal(t, []string{"insights"}, spec.Include["repository"])
	assert.Equal(t, int64(1704067200), *spec.Ranges["pr_created"].Gt)
	assert.Equal(t, 10, spec.PageSize)
}

func TestReadFilter_Errors(t *testing.T) {
	cmd := explainCmd()
	_, err := readFilter(cmd)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("family: pull_requests\nacross_dimension: state\n"), 0o600))
	require.NoError(t, cmd.Flags().Set(filterFlag, path))
	_, err = readFilter(cmd)
	assert.Error(t, err)
}

func TestRootCmd(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd().Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["aggregate"])
	assert.True(t, names["explain"])
	assert.True(t, names["serve"])
}

type recordingCloser struct {
	ctxErr      error
	hasDeadline bool
	err         error
}

func (c *recordingCloser) Close(ctx *insightscontext.Context) error {
	c.ctxErr = ctx.Err()
	_, c.hasDeadline = ctx.Deadline()
	return c.err
}

func TestCloseApp_UsesFreshContext(t *testing.T) {
	// The command context is cancelled once a signal arrives; closing must not inherit that.
	signalled, cancel := insightscontext.WithCancel(insightscontext.Background())
	cancel()
	require.Error(t, signalled.Err())

	app := &recordingCloser{}
	closeApp(app, time.Minute)
	assert.NoError(t, app.ctxErr)
	assert.True(t, app.hasDeadline)

	failing := &recordingCloser{err: errors.New("tasks still running")}
	closeApp(failing, time.Minute)
	assert.NoError(t, failing.ctxErr)
}
