package insights

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/insights/configuration"
	"github.com/armadaproject/insights/internal/insights/model"
)

func testConfig() configuration.InsightsConfig {
	return configuration.InsightsConfig{
		DefaultAcrossLimit: 12,
		Stacks:             configuration.StacksConfig{Parallelism: 2, MaxBuckets: 10},
	}
}

func TestOfflineExplain(t *testing.T) {
	app := NewOffline(testConfig())
	defer func() { assert.NoError(t, app.Close(insightscontext.Background())) }()

	query, err := app.Explain(insightscontext.Background(), model.FilterSpec{
		Family: model.JobRuns,
		Across: "job_status",
	})
	require.NoError(t, err)
	assert.Contains(t, query.Sql, `FROM "cicd_job_runs" AS "r"`)
	assert.True(t, strings.HasSuffix(query.Sql, "LIMIT 12"), query.Sql)

	query, err = app.Explain(insightscontext.Background(), model.FilterSpec{
		Family:      model.JobRuns,
		Across:      "job_status",
		AcrossLimit: 3,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(query.Sql, "LIMIT 3"), query.Sql)
}

func TestServeNeedsPort(t *testing.T) {
	app := NewOffline(testConfig())
	defer func() { assert.NoError(t, app.Close(insightscontext.Background())) }()

	ctx, cancel := insightscontext.WithCancel(insightscontext.Background())
	defer cancel()
	err := app.Serve(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http port must be set")
}

func TestOfflineAggregateFails(t *testing.T) {
	app := NewOffline(testConfig())
	_, err := app.Aggregate(insightscontext.Background(), model.FilterSpec{Family: model.JobRuns, Across: "job_status"})
	assert.Error(t, err)
}
