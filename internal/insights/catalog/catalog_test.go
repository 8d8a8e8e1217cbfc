package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/model"
)

func TestDescribe(t *testing.T) {
	registry := NewRegistry()

	t.Run("categorical dimension", func(t *testing.T) {
		c, err := registry.ForFamily(model.PullRequests)
		require.NoError(t, err)
		d, err := c.Describe(PrRepository)
		require.NoError(t, err)
		assert.Equal(t, "pr.repo_id", d.KeyExpr)
		assert.Equal(t, "repository", d.KeyAlias)
		assert.Equal(t, SortByPrimaryMetricDesc, d.DefaultSort)
		assert.False(t, d.IsTimeBucketed())
	})
	t.Run("secondary key", func(t *testing.T) {
		c, err := registry.ForFamily(model.JobRuns)
		require.NoError(t, err)
		d, err := c.Describe(QualifiedJobName)
		require.NoError(t, err)
		assert.True(t, d.NeedsSecondaryKey)
		assert.Equal(t, "instances.name", d.SecondaryKeyExpr)
		assert.Equal(t, "qualified_job_name_secondary", d.SecondaryKeyAlias)
		assert.True(t, d.PinQualifiedName)
	})
	t.Run("date trend dimension", func(t *testing.T) {
		c, err := registry.ForFamily(model.PullRequests)
		require.NoError(t, err)
		d, err := c.Describe(PrMerged)
		require.NoError(t, err)
		assert.True(t, d.IsTimeBucketed())
		assert.Equal(t, "pr.pr_merged_at", d.KeyExpr)
		assert.Equal(t, SortByKeyDesc, d.DefaultSort)
		assert.Contains(t, d.Conditions, "pr.pr_merged_at IS NOT NULL")
	})
	t.Run("unsupported dimension", func(t *testing.T) {
		c, err := registry.ForFamily(model.Commits)
		require.NoError(t, err)
		_, err = c.Describe(PrLabel)
		require.Error(t, err)
		assert.True(t, insightserrors.IsInvalidRequest(err))
		var e *insightserrors.ErrUnsupportedDimension
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "label", e.Dimension)
	})
	t.Run("unknown family", func(t *testing.T) {
		_, err := registry.ForFamily("issues")
		assert.True(t, insightserrors.IsInvalidRequest(err))
	})
}

func TestCalculations(t *testing.T) {
	c := NewPullRequestsCatalog()

	count, err := c.Calculation(model.CountCalculation)
	require.NoError(t, err)
	assert.Equal(t, []Metric{CountMetric}, count.Metrics)
	assert.Equal(t, CountMetric, count.PrimaryMetric)

	mergeTime, err := c.Calculation(model.MergeTimeCalculation)
	require.NoError(t, err)
	assert.Equal(t, MedianMetric, mergeTime.PrimaryMetric)
	assert.Contains(t, mergeTime.Metrics, P90Metric)
	assert.Len(t, mergeTime.Conditions, 1)

	_, err = c.Calculation(model.DurationCalculation)
	assert.True(t, insightserrors.IsInvalidRequest(err))
}

func TestAttributes(t *testing.T) {
	c := NewPullRequestsCatalog()

	weekday, err := c.Attribute(WeekdayAttribute("pr_created"))
	require.NoError(t, err)
	assert.Equal(t, Weekday, weekday.Kind)
	assert.Equal(t, "pr.pr_created_at", weekday.Column)

	_, err = c.Attribute("nonexistent")
	assert.True(t, insightserrors.IsInvalidRequest(err))

	reviewers := c.AttributesOfFamily(model.ReviewerFamily)
	require.Len(t, reviewers, 1)
	assert.Equal(t, reviewsJoin, reviewers[0].Join)

	assert.Equal(t,
		[]model.AttributeFamily{model.ApproverFamily, model.AssigneeFamily, model.CreatorFamily, model.ReviewerFamily},
		c.OrgUnitFamilies())
}

func TestJoins(t *testing.T) {
	c := NewJobRunsCatalog()
	instances, ok := c.Join(instancesJoin)
	require.True(t, ok)
	assert.Equal(t, []JoinId{jobsJoin}, instances.DependsOn)

	_, ok = c.Join("nonexistent")
	assert.False(t, ok)
}

func TestQualifiedTable(t *testing.T) {
	assert.Equal(t, "scm_users", QualifiedTable("", "scm_users"))
	assert.Equal(t, `"acme".scm_users`, QualifiedTable("acme", "scm_users"))
	assert.Equal(t, `"a""b".scm_users`, QualifiedTable(`a"b`, "scm_users"))
}
