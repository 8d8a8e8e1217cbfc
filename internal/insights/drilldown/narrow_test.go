package drilldown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/pointer"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

func describe(t *testing.T, family model.Family, dim model.Dimension) *catalog.DimensionDescriptor {
	cat, err := catalog.NewRegistry().ForFamily(family)
	require.NoError(t, err)
	d, err := cat.Describe(dim)
	require.NoError(t, err)
	return d
}

func TestNarrow(t *testing.T) {
	spec := model.FilterSpec{
		Family:      model.PullRequests,
		Across:      catalog.PrState,
		Stacks:      []model.Dimension{catalog.PrAssignee, catalog.PrLabel},
		Include:     map[model.Attribute][]string{"repository": {"r1"}},
		Sort:        []model.SortEntry{{Field: "count", Desc: true}},
		AcrossLimit: 10,
		Page:        2,
		PageSize:    5,
		ProfileIds:  []string{"p1"},
	}
	nested, err := narrow(spec, describe(t, model.PullRequests, catalog.PrState), &model.AggregationResult{Key: "open"})
	require.NoError(t, err)

	assert.Equal(t, catalog.PrAssignee, nested.Across)
	assert.Nil(t, nested.Stacks)
	assert.Equal(t, []model.SortEntry{{Field: "assignee"}}, nested.Sort)
	assert.Equal(t, model.UnlimitedAcross, nested.AcrossLimit)
	assert.Equal(t, 0, nested.Page)
	assert.Equal(t, 0, nested.PageSize)
	assert.Nil(t, nested.ProfileIds)
	assert.Equal(t, map[model.Attribute]model.Pin{"state": {Values: []string{"open"}}}, nested.Pins)
	assert.Equal(t, spec.Include, nested.Include)

	assert.Nil(t, spec.Pins)
	assert.Equal(t, catalog.PrState, spec.Across)
}

func TestNarrow_TimeBuckets(t *testing.T) {
	across := describe(t, model.PullRequests, catalog.PrMerged)
	t.Run("window", func(t *testing.T) {
		spec := model.FilterSpec{Across: catalog.PrMerged, Interval: model.Week, Stacks: []model.Dimension{catalog.PrState}}
		nested, err := narrow(spec, across, &model.AggregationResult{Key: "1704067200"})
		require.NoError(t, err)
		assert.Equal(t, &model.TimeWindow{Start: 1704067200, End: 1704067200 + 7*24*3600}, nested.Pins["pr_merged"].Window)
	})
	t.Run("weekday", func(t *testing.T) {
		spec := model.FilterSpec{Across: catalog.PrMerged, Interval: model.DayOfWeek, Stacks: []model.Dimension{catalog.PrState}}
		nested, err := narrow(spec, across, &model.AggregationResult{Key: "Monday"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Monday"}, nested.Pins["pr_merged_day_of_week"].Values)
	})
	t.Run("invalid key", func(t *testing.T) {
		spec := model.FilterSpec{Across: catalog.PrMerged, Interval: model.Week, Stacks: []model.Dimension{catalog.PrState}}
		_, err := narrow(spec, across, &model.AggregationResult{Key: "Monday"})
		assert.Error(t, err)
	})
}

func TestNarrow_QualifiedName(t *testing.T) {
	spec := model.FilterSpec{
		Across:         catalog.QualifiedJobName,
		Stacks:         []model.Dimension{catalog.JobStatus},
		QualifiedNames: []model.QualifiedName{{Job: "deploy"}},
	}
	bucket := &model.AggregationResult{Key: "build", AdditionalKey: pointer.String("jenkins")}
	nested, err := narrow(spec, describe(t, model.JobRuns, catalog.QualifiedJobName), bucket)
	require.NoError(t, err)

	assert.Equal(t, []model.QualifiedName{{Instance: pointer.String("jenkins"), Job: "build"}}, nested.QualifiedNames)
	assert.Nil(t, nested.Pins)
}

func TestNarrow_NotDrillable(t *testing.T) {
	across := &catalog.DimensionDescriptor{Dimension: "x"}
	_, err := narrow(model.FilterSpec{Stacks: []model.Dimension{"y"}}, across, &model.AggregationResult{Key: "k"})
	assert.True(t, insightserrors.IsInvalidRequest(err))
}

func TestTopBuckets(t *testing.T) {
	buckets := []*model.AggregationResult{
		{Key: "a", Count: 2, Median: floatPtr(-50)},
		{Key: "b", Count: 9, Median: nil},
		{Key: "c", Count: 4, Median: floatPtr(10)},
		{Key: "d", Count: 9, Median: floatPtr(1)},
	}
	assert.Equal(t, []int{0, 1, 2, 3}, topBuckets(buckets, catalog.CountMetric, 4))
	assert.Equal(t, []int{0, 1, 2, 3}, topBuckets(buckets, catalog.CountMetric, 10))
	assert.Equal(t, []int{1, 3}, topBuckets(buckets, catalog.CountMetric, 2))
	assert.Equal(t, []int{1, 2, 3}, topBuckets(buckets, catalog.CountMetric, 3))
	assert.Equal(t, []int{0, 2}, topBuckets(buckets, catalog.MedianMetric, 2))
}

func floatPtr(f float64) *float64 {
	return &f
}
