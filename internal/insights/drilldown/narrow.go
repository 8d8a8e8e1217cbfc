package drilldown

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

// narrow derives the spec computing the stacks of one top level bucket: the parent filter restricted to the bucket,
// grouped across the first stack dimension with no bound on the number of buckets.
func narrow(spec model.FilterSpec, across *catalog.DimensionDescriptor, bucket *model.AggregationResult) (model.FilterSpec, error) {
	nested, err := pinBucket(spec, across, bucket)
	if err != nil {
		return model.FilterSpec{}, err
	}
	stack := spec.Stacks[0]
	nested.Across = stack
	nested.Stacks = nil
	nested.Sort = []model.SortEntry{{Field: string(stack), Desc: false}}
	nested.AcrossLimit = model.UnlimitedAcross
	nested.Page = 0
	nested.PageSize = 0
	nested.ProfileIds = nil
	return nested, nil
}

func pinBucket(spec model.FilterSpec, across *catalog.DimensionDescriptor, bucket *model.AggregationResult) (model.FilterSpec, error) {
	switch {
	case across.PinQualifiedName:
		nested := spec.Clone()
		name := model.QualifiedName{Job: bucket.Key}
		if bucket.AdditionalKey != nil {
			instance := *bucket.AdditionalKey
			name.Instance = &instance
		}
		nested.QualifiedNames = []model.QualifiedName{name}
		return nested, nil
	case across.IsTimeBucketed():
		if spec.Interval == model.DayOfWeek {
			return spec.WithPin(catalog.WeekdayAttribute(across.TimeAttribute), model.Pin{Values: []string{bucket.Key}}), nil
		}
		window, err := catalog.BucketWindow(bucket.Key, spec.Interval)
		if err != nil {
			return model.FilterSpec{}, err
		}
		return spec.WithPin(across.TimeAttribute, model.Pin{Window: &window}), nil
	case across.PinAttribute != "":
		return spec.WithPin(across.PinAttribute, model.Pin{Values: []string{bucket.Key}}), nil
	}
	return model.FilterSpec{}, errors.WithStack(&insightserrors.ErrInvalidRequest{
		Field:   "stacks",
		Value:   across.Dimension,
		Message: "buckets of this dimension cannot be drilled into",
	})
}

// topBuckets returns the indices of the n buckets with the largest primary metric, in their original order.
func topBuckets(buckets []*model.AggregationResult, metric catalog.Metric, n int) []int {
	indices := make([]int, len(buckets))
	for i := range indices {
		indices[i] = i
	}
	if n >= len(buckets) {
		return indices
	}
	byMetric := slices.Clone(indices)
	slices.SortStableFunc(byMetric, func(a, b int) bool {
		return metricValue(buckets[a], metric) > metricValue(buckets[b], metric)
	})
	keep := byMetric[:n]
	slices.Sort(keep)
	return keep
}

// metricValue reads metric from a bucket. Missing values sort last.
func metricValue(bucket *model.AggregationResult, metric catalog.Metric) float64 {
	var v *float64
	switch metric {
	case catalog.CountMetric:
		return float64(bucket.Count)
	case catalog.MinMetric:
		v = bucket.Min
	case catalog.MaxMetric:
		v = bucket.Max
	case catalog.MedianMetric:
		v = bucket.Median
	case catalog.P90Metric:
		v = bucket.P90
	case catalog.MeanMetric:
		v = bucket.Mean
	case catalog.SumMetric:
		v = bucket.Sum
	}
	if v == nil {
		return math.Inf(-1)
	}
	return math.Abs(*v)
}
