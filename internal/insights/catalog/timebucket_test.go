package catalog

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/model"
)

func TestBucket(t *testing.T) {
	t.Run("month", func(t *testing.T) {
		b, err := Bucket("base.pr_created", model.Month)
		require.NoError(t, err)
		assert.Equal(t, "CAST(EXTRACT(EPOCH FROM date_trunc('month', base.pr_created))::bigint AS TEXT)", b.KeyExpr)
		assert.Equal(t, "to_char(date_trunc('month', base.pr_created), 'FMMM-YYYY')", b.LabelExpr)
		assert.Equal(t, []string{"date_trunc('month', base.pr_created)"}, b.GroupByExpr)
		assert.Equal(t, "date_trunc('month', base.pr_created)", b.OrderByExpr)
	})
	t.Run("defaults to day", func(t *testing.T) {
		b, err := Bucket("base.t", "")
		require.NoError(t, err)
		assert.Equal(t, model.Day, b.Interval)
		assert.Equal(t, "date_trunc('day', base.t)", b.OrderByExpr)
	})
	t.Run("biweekly", func(t *testing.T) {
		b, err := Bucket("base.t", model.Biweekly)
		require.NoError(t, err)
		assert.Contains(t, b.OrderByExpr, "% 2")
		assert.Contains(t, b.LabelExpr, "'biweekly-'")
	})
	t.Run("day of week", func(t *testing.T) {
		b, err := Bucket("base.t", model.DayOfWeek)
		require.NoError(t, err)
		assert.Equal(t, "RTRIM(TO_CHAR(base.t, 'Day'))", b.KeyExpr)
		assert.Equal(t, b.KeyExpr, b.LabelExpr)
	})
	t.Run("invalid interval", func(t *testing.T) {
		_, err := Bucket("base.t", "fortnight")
		assert.True(t, insightserrors.IsInvalidRequest(err))
	})
}

func TestBucketWindow(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	key := "1704067200"
	require.Equal(t, start.Unix(), int64(1704067200))

	tests := map[model.Interval]time.Time{
		model.Day:      start.AddDate(0, 0, 1),
		model.Week:     start.AddDate(0, 0, 7),
		model.Biweekly: start.AddDate(0, 0, 14),
		model.Month:    time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		model.Quarter:  time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		model.Year:     time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	for interval, end := range tests {
		t.Run(string(interval), func(t *testing.T) {
			w, err := BucketWindow(key, interval)
			require.NoError(t, err)
			assert.Equal(t, start.Unix(), w.Start)
			assert.Equal(t, end.Unix(), w.End)
		})
	}

	_, err := BucketWindow("Monday", model.Day)
	assert.Error(t, err)
	_, err = BucketWindow(key, model.DayOfWeek)
	assert.True(t, insightserrors.IsInvalidRequest(err))
}

func TestBucketWindow_BiweeklyIsoWeek53(t *testing.T) {
	tests := map[string]struct {
		start time.Time
		end   time.Time
	}{
		"week 53 ends at the next year's week 1": {
			start: time.Date(2020, time.December, 28, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2021, time.January, 4, 0, 0, 0, 0, time.UTC),
		},
		"week 53 of 2026": {
			start: time.Date(2026, time.December, 28, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2027, time.January, 4, 0, 0, 0, 0, time.UTC),
		},
		"week 51 spans two weeks": {
			start: time.Date(2020, time.December, 14, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2020, time.December, 28, 0, 0, 0, 0, time.UTC),
		},
		"week 1 spans two weeks": {
			start: time.Date(2021, time.January, 4, 0, 0, 0, 0, time.UTC),
			end:   time.Date(2021, time.January, 18, 0, 0, 0, 0, time.UTC),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			w, err := BucketWindow(strconv.FormatInt(tc.start.Unix(), 10), model.Biweekly)
			require.NoError(t, err)
			assert.Equal(t, tc.start.Unix(), w.Start)
			assert.Equal(t, tc.end.Unix(), w.End)
		})
	}
}
