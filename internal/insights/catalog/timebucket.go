package catalog

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/model"
)

// TimeBucket holds the expressions grouping a timestamp column by a calendar interval. Keys of calendar buckets are
// the epoch seconds of the start of the bucket; labels are human readable.
type TimeBucket struct {
	Interval    model.Interval
	KeyExpr     string
	LabelExpr   string
	GroupByExpr []string
	OrderByExpr string
}

// Bucket groups column by interval. An empty interval means day.
func Bucket(column string, interval model.Interval) (TimeBucket, error) {
	interval = interval.OrDefault()
	if interval == model.DayOfWeek {
		weekday := WeekdayExpr(column)
		return TimeBucket{
			Interval:    interval,
			KeyExpr:     weekday,
			LabelExpr:   weekday,
			GroupByExpr: []string{weekday},
			OrderByExpr: weekday,
		}, nil
	}

	truncated, err := truncate(column, interval)
	if err != nil {
		return TimeBucket{}, err
	}
	var label string
	switch interval {
	case model.Year:
		label = fmt.Sprintf("to_char(%s, 'YYYY')", truncated)
	case model.Quarter:
		label = fmt.Sprintf("to_char(%s, '\"Q\"Q-YYYY')", truncated)
	case model.Biweekly:
		label = fmt.Sprintf("CONCAT('biweekly-', EXTRACT(WEEK FROM %s)::int / 2 + 1, '-', EXTRACT(ISOYEAR FROM %s)::int)", truncated, truncated)
	case model.Week:
		label = fmt.Sprintf("to_char(%s, 'FMIW-IYYY')", truncated)
	case model.Month:
		label = fmt.Sprintf("to_char(%s, 'FMMM-YYYY')", truncated)
	default:
		label = fmt.Sprintf("to_char(%s, 'FMDD-FMMM-YYYY')", truncated)
	}
	return TimeBucket{
		Interval:    interval,
		KeyExpr:     fmt.Sprintf("CAST(EXTRACT(EPOCH FROM %s)::bigint AS TEXT)", truncated),
		LabelExpr:   label,
		GroupByExpr: []string{truncated},
		OrderByExpr: truncated,
	}, nil
}

// WeekdayExpr returns the trimmed English weekday name of a timestamp, e.g., "Monday".
func WeekdayExpr(column string) string {
	return fmt.Sprintf("RTRIM(TO_CHAR(%s, 'Day'))", column)
}

func truncate(column string, interval model.Interval) (string, error) {
	switch interval {
	case model.Year, model.Quarter, model.Week, model.Month, model.Day:
		return fmt.Sprintf("date_trunc('%s', %s)", interval, column), nil
	case model.Biweekly:
		// Biweekly buckets start on odd ISO weeks.
		return fmt.Sprintf(
			"(date_trunc('week', %s) - ((EXTRACT(WEEK FROM %s)::int + 1) %% 2) * INTERVAL '1 week')",
			column, column), nil
	}
	return "", errors.WithStack(&insightserrors.ErrInvalidRequest{
		Field:   "interval",
		Value:   interval,
		Message: "unknown interval",
	})
}

// BucketWindow returns the [start, end) range of the calendar bucket with the given key.
func BucketWindow(key string, interval model.Interval) (model.TimeWindow, error) {
	start, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return model.TimeWindow{}, errors.Wrapf(err, "bucket key %q is not an epoch", key)
	}
	t := time.Unix(start, 0).UTC()
	var end time.Time
	switch interval.OrDefault() {
	case model.Year:
		end = t.AddDate(1, 0, 0)
	case model.Quarter:
		end = t.AddDate(0, 3, 0)
	case model.Month:
		end = t.AddDate(0, 1, 0)
	case model.Biweekly:
		// Week 53 and the following week 1 are both odd, so week 53 is a bucket on its own.
		if _, week := t.ISOWeek(); week == 53 {
			end = t.AddDate(0, 0, 7)
		} else {
			end = t.AddDate(0, 0, 14)
		}
	case model.Week:
		end = t.AddDate(0, 0, 7)
	case model.Day:
		end = t.AddDate(0, 0, 1)
	default:
		return model.TimeWindow{}, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "interval",
			Value:   interval,
			Message: "interval has no time window",
		})
	}
	return model.TimeWindow{Start: start, End: end.Unix()}, nil
}
