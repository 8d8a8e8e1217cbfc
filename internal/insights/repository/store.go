package repository

import (
	"github.com/pkg/errors"

	"github.com/armadaproject/insights/internal/common/database"
	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

// PgStore runs aggregation queries against Postgres.
type PgStore struct {
	db database.Querier
}

func NewPgStore(db database.Querier) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) QueryBuckets(
	ctx *insightscontext.Context,
	query *Query,
	metrics []catalog.Metric,
	secondaryKey bool,
) ([]*model.AggregationResult, error) {
	rows, err := s.db.Query(ctx, query.Sql, query.Args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*model.AggregationResult{}
	for rows.Next() {
		result := &model.AggregationResult{}
		var key *string
		dest := []interface{}{&key}
		if secondaryKey {
			dest = append(dest, &result.AdditionalKey)
		}
		for _, m := range metrics {
			dest = append(dest, metricDestination(result, m))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.WithStack(err)
		}
		if key != nil {
			result.Key = *key
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return results, nil
}

func (s *PgStore) QueryCount(ctx *insightscontext.Context, query *Query) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, query.Sql, query.Args).Scan(&count); err != nil {
		return 0, errors.WithStack(err)
	}
	return count, nil
}

func metricDestination(result *model.AggregationResult, metric catalog.Metric) interface{} {
	switch metric {
	case catalog.CountMetric:
		return &result.Count
	case catalog.MinMetric:
		return &result.Min
	case catalog.MaxMetric:
		return &result.Max
	case catalog.MedianMetric:
		return &result.Median
	case catalog.P90Metric:
		return &result.P90
	case catalog.MeanMetric:
		return &result.Mean
	case catalog.SumMetric:
		return &result.Sum
	}
	var discard interface{}
	return &discard
}
