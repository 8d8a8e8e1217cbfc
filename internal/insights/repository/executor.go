package repository

import (
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/metrics"
	"github.com/armadaproject/insights/internal/insights/model"
)

const (
	aggregateQueryKind = "aggregate"
	countQueryKind     = "count"
)

// Store runs rendered queries.
type Store interface {
	QueryBuckets(ctx *insightscontext.Context, query *Query, metrics []catalog.Metric, secondaryKey bool) ([]*model.AggregationResult, error)
	QueryCount(ctx *insightscontext.Context, query *Query) (int, error)
}

type Executor struct {
	store              Store
	slowQueryThreshold time.Duration
}

func NewExecutor(store Store, slowQueryThreshold time.Duration) *Executor {
	return &Executor{
		store:              store,
		slowQueryThreshold: slowQueryThreshold,
	}
}

// Execute runs one page of plan and works out the total number of buckets. The total is only counted by a second
// query when the page came back full; otherwise it follows from the page.
func (e *Executor) Execute(ctx *insightscontext.Context, plan *QueryPlan, page, pageSize int) ([]*model.AggregationResult, int, error) {
	offset, take, ok, err := plan.Page(page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return []*model.AggregationResult{}, 0, nil
	}

	query, err := plan.Paginated(uint(offset), uint(take))
	if err != nil {
		return nil, 0, err
	}
	results, err := e.queryBuckets(ctx, query, plan)
	if err != nil {
		return nil, 0, err
	}

	if len(results) == 0 {
		return results, 0, nil
	}
	if pageSize == 0 || len(results) < pageSize {
		return results, offset + len(results), nil
	}

	countQuery, err := plan.Count()
	if err != nil {
		return nil, 0, err
	}
	total, err := e.queryCount(ctx, countQuery)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (e *Executor) queryBuckets(ctx *insightscontext.Context, query *Query, plan *QueryPlan) ([]*model.AggregationResult, error) {
	logQueryDebug(ctx.Log, query, aggregateQueryKind)
	start := time.Now()
	results, err := e.store.QueryBuckets(ctx, query, plan.Metrics(), plan.HasSecondaryKey())
	duration := time.Since(start)
	metrics.RecordQuery(aggregateQueryKind, duration, err)
	if err != nil {
		logQueryError(ctx.Log, query, aggregateQueryKind, duration)
		return nil, errors.WithStack(&insightserrors.ErrStoreExecution{
			Description: aggregateQueryKind,
			Sql:         query.Sql,
			Err:         err,
		})
	}
	logSlowQuery(ctx.Log, query, aggregateQueryKind, duration, e.slowQueryThreshold)
	return results, nil
}

func (e *Executor) queryCount(ctx *insightscontext.Context, query *Query) (int, error) {
	logQueryDebug(ctx.Log, query, countQueryKind)
	metrics.CountQueriesTotal.Inc()
	start := time.Now()
	total, err := e.store.QueryCount(ctx, query)
	duration := time.Since(start)
	metrics.RecordQuery(countQueryKind, duration, err)
	if err != nil {
		logQueryError(ctx.Log, query, countQueryKind, duration)
		return 0, errors.WithStack(&insightserrors.ErrStoreExecution{
			Description: countQueryKind,
			Sql:         query.Sql,
			Err:         err,
		})
	}
	logSlowQuery(ctx.Log, query, countQueryKind, duration, e.slowQueryThreshold)
	return total, nil
}

// ValidateSort rejects a sort on anything other than the across dimension or a metric the query computes.
func ValidateSort(spec model.FilterSpec, metrics []catalog.Metric) error {
	if len(spec.Sort) == 0 {
		return nil
	}
	field := spec.Sort[0].Field
	if field == string(spec.Across) {
		return nil
	}
	for _, m := range metrics {
		if field == string(m) {
			return nil
		}
	}
	return errors.WithStack(&insightserrors.ErrInvalidRequest{
		Field:   "sort",
		Value:   field,
		Message: "Invalid sort field",
	})
}
