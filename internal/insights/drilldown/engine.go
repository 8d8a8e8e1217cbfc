// Package drilldown answers aggregation requests. A flat request is compiled and run as a single grouped query. A
// stacked request first runs the flat query, then computes the breakdown of every returned bucket across the stack
// dimension with one nested query per bucket, run on a shared worker pool.
package drilldown

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/common/util"
	"github.com/armadaproject/insights/internal/common/workerpool"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/metrics"
	"github.com/armadaproject/insights/internal/insights/model"
	"github.com/armadaproject/insights/internal/insights/orgunit"
	"github.com/armadaproject/insights/internal/insights/profiles"
	"github.com/armadaproject/insights/internal/insights/repository"
)

const DefaultMaxStackedBuckets = 250

type Engine struct {
	catalogs          catalog.Registry
	builder           *repository.QueryBuilder
	executor          *repository.Executor
	pool              *workerpool.Pool
	profiles          profiles.Source
	orgUnits          orgunit.Resolver
	maxStackedBuckets int
}

// NewEngine returns an engine running nested queries on pool. profiles and orgUnits may be nil, in which case profile
// ids are ignored and org unit filters are rejected.
func NewEngine(
	catalogs catalog.Registry,
	builder *repository.QueryBuilder,
	executor *repository.Executor,
	pool *workerpool.Pool,
	profiles profiles.Source,
	orgUnits orgunit.Resolver,
	maxStackedBuckets int,
) *Engine {
	if maxStackedBuckets <= 0 {
		maxStackedBuckets = DefaultMaxStackedBuckets
	}
	return &Engine{
		catalogs:          catalogs,
		builder:           builder,
		executor:          executor,
		pool:              pool,
		profiles:          profiles,
		orgUnits:          orgUnits,
		maxStackedBuckets: maxStackedBuckets,
	}
}

// Aggregate computes the buckets of spec, and their stacks if spec has any.
func (e *Engine) Aggregate(ctx *insightscontext.Context, spec model.FilterSpec) (*model.AggregationResponse, error) {
	ctx = insightscontext.WithLogFields(ctx, logrus.Fields{
		"requestId": util.NewRequestId(),
		"family":    spec.Family,
		"across":    spec.Across,
	})
	spec, err := e.prepare(ctx, spec)
	if err != nil {
		return nil, err
	}
	plan, err := e.builder.Build(ctx.Log, spec)
	if err != nil {
		return nil, err
	}
	results, total, err := e.executor.Execute(ctx, plan, spec.Page, spec.PageSize)
	if err != nil {
		return nil, err
	}
	response := &model.AggregationResponse{
		Results: results,
		Total:   total,
	}
	if len(spec.Stacks) == 0 || len(results) == 0 {
		return response, nil
	}
	truncated, err := e.stack(ctx, spec, results)
	if err != nil {
		return nil, err
	}
	response.StacksTruncated = truncated
	return response, nil
}

// Explain returns the query Aggregate would run first for spec, without running it.
func (e *Engine) Explain(ctx *insightscontext.Context, spec model.FilterSpec) (*repository.Query, error) {
	spec, err := e.prepare(ctx, spec)
	if err != nil {
		return nil, err
	}
	plan, err := e.builder.Build(ctx.Log, spec)
	if err != nil {
		return nil, err
	}
	offset, take, _, err := plan.Page(spec.Page, spec.PageSize)
	if err != nil {
		return nil, err
	}
	return plan.Paginated(uint(offset), uint(take))
}

// prepare resolves the profile overrides and org unit predicates referenced by spec.
func (e *Engine) prepare(ctx *insightscontext.Context, spec model.FilterSpec) (model.FilterSpec, error) {
	cat, err := e.catalogs.ForFamily(spec.Family)
	if err != nil {
		return model.FilterSpec{}, err
	}
	if len(spec.ProfileIds) > 0 && len(spec.ProfileOverrides) == 0 && e.profiles != nil {
		overrides, err := e.profiles.Resolve(ctx, spec.Company, spec.ProfileIds)
		if err != nil {
			ctx.Log.WithError(err).Warn("failed to resolve profile overrides; continuing without them")
			metrics.ProfileResolutionFailuresTotal.Inc()
		} else {
			spec = spec.WithProfileOverrides(overrides)
		}
	}
	if spec.OrgUnit != nil && spec.OrgUnit.Predicates == nil {
		if e.orgUnits == nil {
			return model.FilterSpec{}, errors.WithStack(&insightserrors.ErrInvalidRequest{
				Field:   "org_unit",
				Value:   spec.OrgUnit.Ref,
				Message: "org unit filters are not supported",
			})
		}
		predicates, err := orgunit.Resolve(ctx, e.orgUnits, cat, spec.Company, spec.OrgUnit.Ref)
		if err != nil {
			return model.FilterSpec{}, err
		}
		spec = spec.WithOrgUnitPredicates(predicates)
	}
	return spec, nil
}

// stack fills in the Stacks of results. It returns true if only the largest buckets were drilled into.
func (e *Engine) stack(ctx *insightscontext.Context, spec model.FilterSpec, results []*model.AggregationResult) (bool, error) {
	cat, err := e.catalogs.ForFamily(spec.Family)
	if err != nil {
		return false, err
	}
	across, err := cat.Describe(spec.Across)
	if err != nil {
		return false, err
	}
	calc, err := cat.Calculation(spec.CalculationOrDefault())
	if err != nil {
		return false, err
	}
	primary := calc.PrimaryMetric
	if spec.ValuesOnly {
		primary = catalog.CountMetric
	}

	selected := topBuckets(results, primary, e.maxStackedBuckets)
	truncated := len(selected) < len(results)
	if truncated {
		ctx.Log.Warnf(
			"only computing stacks for the %d largest of %d %s buckets by %s",
			len(selected), len(results), spec.Across, primary)
		metrics.StacksTruncatedTotal.Inc()
	}
	metrics.StackFanOut.Observe(float64(len(selected)))

	tasks := make([]workerpool.Task, 0, len(selected))
	for _, i := range selected {
		bucket := results[i]
		nested, err := narrow(spec, across, bucket)
		if err != nil {
			return false, err
		}
		tasks = append(tasks, func(ctx *insightscontext.Context) error {
			stacks, err := e.aggregateNested(ctx, nested)
			if err != nil {
				metrics.StackWorkerFailuresTotal.Inc()
				return errors.WithMessagef(err, "%s bucket %q", spec.Across, bucket.Key)
			}
			bucket.Stacks = stacks
			return nil
		})
	}

	if err := e.pool.Run(ctx, tasks); err != nil {
		var failures *multierror.Error
		if errors.As(err, &failures) {
			ctx.Log.WithError(failures).Errorf("%d stack computations failed", len(failures.Errors))
			return false, errors.WithStack(&insightserrors.ErrStackWorker{
				Dimension: string(spec.Stacks[0]),
				Failures:  failures,
			})
		}
		return false, err
	}
	return truncated, nil
}

func (e *Engine) aggregateNested(ctx *insightscontext.Context, spec model.FilterSpec) ([]*model.AggregationResult, error) {
	plan, err := e.builder.Build(ctx.Log, spec)
	if err != nil {
		return nil, err
	}
	results, _, err := e.executor.Execute(ctx, plan, 0, 0)
	return results, err
}
