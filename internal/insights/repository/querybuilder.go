package repository

import (
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

// QueryBuilder compiles a FilterSpec into a QueryPlan. It never touches the store.
//
// The compiled query has two levels. Each union branch selects one row per record and bucket, with the record id,
// the bucket key(s) and the calculation's value. The outer query groups the union by bucket and computes the metrics:
//
//	SELECT key, additional_key, metrics...
//	FROM (branch_1 UNION branch_2 ...) AS base
//	GROUP BY ... ORDER BY ... LIMIT across_limit
type QueryBuilder struct {
	catalogs catalog.Registry
	clock    clock.Clock
}

func NewQueryBuilder(catalogs catalog.Registry, clock clock.Clock) *QueryBuilder {
	return &QueryBuilder{
		catalogs: catalogs,
		clock:    clock,
	}
}

// Build validates spec and compiles it. Invalid requests are rejected with an ErrInvalidRequest.
func (qb *QueryBuilder) Build(log *logrus.Entry, spec model.FilterSpec) (*QueryPlan, error) {
	if spec.Across == "" {
		return nil, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "across",
			Value:   "",
			Message: "across dimension is required",
		})
	}
	cat, err := qb.catalogs.ForFamily(spec.Family)
	if err != nil {
		return nil, err
	}
	across, err := cat.Describe(spec.Across)
	if err != nil {
		return nil, err
	}
	for _, stack := range spec.Stacks {
		if _, err := cat.Describe(stack); err != nil {
			return nil, err
		}
	}
	calc, err := cat.Calculation(spec.CalculationOrDefault())
	if err != nil {
		return nil, err
	}
	if spec.ValuesOnly {
		calc, err = cat.Calculation(model.CountCalculation)
		if err != nil {
			return nil, err
		}
	}
	metrics := metricsFor(calc, spec.ValuesOnly)
	if err := ValidateSort(spec, metrics); err != nil {
		return nil, err
	}

	var bucket *catalog.TimeBucket
	if across.IsTimeBucketed() {
		if spec.Interval != "" && !spec.Interval.IsValid() {
			return nil, errors.WithStack(&insightserrors.ErrInvalidRequest{
				Field:   "interval",
				Value:   spec.Interval,
				Message: "unknown interval",
			})
		}
		b, err := catalog.Bucket(fmt.Sprintf("%s.%s", baseAlias, across.KeyAlias), spec.Interval)
		if err != nil {
			return nil, err
		}
		bucket = &b
		spec = qb.withDefaultLookback(spec, across)
	}

	plan := NewQueryPlan().WithMetrics(metrics, across.SecondaryKeyExpr != "" || bucket != nil)
	for _, branch := range Expand(spec) {
		branchPlan, params, err := qb.buildBranch(log, cat, calc, across, branch)
		if err != nil {
			return nil, err
		}
		plan, err = plan.WithBranch(branchPlan, params)
		if err != nil {
			return nil, err
		}
	}

	plan, err = qb.withBuckets(plan, across, bucket, metrics)
	if err != nil {
		return nil, err
	}
	plan = qb.withOrder(plan, spec, across, bucket, calc)
	if limit, ok := spec.EffectiveAcrossLimit(); ok {
		plan = plan.WithLimit(uint(limit))
	}
	return &plan, nil
}

func (qb *QueryBuilder) buildBranch(
	log *logrus.Entry,
	cat *catalog.Catalog,
	calc *catalog.CalculationDescriptor,
	across *catalog.DimensionDescriptor,
	branch Branch,
) (BranchPlan, map[string]interface{}, error) {
	where, err := CompileWhere(log, cat, branch.Spec, branch.Suffix)
	if err != nil {
		return BranchPlan{}, nil, err
	}
	selects := []exp.Expression{
		goqu.L(cat.IdExpr()).As(idAlias),
		goqu.L(across.KeyExpr).As(across.KeyAlias),
	}
	if across.SecondaryKeyExpr != "" {
		selects = append(selects, goqu.L(across.SecondaryKeyExpr).As(across.SecondaryKeyAlias))
	}
	if calc.ValueExpr != "" {
		selects = append(selects, goqu.L(calc.ValueExpr).As(valueAlias))
	}

	conditions := append([]string{}, where.Conditions...)
	conditions = append(conditions, across.Conditions...)
	conditions = append(conditions, calc.Conditions...)

	return BranchPlan{
		Company:    branch.Spec.Company,
		From:       cat.BaseTable(branch.Spec.Company),
		Joins:      PlanJoins(cat, calc, across, branch.Spec),
		Selects:    selects,
		Conditions: conditions,
	}, where.Params, nil
}

// withBuckets adds the outer select list and grouping.
func (qb *QueryBuilder) withBuckets(
	plan QueryPlan,
	across *catalog.DimensionDescriptor,
	bucket *catalog.TimeBucket,
	metrics []catalog.Metric,
) (QueryPlan, error) {
	if bucket != nil {
		plan = plan.
			WithSelect(
				goqu.L(bucket.KeyExpr).As(keyAlias),
				goqu.L(bucket.LabelExpr).As(secondaryKeyAlias),
			).
			WithGroupBy(bucket.GroupByExpr...)
		if bucket.LabelExpr != bucket.KeyExpr {
			plan = plan.WithGroupBy(bucket.LabelExpr)
		}
	} else {
		key := fmt.Sprintf("%s.%s", baseAlias, across.KeyAlias)
		plan = plan.
			WithSelect(goqu.L(fmt.Sprintf("CAST(%s AS TEXT)", key)).As(keyAlias)).
			WithGroupBy(key)
		if across.SecondaryKeyExpr != "" {
			secondary := fmt.Sprintf("%s.%s", baseAlias, across.SecondaryKeyAlias)
			plan = plan.
				WithSelect(goqu.L(fmt.Sprintf("CAST(MAX(%s) AS TEXT)", secondary)).As(secondaryKeyAlias))
			if across.PinQualifiedName {
				// The secondary key is part of the bucket identity
				plan = plan.WithGroupBy(secondary)
			}
		}
	}
	for _, metric := range metrics {
		sel, err := metricSelect(metric)
		if err != nil {
			return QueryPlan{}, err
		}
		plan = plan.WithSelect(sel)
	}
	return plan, nil
}

// withOrder orders buckets by the requested sort field, or the dimension's default. Ties are broken by key.
func (qb *QueryBuilder) withOrder(
	plan QueryPlan,
	spec model.FilterSpec,
	across *catalog.DimensionDescriptor,
	bucket *catalog.TimeBucket,
	calc *catalog.CalculationDescriptor,
) QueryPlan {
	keyOrder := func(desc bool) exp.OrderedExpression {
		var key exp.Orderable = goqu.I(keyAlias)
		if bucket != nil {
			key = goqu.L(bucket.OrderByExpr)
		}
		if desc {
			return key.Desc()
		}
		return key.Asc()
	}
	metricOrder := func(metric string, desc bool) []exp.OrderedExpression {
		m := goqu.I(metric)
		if desc {
			return []exp.OrderedExpression{m.Desc().NullsLast(), keyOrder(false)}
		}
		return []exp.OrderedExpression{m.Asc().NullsLast(), keyOrder(false)}
	}

	if len(spec.Sort) > 0 {
		sort := spec.Sort[0]
		if sort.Field == string(spec.Across) {
			return plan.WithOrderBy(keyOrder(sort.Desc))
		}
		return plan.WithOrderBy(metricOrder(sort.Field, sort.Desc)...)
	}
	switch across.DefaultSort {
	case catalog.SortByKeyAsc:
		return plan.WithOrderBy(keyOrder(false))
	case catalog.SortByKeyDesc:
		return plan.WithOrderBy(keyOrder(true))
	default:
		primary := calc.PrimaryMetric
		if spec.ValuesOnly {
			primary = catalog.CountMetric
		}
		return plan.WithOrderBy(metricOrder(string(primary), true)...)
	}
}

// withDefaultLookback bounds date-trend queries that have no range on the bucketed attribute to the last
// acrossLimit days.
func (qb *QueryBuilder) withDefaultLookback(spec model.FilterSpec, across *catalog.DimensionDescriptor) model.FilterSpec {
	if r, ok := spec.Ranges[across.TimeAttribute]; ok && !r.IsEmpty() {
		return spec
	}
	days, ok := spec.EffectiveAcrossLimit()
	if !ok {
		days = model.DefaultAcrossLimit
	}
	gt := qb.clock.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	return spec.WithRange(across.TimeAttribute, model.Range{Gt: &gt})
}
