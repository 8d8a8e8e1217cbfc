package repository

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	// Registers the postgres dialect
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
)

var dialect = goqu.Dialect("postgres")

type Query struct {
	Sql  string
	Args pgx.NamedArgs
}

// BranchPlan is the row level select of one union branch. It produces one row per record and bucket.
type BranchPlan struct {
	Company    string
	From       exp.AliasedExpression
	Joins      []*catalog.JoinDescriptor
	Selects    []exp.Expression
	Conditions []string
}

// QueryPlan is an immutable description of an aggregation query. Every With* method returns a modified copy.
type QueryPlan struct {
	branches     []BranchPlan
	params       map[string]interface{}
	selects      []exp.Expression
	groupBy      []string
	orderBy      []exp.OrderedExpression
	limit        *uint
	metrics      []catalog.Metric
	secondaryKey bool
}

func NewQueryPlan() QueryPlan {
	return QueryPlan{params: map[string]interface{}{}}
}

// WithBranch adds a union branch together with the parameters it references. Parameter names must not clash with
// those of other branches.
func (p QueryPlan) WithBranch(branch BranchPlan, params map[string]interface{}) (QueryPlan, error) {
	c := p.clone()
	for name, value := range params {
		if _, exists := c.params[name]; exists {
			return QueryPlan{}, errors.Errorf("parameter %s is defined by more than one branch", name)
		}
		c.params[name] = value
	}
	c.branches = append(c.branches, branch)
	return c, nil
}

func (p QueryPlan) WithSelect(selects ...exp.Expression) QueryPlan {
	c := p.clone()
	c.selects = append(c.selects, selects...)
	return c
}

func (p QueryPlan) WithGroupBy(exprs ...string) QueryPlan {
	c := p.clone()
	c.groupBy = append(c.groupBy, exprs...)
	return c
}

func (p QueryPlan) WithOrderBy(order ...exp.OrderedExpression) QueryPlan {
	c := p.clone()
	c.orderBy = append(c.orderBy, order...)
	return c
}

func (p QueryPlan) WithLimit(limit uint) QueryPlan {
	c := p.clone()
	c.limit = &limit
	return c
}

func (p QueryPlan) WithMetrics(metrics []catalog.Metric, secondaryKey bool) QueryPlan {
	c := p.clone()
	c.metrics = slices.Clone(metrics)
	c.secondaryKey = secondaryKey
	return c
}

// Limit returns the bound on the number of buckets, and false if there is none.
func (p QueryPlan) Limit() (uint, bool) {
	if p.limit == nil {
		return 0, false
	}
	return *p.limit, true
}

func (p QueryPlan) Metrics() []catalog.Metric {
	return p.metrics
}

func (p QueryPlan) HasSecondaryKey() bool {
	return p.secondaryKey
}

func (p QueryPlan) Params() map[string]interface{} {
	params := make(map[string]interface{}, len(p.params))
	for k, v := range p.params {
		params[k] = v
	}
	return params
}

// Unpaginated renders the full grouped query, bounded only by the plan's limit.
func (p QueryPlan) Unpaginated() (*Query, error) {
	ds, err := p.dataset()
	if err != nil {
		return nil, err
	}
	return p.render(ds)
}

// Page works out where a page of the plan's buckets starts and how many buckets it takes, the page size clamped to
// what is left under the plan's limit. ok is false when the page starts at or beyond the limit; no bucket can be on
// it then.
func (p QueryPlan) Page(page, pageSize int) (offset, take int, ok bool, err error) {
	if page < 0 || pageSize < 0 {
		return 0, 0, false, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "page",
			Value:   fmt.Sprintf("%d/%d", page, pageSize),
			Message: "page and page size must not be negative",
		})
	}
	offset = page * pageSize
	take = pageSize
	limit, limited := p.Limit()
	if !limited {
		return offset, take, true, nil
	}
	if offset >= int(limit) {
		return offset, 0, false, nil
	}
	if remaining := int(limit) - offset; take == 0 || remaining < take {
		take = remaining
	}
	return offset, take, true, nil
}

// Paginated renders the grouped query restricted to take buckets starting at skip. A take of zero means no limit
// beyond the plan's own.
func (p QueryPlan) Paginated(skip, take uint) (*Query, error) {
	ds, err := p.dataset()
	if err != nil {
		return nil, err
	}
	if take > 0 {
		ds = ds.Limit(take)
	}
	if skip > 0 {
		ds = ds.Offset(skip)
	}
	return p.render(ds)
}

// Count renders a query counting the buckets of the unpaginated query.
func (p QueryPlan) Count() (*Query, error) {
	ds, err := p.dataset()
	if err != nil {
		return nil, err
	}
	return p.render(dialect.From(ds.As("buckets")).Select(goqu.COUNT(goqu.Star())))
}

func (p QueryPlan) dataset() (*goqu.SelectDataset, error) {
	if len(p.branches) == 0 {
		return nil, errors.New("query plan has no branches")
	}
	var union *goqu.SelectDataset
	for _, b := range p.branches {
		ds := dialect.From(b.From).Select(toInterfaces(b.Selects)...)
		for _, j := range b.Joins {
			source := j.Source(b.Company).As(j.Alias)
			on := goqu.On(goqu.L(j.On))
			if j.Kind == catalog.InnerJoin {
				ds = ds.InnerJoin(source, on)
			} else {
				ds = ds.LeftJoin(source, on)
			}
		}
		if len(b.Conditions) > 0 {
			ds = ds.Where(literals(b.Conditions)...)
		}
		if union == nil {
			union = ds
		} else {
			union = union.Union(ds)
		}
	}

	groupBy := make([]interface{}, len(p.groupBy))
	for i, g := range p.groupBy {
		groupBy[i] = goqu.L(g)
	}
	ds := dialect.
		From(union.As(baseAlias)).
		Select(toInterfaces(p.selects)...).
		GroupBy(groupBy...).
		Order(p.orderBy...)
	if p.limit != nil {
		ds = ds.Limit(*p.limit)
	}
	return ds, nil
}

func (p QueryPlan) render(ds *goqu.SelectDataset) (*Query, error) {
	sql, _, err := ds.ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "failed to render query")
	}
	return &Query{
		Sql:  sql,
		Args: pgx.NamedArgs(p.Params()),
	}, nil
}

func (p QueryPlan) clone() QueryPlan {
	c := QueryPlan{
		branches:     slices.Clone(p.branches),
		params:       p.Params(),
		selects:      slices.Clone(p.selects),
		groupBy:      slices.Clone(p.groupBy),
		orderBy:      slices.Clone(p.orderBy),
		metrics:      slices.Clone(p.metrics),
		secondaryKey: p.secondaryKey,
	}
	if p.limit != nil {
		limit := *p.limit
		c.limit = &limit
	}
	return c
}

func literals(sql []string) []exp.Expression {
	result := make([]exp.Expression, len(sql))
	for i, s := range sql {
		result[i] = goqu.L(s)
	}
	return result
}

func toInterfaces(exprs []exp.Expression) []interface{} {
	result := make([]interface{}, len(exprs))
	for i, e := range exprs {
		result[i] = e
	}
	return result
}

func (q *Query) String() string {
	return fmt.Sprintf("%s %v", q.Sql, q.Args)
}
