package catalog

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/model"
)

type AttributeKind int

const (
	Scalar AttributeKind = iota
	Array
	Timestamp
	Numeric
	Weekday
)

const weekdaySuffix = "_day_of_week"

type JoinId string

type JoinKind int

const (
	LeftJoin JoinKind = iota
	InnerJoin
)

// JoinDescriptor is an optional join. Source renders the joined table or subquery for a company schema.
type JoinDescriptor struct {
	Id        JoinId
	Kind      JoinKind
	Source    func(company string) exp.Aliaseable
	Alias     string
	On        string
	DependsOn []JoinId
}

type AttributeDescriptor struct {
	Attribute model.Attribute
	// SQL expression evaluated against a single record
	Column string
	Kind   AttributeKind
	Join   JoinId
	// People attributes that an org unit overlay constrains
	OrgUnitFamily model.AttributeFamily
}

type DefaultSort int

const (
	SortByPrimaryMetricDesc DefaultSort = iota
	SortByKeyDesc
	SortByKeyAsc
)

// DimensionDescriptor describes how records are grouped by a dimension.
type DimensionDescriptor struct {
	Dimension model.Dimension
	// Row level expression of the bucket key. Array columns are unnested so that a record joins every bucket it
	// belongs to.
	KeyExpr  string
	KeyAlias string
	// Row level expression of the secondary key, e.g., a display name next to an identifier.
	SecondaryKeyExpr  string
	SecondaryKeyAlias string
	NeedsSecondaryKey bool
	Joins             []JoinId
	// Conditions every record must meet to be bucketed by this dimension
	Conditions  []string
	DefaultSort DefaultSort
	// Set for date-trend dimensions: the time attribute that is bucketed by interval
	TimeAttribute model.Attribute
	// Attribute pinned to a bucket key when drilling down
	PinAttribute model.Attribute
	// Drill down pins the (secondary key, key) pair as a qualified job name
	PinQualifiedName bool
}

func (d *DimensionDescriptor) IsTimeBucketed() bool {
	return d.TimeAttribute != ""
}

type Metric string

const (
	CountMetric  Metric = "count"
	MinMetric    Metric = "min"
	MaxMetric    Metric = "max"
	MedianMetric Metric = "median"
	P90Metric    Metric = "p90"
	MeanMetric   Metric = "mean"
	SumMetric    Metric = "sum"
)

var (
	countMetrics = []Metric{CountMetric}
	valueMetrics = []Metric{MinMetric, MaxMetric, MedianMetric, P90Metric, MeanMetric, SumMetric, CountMetric}
)

type CalculationDescriptor struct {
	Calculation model.Calculation
	// Row level value the metrics are computed over. Empty for count.
	ValueExpr     string
	Joins         []JoinId
	Conditions    []string
	Metrics       []Metric
	PrimaryMetric Metric
}

func countCalculation() *CalculationDescriptor {
	return &CalculationDescriptor{
		Calculation:   model.CountCalculation,
		Metrics:       countMetrics,
		PrimaryMetric: CountMetric,
	}
}

func valueCalculation(calc model.Calculation, valueExpr string, joins ...JoinId) *CalculationDescriptor {
	return &CalculationDescriptor{
		Calculation:   calc,
		ValueExpr:     valueExpr,
		Joins:         joins,
		Conditions:    []string{fmt.Sprintf("%s IS NOT NULL", valueExpr)},
		Metrics:       valueMetrics,
		PrimaryMetric: MedianMetric,
	}
}

// QualifiedNameColumns are the columns compound (instance, job) name filters compare against.
type QualifiedNameColumns struct {
	Instance string
	Job      string
	Joins    []JoinId
}

// Catalog holds everything the compiler needs to know about one entity family. Adding a dimension is adding an
// entry to one of its maps.
type Catalog struct {
	family         model.Family
	baseTable      string
	baseAlias      string
	idColumn       string
	dimensions     map[model.Dimension]*DimensionDescriptor
	attributes     map[model.Attribute]*AttributeDescriptor
	joins          []*JoinDescriptor
	calculations   map[model.Calculation]*CalculationDescriptor
	qualifiedNames *QualifiedNameColumns
}

type catalogSpec struct {
	family         model.Family
	baseTable      string
	baseAlias      string
	idColumn       string
	dimensions     []*DimensionDescriptor
	attributes     []*AttributeDescriptor
	joins          []*JoinDescriptor
	calculations   []*CalculationDescriptor
	qualifiedNames *QualifiedNameColumns
}

func newCatalog(spec catalogSpec) *Catalog {
	c := &Catalog{
		family:         spec.family,
		baseTable:      spec.baseTable,
		baseAlias:      spec.baseAlias,
		idColumn:       spec.idColumn,
		dimensions:     map[model.Dimension]*DimensionDescriptor{},
		attributes:     map[model.Attribute]*AttributeDescriptor{},
		joins:          spec.joins,
		calculations:   map[model.Calculation]*CalculationDescriptor{},
		qualifiedNames: spec.qualifiedNames,
	}
	for _, attr := range spec.attributes {
		c.attributes[attr.Attribute] = attr
		if attr.Kind == Timestamp {
			weekday := model.Attribute(string(attr.Attribute) + weekdaySuffix)
			c.attributes[weekday] = &AttributeDescriptor{
				Attribute: weekday,
				Column:    attr.Column,
				Kind:      Weekday,
				Join:      attr.Join,
			}
		}
	}
	for _, dim := range spec.dimensions {
		if dim.IsTimeBucketed() {
			attr := c.attributes[dim.TimeAttribute]
			dim.KeyExpr = attr.Column
			if attr.Join != "" {
				dim.Joins = append(dim.Joins, attr.Join)
			}
			dim.Conditions = append(dim.Conditions, fmt.Sprintf("%s IS NOT NULL", attr.Column))
			dim.DefaultSort = SortByKeyDesc
		}
		if dim.KeyAlias == "" {
			dim.KeyAlias = string(dim.Dimension)
		}
		if dim.SecondaryKeyExpr != "" && dim.SecondaryKeyAlias == "" {
			dim.SecondaryKeyAlias = string(dim.Dimension) + "_secondary"
		}
		c.dimensions[dim.Dimension] = dim
	}
	c.calculations[model.CountCalculation] = countCalculation()
	for _, calc := range spec.calculations {
		c.calculations[calc.Calculation] = calc
	}
	return c
}

func (c *Catalog) Family() model.Family {
	return c.family
}

func (c *Catalog) BaseAlias() string {
	return c.baseAlias
}

// IdExpr is the expression identifying a record of the base table.
func (c *Catalog) IdExpr() string {
	return fmt.Sprintf("%s.%s", c.baseAlias, c.idColumn)
}

// BaseTable returns the aliased base table, qualified with the company schema if there is one.
func (c *Catalog) BaseTable(company string) exp.AliasedExpression {
	return Table(company, c.baseTable).As(c.baseAlias)
}

// Describe returns the descriptor for dim, or an error if the family cannot be grouped by it.
func (c *Catalog) Describe(dim model.Dimension) (*DimensionDescriptor, error) {
	d, ok := c.dimensions[dim]
	if !ok {
		return nil, errors.WithStack(&insightserrors.ErrUnsupportedDimension{
			Family:    string(c.family),
			Dimension: string(dim),
		})
	}
	return d, nil
}

func (c *Catalog) Attribute(attr model.Attribute) (*AttributeDescriptor, error) {
	a, ok := c.attributes[attr]
	if !ok {
		return nil, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "attribute",
			Value:   attr,
			Message: fmt.Sprintf("%s cannot be filtered by this attribute", c.family),
		})
	}
	return a, nil
}

func (c *Catalog) Calculation(calc model.Calculation) (*CalculationDescriptor, error) {
	d, ok := c.calculations[calc]
	if !ok {
		return nil, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "calculation",
			Value:   calc,
			Message: fmt.Sprintf("calculation is not supported for %s", c.family),
		})
	}
	return d, nil
}

// Joins returns every optional join in declaration order.
func (c *Catalog) Joins() []*JoinDescriptor {
	return c.joins
}

func (c *Catalog) Join(id JoinId) (*JoinDescriptor, bool) {
	for _, j := range c.joins {
		if j.Id == id {
			return j, true
		}
	}
	return nil, false
}

// AttributesOfFamily returns the attributes an org unit overlay for family constrains.
func (c *Catalog) AttributesOfFamily(family model.AttributeFamily) []*AttributeDescriptor {
	var result []*AttributeDescriptor
	for _, attr := range c.sortedAttributes() {
		if attr.OrgUnitFamily == family {
			result = append(result, attr)
		}
	}
	return result
}

// OrgUnitFamilies returns the people attribute families of this entity family.
func (c *Catalog) OrgUnitFamilies() []model.AttributeFamily {
	seen := map[model.AttributeFamily]bool{}
	var result []model.AttributeFamily
	for _, attr := range c.sortedAttributes() {
		if attr.OrgUnitFamily != "" && !seen[attr.OrgUnitFamily] {
			seen[attr.OrgUnitFamily] = true
			result = append(result, attr.OrgUnitFamily)
		}
	}
	return result
}

func (c *Catalog) sortedAttributes() []*AttributeDescriptor {
	keys := maps.Keys(c.attributes)
	slices.Sort(keys)
	result := make([]*AttributeDescriptor, len(keys))
	for i, k := range keys {
		result[i] = c.attributes[k]
	}
	return result
}

func (c *Catalog) QualifiedNames() (*QualifiedNameColumns, bool) {
	return c.qualifiedNames, c.qualifiedNames != nil
}

// WeekdayAttribute returns the attribute matching the weekday name of a time attribute.
func WeekdayAttribute(attr model.Attribute) model.Attribute {
	return model.Attribute(string(attr) + weekdaySuffix)
}

// Table returns a table identifier, qualified with the company schema if there is one.
func Table(company, table string) exp.IdentifierExpression {
	if company == "" {
		return goqu.T(table)
	}
	return goqu.S(company).Table(table)
}

// QualifiedTable renders a table name for use inside raw SQL fragments.
func QualifiedTable(company, table string) string {
	if company == "" {
		return table
	}
	return fmt.Sprintf(`"%s".%s`, strings.ReplaceAll(company, `"`, `""`), table)
}

func tableSource(table string) func(company string) exp.Aliaseable {
	return func(company string) exp.Aliaseable {
		return Table(company, table)
	}
}

// Registry holds the catalog of every entity family.
type Registry map[model.Family]*Catalog

func NewRegistry() Registry {
	return Registry{
		model.PullRequests: NewPullRequestsCatalog(),
		model.Commits:      NewCommitsCatalog(),
		model.JobRuns:      NewJobRunsCatalog(),
	}
}

func (r Registry) ForFamily(family model.Family) (*Catalog, error) {
	c, ok := r[family]
	if !ok {
		return nil, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "family",
			Value:   family,
			Message: "unknown entity family",
		})
	}
	return c, nil
}
