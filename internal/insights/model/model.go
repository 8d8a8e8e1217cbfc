package model

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Family is a kind of software-delivery record that can be aggregated.
type Family string

const (
	PullRequests Family = "pull_requests"
	Commits      Family = "commits"
	JobRuns      Family = "job_runs"
)

// Dimension is a field records can be grouped by.
type Dimension string

// Attribute is a field records can be filtered on.
type Attribute string

// AttributeFamily groups attributes that identify people, so that an org unit overlay can constrain them together.
type AttributeFamily string

const (
	CreatorFamily   AttributeFamily = "creator"
	AssigneeFamily  AttributeFamily = "assignee"
	ReviewerFamily  AttributeFamily = "reviewer"
	ApproverFamily  AttributeFamily = "approver"
	AuthorFamily    AttributeFamily = "author"
	CommitterFamily AttributeFamily = "committer"
	CicdUserFamily  AttributeFamily = "cicd_user"
)

type Calculation string

const (
	CountCalculation                Calculation = "count"
	MergeTimeCalculation            Calculation = "merge_time"
	FirstReviewTimeCalculation      Calculation = "first_review_time"
	AuthorResponseTimeCalculation   Calculation = "author_response_time"
	ReviewerResponseTimeCalculation Calculation = "reviewer_response_time"
	LinesChangedCalculation         Calculation = "lines_changed"
	DurationCalculation             Calculation = "duration"
)

type Interval string

const (
	Year      Interval = "year"
	Quarter   Interval = "quarter"
	Biweekly  Interval = "biweekly"
	Week      Interval = "week"
	Month     Interval = "month"
	Day       Interval = "day"
	DayOfWeek Interval = "day_of_week"
)

var validIntervals = []Interval{Year, Quarter, Biweekly, Week, Month, Day, DayOfWeek}

func (i Interval) IsValid() bool {
	return slices.Contains(validIntervals, i)
}

// OrDefault returns the interval, or Day if none was set.
func (i Interval) OrDefault() Interval {
	if i == "" {
		return Day
	}
	return i
}

const (
	// DefaultAcrossLimit is used when a filter does not set AcrossLimit.
	DefaultAcrossLimit = 90
	// UnlimitedAcross disables the bound on the number of top level buckets.
	UnlimitedAcross = -1
)

// Range is an open interval. Either bound may be omitted. Bounds on time attributes are epoch seconds.
type Range struct {
	Gt *int64 `json:"$gt,omitempty"`
	Lt *int64 `json:"$lt,omitempty"`
}

func (r Range) IsEmpty() bool {
	return r.Gt == nil && r.Lt == nil
}

type PartialMatch struct {
	Begins   string `json:"$begins,omitempty"`
	Ends     string `json:"$ends,omitempty"`
	Contains string `json:"$contains,omitempty"`
	Regex    string `json:"$regex,omitempty"`
}

// QualifiedName identifies a CI/CD job within an instance. A nil Instance matches jobs with no instance.
type QualifiedName struct {
	Instance *string `json:"instance"`
	Job      string  `json:"job"`
}

// MembershipPredicate is a SQL fragment selecting the member identifiers of an org unit, with its named parameters.
type MembershipPredicate struct {
	Sql    string
	Params map[string]interface{}
}

// OrgUnitOverlay restricts people attributes to the members of an org unit. Predicates are filled in by the
// membership resolver before compilation.
type OrgUnitOverlay struct {
	Ref        string                                  `json:"ref"`
	Predicates map[AttributeFamily]MembershipPredicate `json:"-"`
}

type ProfileOverride struct {
	ProfileId string                 `json:"profile_id"`
	Include   map[Attribute][]string `json:"include,omitempty"`
	Exclude   map[Attribute][]string `json:"exclude,omitempty"`
	Ranges    map[Attribute]Range    `json:"ranges,omitempty"`
}

// TimeWindow is the half open interval [Start, End) in epoch seconds.
type TimeWindow struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Pin narrows an attribute to the records of a single bucket. Pins are applied regardless of org unit overlays.
type Pin struct {
	Values []string    `json:"values,omitempty"`
	Window *TimeWindow `json:"window,omitempty"`
}

type SortEntry struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// FilterSpec describes one aggregation request. It is treated as immutable: With* methods and Clone return deep
// copies.
type FilterSpec struct {
	Company               string                     `json:"company,omitempty"`
	Family                Family                     `json:"family"`
	Across                Dimension                  `json:"across"`
	Stacks                []Dimension                `json:"stacks,omitempty"`
	Calculation           Calculation                `json:"calculation,omitempty"`
	Interval              Interval                   `json:"interval,omitempty"`
	Include               map[Attribute][]string     `json:"include,omitempty"`
	Exclude               map[Attribute][]string     `json:"exclude,omitempty"`
	Ranges                map[Attribute]Range        `json:"ranges,omitempty"`
	ExcludeRanges         map[Attribute]Range        `json:"exclude_ranges,omitempty"`
	PartialMatch          map[Attribute]PartialMatch `json:"partial_match,omitempty"`
	Missing               map[Attribute]bool         `json:"missing,omitempty"`
	QualifiedNames        []QualifiedName            `json:"qualified_names,omitempty"`
	ExcludeQualifiedNames []QualifiedName            `json:"exclude_qualified_names,omitempty"`
	OrgUnit               *OrgUnitOverlay            `json:"org_unit,omitempty"`
	ProfileIds            []string                   `json:"profile_ids,omitempty"`
	ProfileOverrides      []ProfileOverride          `json:"profile_overrides,omitempty"`
	Pins                  map[Attribute]Pin          `json:"pins,omitempty"`
	Sort                  []SortEntry                `json:"sort,omitempty"`
	Page                  int                        `json:"page,omitempty"`
	PageSize              int                        `json:"page_size,omitempty"`
	AcrossLimit           int                        `json:"across_limit,omitempty"`
	ValuesOnly            bool                       `json:"values_only,omitempty"`
}

// CalculationOrDefault returns the calculation, or count if none was set.
func (f FilterSpec) CalculationOrDefault() Calculation {
	if f.Calculation == "" {
		return CountCalculation
	}
	return f.Calculation
}

// EffectiveAcrossLimit returns the bound on the number of top level buckets, and false if there is none.
func (f FilterSpec) EffectiveAcrossLimit() (int, bool) {
	if f.ValuesOnly || f.AcrossLimit < 0 {
		return 0, false
	}
	if f.AcrossLimit == 0 {
		return DefaultAcrossLimit, true
	}
	return f.AcrossLimit, true
}

// Clone returns a deep copy of f.
func (f FilterSpec) Clone() FilterSpec {
	c := f
	c.Stacks = slices.Clone(f.Stacks)
	c.Include = cloneValues(f.Include)
	c.Exclude = cloneValues(f.Exclude)
	c.Ranges = cloneRanges(f.Ranges)
	c.ExcludeRanges = cloneRanges(f.ExcludeRanges)
	if f.PartialMatch != nil {
		c.PartialMatch = maps.Clone(f.PartialMatch)
	}
	if f.Missing != nil {
		c.Missing = maps.Clone(f.Missing)
	}
	c.QualifiedNames = cloneQualifiedNames(f.QualifiedNames)
	c.ExcludeQualifiedNames = cloneQualifiedNames(f.ExcludeQualifiedNames)
	if f.OrgUnit != nil {
		ou := &OrgUnitOverlay{Ref: f.OrgUnit.Ref}
		if f.OrgUnit.Predicates != nil {
			ou.Predicates = make(map[AttributeFamily]MembershipPredicate, len(f.OrgUnit.Predicates))
			for family, p := range f.OrgUnit.Predicates {
				ou.Predicates[family] = MembershipPredicate{Sql: p.Sql, Params: maps.Clone(p.Params)}
			}
		}
		c.OrgUnit = ou
	}
	c.ProfileIds = slices.Clone(f.ProfileIds)
	if f.ProfileOverrides != nil {
		c.ProfileOverrides = make([]ProfileOverride, len(f.ProfileOverrides))
		for i, o := range f.ProfileOverrides {
			c.ProfileOverrides[i] = ProfileOverride{
				ProfileId: o.ProfileId,
				Include:   cloneValues(o.Include),
				Exclude:   cloneValues(o.Exclude),
				Ranges:    cloneRanges(o.Ranges),
			}
		}
	}
	if f.Pins != nil {
		c.Pins = make(map[Attribute]Pin, len(f.Pins))
		for attr, pin := range f.Pins {
			p := Pin{Values: slices.Clone(pin.Values)}
			if pin.Window != nil {
				w := *pin.Window
				p.Window = &w
			}
			c.Pins[attr] = p
		}
	}
	c.Sort = slices.Clone(f.Sort)
	return c
}

func (f FilterSpec) WithRange(attr Attribute, r Range) FilterSpec {
	c := f.Clone()
	if c.Ranges == nil {
		c.Ranges = map[Attribute]Range{}
	}
	c.Ranges[attr] = r
	return c
}

func (f FilterSpec) WithPin(attr Attribute, pin Pin) FilterSpec {
	c := f.Clone()
	if c.Pins == nil {
		c.Pins = map[Attribute]Pin{}
	}
	c.Pins[attr] = pin
	return c
}

func (f FilterSpec) WithProfileOverrides(overrides []ProfileOverride) FilterSpec {
	c := f.Clone()
	c.ProfileOverrides = overrides
	return c.Clone()
}

func (f FilterSpec) WithOrgUnitPredicates(predicates map[AttributeFamily]MembershipPredicate) FilterSpec {
	c := f.Clone()
	if c.OrgUnit == nil {
		return c
	}
	c.OrgUnit.Predicates = predicates
	return c.Clone()
}

func cloneValues(m map[Attribute][]string) map[Attribute][]string {
	if m == nil {
		return nil
	}
	c := make(map[Attribute][]string, len(m))
	for k, v := range m {
		c[k] = slices.Clone(v)
	}
	return c
}

func cloneRanges(m map[Attribute]Range) map[Attribute]Range {
	if m == nil {
		return nil
	}
	c := make(map[Attribute]Range, len(m))
	for k, v := range m {
		r := Range{}
		if v.Gt != nil {
			gt := *v.Gt
			r.Gt = &gt
		}
		if v.Lt != nil {
			lt := *v.Lt
			r.Lt = &lt
		}
		c[k] = r
	}
	return c
}

func cloneQualifiedNames(names []QualifiedName) []QualifiedName {
	if names == nil {
		return nil
	}
	c := make([]QualifiedName, len(names))
	for i, n := range names {
		c[i] = QualifiedName{Job: n.Job}
		if n.Instance != nil {
			instance := *n.Instance
			c[i].Instance = &instance
		}
	}
	return c
}

// AggregationResult is one bucket of an aggregation. Metrics that the calculation does not produce are nil.
type AggregationResult struct {
	Key           string               `json:"key"`
	AdditionalKey *string              `json:"additional_key,omitempty"`
	Count         int64                `json:"count"`
	Min           *float64             `json:"min,omitempty"`
	Max           *float64             `json:"max,omitempty"`
	Median        *float64             `json:"median,omitempty"`
	P90           *float64             `json:"p90,omitempty"`
	Mean          *float64             `json:"mean,omitempty"`
	Sum           *float64             `json:"sum,omitempty"`
	Stacks        []*AggregationResult `json:"stacks,omitempty"`
}

type AggregationResponse struct {
	Results []*AggregationResult `json:"records"`
	Total   int                  `json:"count"`
	// StacksTruncated is set when only the largest buckets had their stacks computed.
	StacksTruncated bool `json:"stacks_truncated,omitempty"`
}
