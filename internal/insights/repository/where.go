package repository

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

// WhereClause is a list of conditions to be ANDed together, with the named parameters they reference.
type WhereClause struct {
	Conditions []string
	Params     map[string]interface{}
}

type whereCompiler struct {
	log     *logrus.Entry
	catalog *catalog.Catalog
	suffix  string

	conditions []string
	params     map[string]interface{}
}

// CompileWhere translates the predicates of spec into SQL conditions. Every parameter name ends in "_<suffix>" when a
// suffix is given, so that the clauses of several union branches can share one parameter map.
func CompileWhere(log *logrus.Entry, cat *catalog.Catalog, spec model.FilterSpec, suffix string) (*WhereClause, error) {
	wc := &whereCompiler{
		log:     log,
		catalog: cat,
		suffix:  suffix,
		params:  map[string]interface{}{},
	}
	if err := wc.compile(spec); err != nil {
		return nil, err
	}
	return &WhereClause{
		Conditions: wc.conditions,
		Params:     wc.params,
	}, nil
}

func (wc *whereCompiler) compile(spec model.FilterSpec) error {
	overlaid := wc.overlaidAttributes(spec)

	for _, attr := range sortedKeys(spec.Include) {
		if overlaid[attr] {
			wc.log.Debugf("ignoring include filter on %s in favour of org unit overlay", attr)
			continue
		}
		if err := wc.include(attr, spec.Include[attr], string(attr)); err != nil {
			return err
		}
	}
	for _, attr := range sortedKeys(spec.Exclude) {
		if err := wc.exclude(attr, spec.Exclude[attr]); err != nil {
			return err
		}
	}
	for _, attr := range sortedKeys(spec.Ranges) {
		if err := wc.includeRange(attr, spec.Ranges[attr]); err != nil {
			return err
		}
	}
	for _, attr := range sortedKeys(spec.ExcludeRanges) {
		if err := wc.excludeRange(attr, spec.ExcludeRanges[attr]); err != nil {
			return err
		}
	}
	for _, attr := range sortedKeys(spec.PartialMatch) {
		if err := wc.partialMatch(attr, spec.PartialMatch[attr]); err != nil {
			return err
		}
	}
	for _, attr := range sortedKeys(spec.Missing) {
		if err := wc.missing(attr, spec.Missing[attr]); err != nil {
			return err
		}
	}
	if err := wc.qualifiedNames(spec.QualifiedNames, "qjn", false); err != nil {
		return err
	}
	if err := wc.qualifiedNames(spec.ExcludeQualifiedNames, "exclude_qjn", true); err != nil {
		return err
	}
	if err := wc.orgUnit(spec.OrgUnit); err != nil {
		return err
	}
	for _, attr := range sortedKeys(spec.Pins) {
		if err := wc.pin(attr, spec.Pins[attr]); err != nil {
			return err
		}
	}
	return nil
}

// overlaidAttributes returns the attributes constrained by the org unit overlay. Their include lists are ignored.
func (wc *whereCompiler) overlaidAttributes(spec model.FilterSpec) map[model.Attribute]bool {
	result := map[model.Attribute]bool{}
	if spec.OrgUnit == nil {
		return result
	}
	for family := range spec.OrgUnit.Predicates {
		for _, a := range wc.catalog.AttributesOfFamily(family) {
			result[a.Attribute] = true
		}
	}
	return result
}

func (wc *whereCompiler) include(attr model.Attribute, values []string, paramName string) error {
	a, err := wc.catalog.Attribute(attr)
	if err != nil {
		return err
	}
	placeholder := wc.recordValue(paramName, values)
	switch a.Kind {
	case catalog.Scalar:
		wc.addCondition("%s = ANY(%s)", a.Column, placeholder)
	case catalog.Numeric:
		wc.addCondition("CAST(%s AS TEXT) = ANY(%s)", a.Column, placeholder)
	case catalog.Array:
		wc.addCondition("%s && %s", a.Column, placeholder)
	case catalog.Weekday:
		wc.addCondition("%s = ANY(%s)", catalog.WeekdayExpr(a.Column), placeholder)
	default:
		return invalidFilter(attr, "values cannot be matched on a time attribute; use a range")
	}
	return nil
}

func (wc *whereCompiler) exclude(attr model.Attribute, values []string) error {
	a, err := wc.catalog.Attribute(attr)
	if err != nil {
		return err
	}
	placeholder := wc.recordValue("exclude_"+string(attr), values)
	switch a.Kind {
	case catalog.Scalar:
		wc.addCondition("(%s IS NULL OR NOT (%s = ANY(%s)))", a.Column, a.Column, placeholder)
	case catalog.Numeric:
		wc.addCondition("(%s IS NULL OR NOT (CAST(%s AS TEXT) = ANY(%s)))", a.Column, a.Column, placeholder)
	case catalog.Array:
		wc.addCondition("NOT (COALESCE(%s, '{}') && %s)", a.Column, placeholder)
	case catalog.Weekday:
		wc.addCondition("NOT (%s = ANY(%s))", catalog.WeekdayExpr(a.Column), placeholder)
	default:
		return invalidFilter(attr, "values cannot be matched on a time attribute; use a range")
	}
	return nil
}

func (wc *whereCompiler) rangeOperands(attr model.Attribute, r model.Range, prefix string) (string, string, string, error) {
	a, err := wc.catalog.Attribute(attr)
	if err != nil {
		return "", "", "", err
	}
	bound := func(name string, v int64) string {
		placeholder := wc.recordValue(name, v)
		if a.Kind == catalog.Timestamp {
			return fmt.Sprintf("to_timestamp(%s)", placeholder)
		}
		return placeholder
	}
	switch a.Kind {
	case catalog.Timestamp, catalog.Numeric, catalog.Scalar:
	default:
		return "", "", "", invalidFilter(attr, "ranges are not supported for this attribute")
	}
	var gt, lt string
	if r.Gt != nil {
		gt = bound(fmt.Sprintf("%s%s_gt", prefix, attr), *r.Gt)
	}
	if r.Lt != nil {
		lt = bound(fmt.Sprintf("%s%s_lt", prefix, attr), *r.Lt)
	}
	return a.Column, gt, lt, nil
}

func (wc *whereCompiler) includeRange(attr model.Attribute, r model.Range) error {
	column, gt, lt, err := wc.rangeOperands(attr, r, "")
	if err != nil {
		return err
	}
	if gt != "" {
		wc.addCondition("%s > %s", column, gt)
	}
	if lt != "" {
		wc.addCondition("%s < %s", column, lt)
	}
	return nil
}

func (wc *whereCompiler) excludeRange(attr model.Attribute, r model.Range) error {
	column, gt, lt, err := wc.rangeOperands(attr, r, "exclude_")
	if err != nil {
		return err
	}
	switch {
	case gt != "" && lt != "":
		wc.addCondition("NOT (%s > %s AND %s < %s)", column, gt, column, lt)
	case gt != "":
		wc.addCondition("NOT (%s > %s)", column, gt)
	case lt != "":
		wc.addCondition("NOT (%s < %s)", column, lt)
	}
	return nil
}

func (wc *whereCompiler) partialMatch(attr model.Attribute, match model.PartialMatch) error {
	a, err := wc.catalog.Attribute(attr)
	if err != nil {
		return err
	}
	if a.Kind != catalog.Scalar && a.Kind != catalog.Array {
		return invalidFilter(attr, "partial match is only supported for text attributes")
	}
	type matcher struct {
		name     string
		operator string
		value    string
	}
	var matchers []matcher
	if match.Begins != "" {
		matchers = append(matchers, matcher{"begins", "LIKE", parseStringForLike(match.Begins) + "%"})
	}
	if match.Ends != "" {
		matchers = append(matchers, matcher{"ends", "LIKE", "%" + parseStringForLike(match.Ends)})
	}
	if match.Contains != "" {
		matchers = append(matchers, matcher{"contains", "LIKE", "%" + parseStringForLike(match.Contains) + "%"})
	}
	if match.Regex != "" {
		matchers = append(matchers, matcher{"regex", "~", match.Regex})
	}
	for _, m := range matchers {
		placeholder := wc.recordValue(fmt.Sprintf("%s_%s", attr, m.name), m.value)
		if a.Kind == catalog.Array {
			wc.addCondition("EXISTS (SELECT 1 FROM UNNEST(%s) AS k WHERE k %s %s)", a.Column, m.operator, placeholder)
		} else {
			wc.addCondition("%s %s %s", a.Column, m.operator, placeholder)
		}
	}
	return nil
}

func (wc *whereCompiler) missing(attr model.Attribute, isMissing bool) error {
	a, err := wc.catalog.Attribute(attr)
	if err != nil {
		return err
	}
	switch {
	case a.Kind == catalog.Array && isMissing:
		wc.addCondition("(%s IS NULL OR cardinality(%s) = 0)", a.Column, a.Column)
	case a.Kind == catalog.Array:
		wc.addCondition("cardinality(%s) > 0", a.Column)
	case isMissing:
		wc.addCondition("%s IS NULL", a.Column)
	default:
		wc.addCondition("%s IS NOT NULL", a.Column)
	}
	return nil
}

// qualifiedNames matches (instance, job) pairs. Each pair gets parameters of its own, named by its index in the list.
func (wc *whereCompiler) qualifiedNames(names []model.QualifiedName, prefix string, negate bool) error {
	if len(names) == 0 {
		return nil
	}
	columns, ok := wc.catalog.QualifiedNames()
	if !ok {
		return errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "qualified_names",
			Value:   names,
			Message: fmt.Sprintf("%s cannot be filtered by qualified name", wc.catalog.Family()),
		})
	}
	var clauses []string
	for i, name := range names {
		if strings.TrimSpace(name.Job) == "" || (name.Instance != nil && strings.TrimSpace(*name.Instance) == "") {
			wc.log.Warnf("skipping blank qualified name at index %d", i)
			continue
		}
		job := wc.recordValue(fmt.Sprintf("%s_job_%d", prefix, i), name.Job)
		if name.Instance == nil {
			clauses = append(clauses, fmt.Sprintf("(%s IS NULL AND %s = %s)", columns.Instance, columns.Job, job))
		} else {
			instance := wc.recordValue(fmt.Sprintf("%s_instance_%d", prefix, i), *name.Instance)
			clauses = append(clauses, fmt.Sprintf("(%s = %s AND %s = %s)", columns.Instance, instance, columns.Job, job))
		}
	}
	if len(clauses) == 0 {
		return nil
	}
	clause := strings.Join(clauses, " OR ")
	if negate {
		wc.addCondition("NOT (%s)", clause)
	} else {
		wc.addCondition("(%s)", clause)
	}
	return nil
}

func (wc *whereCompiler) orgUnit(ou *model.OrgUnitOverlay) error {
	if ou == nil {
		return nil
	}
	for _, family := range sortedKeys(ou.Predicates) {
		predicate := ou.Predicates[family]
		subquery := wc.renameParams(predicate, "ou_"+string(family))
		for _, a := range wc.catalog.AttributesOfFamily(family) {
			switch a.Kind {
			case catalog.Array:
				wc.addCondition("%s && ARRAY(%s)", a.Column, subquery)
			default:
				wc.addCondition("%s IN (%s)", a.Column, subquery)
			}
		}
	}
	return nil
}

// renameParams prefixes the parameters of a membership predicate and records their values.
func (wc *whereCompiler) renameParams(predicate model.MembershipPredicate, prefix string) string {
	names := sortedKeys(predicate.Params)
	// Longest first so that @ou is not replaced inside @ou_id
	slices.SortStableFunc(names, func(a, b string) bool { return len(a) > len(b) })
	sql := predicate.Sql
	for _, name := range names {
		placeholder := wc.recordValue(fmt.Sprintf("%s_%s", prefix, name), predicate.Params[name])
		re := regexp.MustCompile(`@` + regexp.QuoteMeta(name) + `\b`)
		sql = re.ReplaceAllLiteralString(sql, placeholder)
	}
	return sql
}

func (wc *whereCompiler) pin(attr model.Attribute, pin model.Pin) error {
	if pin.Window != nil {
		a, err := wc.catalog.Attribute(attr)
		if err != nil {
			return err
		}
		if a.Kind != catalog.Timestamp {
			return invalidFilter(attr, "time windows can only be pinned on time attributes")
		}
		start := wc.recordValue(fmt.Sprintf("pin_%s_start", attr), pin.Window.Start)
		end := wc.recordValue(fmt.Sprintf("pin_%s_end", attr), pin.Window.End)
		wc.addCondition("%s >= to_timestamp(%s)", a.Column, start)
		wc.addCondition("%s < to_timestamp(%s)", a.Column, end)
	}
	if len(pin.Values) > 0 {
		return wc.include(attr, pin.Values, "pin_"+string(attr))
	}
	return nil
}

func (wc *whereCompiler) addCondition(format string, args ...interface{}) {
	wc.conditions = append(wc.conditions, fmt.Sprintf(format, args...))
}

// Save value to be used as a named parameter, returns the placeholder to put in place of the value in the SQL string
func (wc *whereCompiler) recordValue(name string, value interface{}) string {
	if wc.suffix != "" {
		name = fmt.Sprintf("%s_%s", name, wc.suffix)
	}
	wc.params[name] = value
	return "@" + name
}

func parseStringForLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func invalidFilter(attr model.Attribute, message string) error {
	return errors.WithStack(&insightserrors.ErrInvalidRequest{
		Field:   "filter",
		Value:   attr,
		Message: message,
	})
}
