package repository

import (
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

// PlanJoins returns the optional joins needed by a query grouped by across, in catalog order. A join is included
// only if the dimension, the calculation or an active predicate of spec needs it. Stack dimensions are grouped by
// their own nested queries and plan their joins there.
func PlanJoins(
	cat *catalog.Catalog,
	calc *catalog.CalculationDescriptor,
	across *catalog.DimensionDescriptor,
	spec model.FilterSpec,
) []*catalog.JoinDescriptor {
	required := map[catalog.JoinId]bool{}
	need := func(ids ...catalog.JoinId) {
		for _, id := range ids {
			if id != "" {
				required[id] = true
			}
		}
	}

	need(across.Joins...)
	if calc != nil {
		need(calc.Joins...)
	}
	for _, attr := range activeAttributes(spec) {
		if a, err := cat.Attribute(attr); err == nil {
			need(a.Join)
		}
	}
	if len(spec.QualifiedNames) > 0 || len(spec.ExcludeQualifiedNames) > 0 {
		if qn, ok := cat.QualifiedNames(); ok {
			need(qn.Joins...)
		}
	}
	if spec.OrgUnit != nil {
		for family := range spec.OrgUnit.Predicates {
			for _, a := range cat.AttributesOfFamily(family) {
				need(a.Join)
			}
		}
	}

	// Pull in dependencies until nothing changes
	for changed := true; changed; {
		changed = false
		for id := range required {
			j, ok := cat.Join(id)
			if !ok {
				continue
			}
			for _, dep := range j.DependsOn {
				if !required[dep] {
					required[dep] = true
					changed = true
				}
			}
		}
	}

	var joins []*catalog.JoinDescriptor
	for _, j := range cat.Joins() {
		if required[j.Id] {
			joins = append(joins, j)
		}
	}
	return joins
}

// activeAttributes returns every attribute constrained by spec, sorted by name.
func activeAttributes(spec model.FilterSpec) []model.Attribute {
	set := map[model.Attribute]bool{}
	for attr := range spec.Include {
		set[attr] = true
	}
	for attr := range spec.Exclude {
		set[attr] = true
	}
	for attr := range spec.Ranges {
		set[attr] = true
	}
	for attr := range spec.ExcludeRanges {
		set[attr] = true
	}
	for attr := range spec.PartialMatch {
		set[attr] = true
	}
	for attr := range spec.Missing {
		set[attr] = true
	}
	for attr := range spec.Pins {
		set[attr] = true
	}
	return sortedKeys(set)
}
