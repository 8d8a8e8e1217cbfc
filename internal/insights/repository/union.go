package repository

import (
	"strconv"

	"github.com/armadaproject/insights/internal/insights/model"
)

// Branch is one physical query of a logical filter.
type Branch struct {
	Spec      model.FilterSpec
	Suffix    string
	ProfileId string
}

// Expand returns one branch per profile override, or a single branch with no suffix if there are none. The values
// of a profile take precedence over the base filter for every attribute the profile sets.
func Expand(spec model.FilterSpec) []Branch {
	if len(spec.ProfileOverrides) == 0 {
		return []Branch{{Spec: spec.Clone()}}
	}
	branches := make([]Branch, 0, len(spec.ProfileOverrides))
	for i, override := range spec.ProfileOverrides {
		branch := spec.Clone()
		branch.ProfileOverrides = nil
		for attr, values := range override.Include {
			if branch.Include == nil {
				branch.Include = map[model.Attribute][]string{}
			}
			branch.Include[attr] = append([]string(nil), values...)
		}
		for attr, values := range override.Exclude {
			if branch.Exclude == nil {
				branch.Exclude = map[model.Attribute][]string{}
			}
			branch.Exclude[attr] = append([]string(nil), values...)
		}
		for attr, r := range override.Ranges {
			branch = branch.WithRange(attr, r)
		}
		branches = append(branches, Branch{
			Spec:      branch,
			Suffix:    strconv.Itoa(i + 1),
			ProfileId: override.ProfileId,
		})
	}
	return branches
}
