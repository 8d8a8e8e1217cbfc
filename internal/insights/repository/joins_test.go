package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/pointer"

	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

func joinIds(joins []*catalog.JoinDescriptor) []catalog.JoinId {
	ids := []catalog.JoinId{}
	for _, j := range joins {
		ids = append(ids, j.Id)
	}
	return ids
}

func TestPlanJoins(t *testing.T) {
	prs := catalog.NewPullRequestsCatalog()
	count, err := prs.Calculation(model.CountCalculation)
	require.NoError(t, err)
	firstReview, err := prs.Calculation(model.FirstReviewTimeCalculation)
	require.NoError(t, err)
	repository, err := prs.Describe(catalog.PrRepository)
	require.NoError(t, err)
	creator, err := prs.Describe(catalog.PrCreator)
	require.NoError(t, err)
	reviewer, err := prs.Describe(catalog.PrReviewer)
	require.NoError(t, err)

	t.Run("no optional joins", func(t *testing.T) {
		joins := PlanJoins(prs, count, repository, model.FilterSpec{
			Include: map[model.Attribute][]string{"state": {"open"}},
		})
		assert.Empty(t, joins)
	})
	t.Run("dimension needs identity join", func(t *testing.T) {
		joins := PlanJoins(prs, count, creator, model.FilterSpec{})
		assert.Equal(t, []catalog.JoinId{"creators"}, joinIds(joins))
	})
	t.Run("calculation needs review join", func(t *testing.T) {
		joins := PlanJoins(prs, firstReview, repository, model.FilterSpec{})
		assert.Equal(t, []catalog.JoinId{"reviews"}, joinIds(joins))
	})
	t.Run("filter needs metrics join", func(t *testing.T) {
		joins := PlanJoins(prs, count, repository, model.FilterSpec{
			Ranges: map[model.Attribute]model.Range{"lines_changed": {Gt: pointer.Int64(10)}},
		})
		assert.Equal(t, []catalog.JoinId{"commit_stats"}, joinIds(joins))
	})
	t.Run("joins are in catalog order", func(t *testing.T) {
		joins := PlanJoins(prs, firstReview, reviewer, model.FilterSpec{
			Missing: map[model.Attribute]bool{"files_changed": false},
		})
		assert.Equal(t, []catalog.JoinId{"reviews", "review_rows", "commit_stats"}, joinIds(joins))
	})
	t.Run("org unit overlay needs review join", func(t *testing.T) {
		joins := PlanJoins(prs, count, repository, model.FilterSpec{
			OrgUnit: &model.OrgUnitOverlay{Predicates: map[model.AttributeFamily]model.MembershipPredicate{
				model.ApproverFamily: {Sql: "SELECT 1"},
			}},
		})
		assert.Equal(t, []catalog.JoinId{"reviews"}, joinIds(joins))
	})
	t.Run("unknown attributes are ignored", func(t *testing.T) {
		joins := PlanJoins(prs, count, repository, model.FilterSpec{
			Include: map[model.Attribute][]string{"colour": {"red"}},
		})
		assert.Empty(t, joins)
	})
}

func TestPlanJoins_Dependencies(t *testing.T) {
	runs := catalog.NewJobRunsCatalog()
	count, err := runs.Calculation(model.CountCalculation)
	require.NoError(t, err)
	status, err := runs.Describe(catalog.JobStatus)
	require.NoError(t, err)

	joins := PlanJoins(runs, count, status, model.FilterSpec{
		QualifiedNames: []model.QualifiedName{{Job: "build"}},
	})
	assert.Equal(t, []catalog.JoinId{"jobs", "instances"}, joinIds(joins))

	joins = PlanJoins(runs, count, status, model.FilterSpec{})
	assert.Empty(t, joins)
}
