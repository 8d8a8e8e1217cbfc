package catalog

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/armadaproject/insights/internal/insights/model"
)

const (
	pullRequestsTable = "scm_pullrequests"
	reviewsTable      = "scm_pullrequest_reviews"
	prCommitsTable    = "scm_pullrequest_commits"
	commitsTable      = "scm_commits"
	usersTable        = "scm_users"

	creatorsJoin    JoinId = "creators"
	reviewsJoin     JoinId = "reviews"
	reviewRowsJoin  JoinId = "review_rows"
	commitStatsJoin JoinId = "commit_stats"
)

const (
	PrRepository   model.Dimension = "repository"
	PrProject      model.Dimension = "project"
	PrCreator      model.Dimension = "creator"
	PrAssignee     model.Dimension = "assignee"
	PrReviewer     model.Dimension = "reviewer"
	PrApprover     model.Dimension = "approver"
	PrState        model.Dimension = "state"
	PrLabel        model.Dimension = "label"
	PrSourceBranch model.Dimension = "source_branch"
	PrTargetBranch model.Dimension = "target_branch"
	PrCreated      model.Dimension = "pr_created"
	PrMerged       model.Dimension = "pr_merged"
	PrClosed       model.Dimension = "pr_closed"
	PrUpdated      model.Dimension = "pr_updated"
)

// NewPullRequestsCatalog describes scm_pullrequests. Reviews are joined either aggregated to one row per pull
// request, for filters and calculations, or as one row per reviewer, for grouping by reviewer.
func NewPullRequestsCatalog() *Catalog {
	return newCatalog(catalogSpec{
		family:    model.PullRequests,
		baseTable: pullRequestsTable,
		baseAlias: "pr",
		idColumn:  "id",
		joins: []*JoinDescriptor{
			{
				Id:     creatorsJoin,
				Kind:   LeftJoin,
				Source: tableSource(usersTable),
				Alias:  "creators",
				On:     "creators.id = pr.creator_id",
			},
			{
				Id:   reviewsJoin,
				Kind: LeftJoin,
				Source: func(company string) exp.Aliaseable {
					return goqu.L(fmt.Sprintf(
						"(SELECT pr_id, array_agg(DISTINCT reviewer_id) AS reviewer_ids, "+
							"array_agg(DISTINCT reviewer_id) FILTER (WHERE state = 'APPROVED') AS approver_ids, "+
							"MIN(reviewed_at) AS first_reviewed_at FROM %s GROUP BY pr_id)",
						QualifiedTable(company, reviewsTable)))
				},
				Alias: "reviews",
				On:    "reviews.pr_id = pr.id",
			},
			{
				Id:   reviewRowsJoin,
				Kind: InnerJoin,
				Source: func(company string) exp.Aliaseable {
					return goqu.L(fmt.Sprintf(
						"(SELECT pr_id, reviewer_id, MAX(reviewer) AS reviewer, bool_or(state = 'APPROVED') AS approved "+
							"FROM %s GROUP BY pr_id, reviewer_id)",
						QualifiedTable(company, reviewsTable)))
				},
				Alias: "review_rows",
				On:    "review_rows.pr_id = pr.id",
			},
			{
				Id:   commitStatsJoin,
				Kind: LeftJoin,
				Source: func(company string) exp.Aliaseable {
					return goqu.L(fmt.Sprintf(
						"(SELECT prc.pr_id, SUM(c.additions + c.deletions) AS lines_changed, SUM(c.files_ct) AS files_changed "+
							"FROM %s prc JOIN %s c ON c.commit_sha = prc.commit_sha GROUP BY prc.pr_id)",
						QualifiedTable(company, prCommitsTable), QualifiedTable(company, commitsTable)))
				},
				Alias: "commit_stats",
				On:    "commit_stats.pr_id = pr.id",
			},
		},
		attributes: []*AttributeDescriptor{
			{Attribute: "integration_id", Column: "pr.integration_id", Kind: Scalar},
			{Attribute: "repository", Column: "pr.repo_id", Kind: Scalar},
			{Attribute: "project", Column: "pr.project", Kind: Scalar},
			{Attribute: "creator", Column: "pr.creator_id", Kind: Scalar, OrgUnitFamily: model.CreatorFamily},
			{Attribute: "assignee", Column: "pr.assignee_ids", Kind: Array, OrgUnitFamily: model.AssigneeFamily},
			{Attribute: "reviewer", Column: "reviews.reviewer_ids", Kind: Array, Join: reviewsJoin, OrgUnitFamily: model.ReviewerFamily},
			{Attribute: "approver", Column: "reviews.approver_ids", Kind: Array, Join: reviewsJoin, OrgUnitFamily: model.ApproverFamily},
			{Attribute: "state", Column: "pr.state", Kind: Scalar},
			{Attribute: "label", Column: "pr.labels", Kind: Array},
			{Attribute: "source_branch", Column: "pr.source_branch", Kind: Scalar},
			{Attribute: "target_branch", Column: "pr.target_branch", Kind: Scalar},
			{Attribute: "title", Column: "pr.title", Kind: Scalar},
			{Attribute: "pr_created", Column: "pr.pr_created_at", Kind: Timestamp},
			{Attribute: "pr_merged", Column: "pr.pr_merged_at", Kind: Timestamp},
			{Attribute: "pr_closed", Column: "pr.pr_closed_at", Kind: Timestamp},
			{Attribute: "pr_updated", Column: "pr.pr_updated_at", Kind: Timestamp},
			{Attribute: "lines_changed", Column: "commit_stats.lines_changed", Kind: Numeric, Join: commitStatsJoin},
			{Attribute: "files_changed", Column: "commit_stats.files_changed", Kind: Numeric, Join: commitStatsJoin},
		},
		dimensions: []*DimensionDescriptor{
			{Dimension: PrRepository, KeyExpr: "pr.repo_id", PinAttribute: "repository"},
			{Dimension: PrProject, KeyExpr: "pr.project", PinAttribute: "project"},
			{
				Dimension:         PrCreator,
				KeyExpr:           "pr.creator_id",
				SecondaryKeyExpr:  "COALESCE(creators.display_name, pr.creator)",
				NeedsSecondaryKey: true,
				Joins:             []JoinId{creatorsJoin},
				PinAttribute:      "creator",
			},
			{
				Dimension:         PrAssignee,
				KeyExpr:           "UNNEST(pr.assignee_ids)",
				SecondaryKeyExpr:  "UNNEST(pr.assignees)",
				NeedsSecondaryKey: true,
				PinAttribute:      "assignee",
			},
			{
				Dimension:         PrReviewer,
				KeyExpr:           "review_rows.reviewer_id",
				SecondaryKeyExpr:  "review_rows.reviewer",
				NeedsSecondaryKey: true,
				Joins:             []JoinId{reviewRowsJoin},
				PinAttribute:      "reviewer",
			},
			{
				Dimension:         PrApprover,
				KeyExpr:           "review_rows.reviewer_id",
				SecondaryKeyExpr:  "review_rows.reviewer",
				NeedsSecondaryKey: true,
				Joins:             []JoinId{reviewRowsJoin},
				Conditions:        []string{"review_rows.approved"},
				PinAttribute:      "approver",
			},
			{Dimension: PrState, KeyExpr: "pr.state", PinAttribute: "state"},
			{Dimension: PrLabel, KeyExpr: "UNNEST(pr.labels)", PinAttribute: "label"},
			{Dimension: PrSourceBranch, KeyExpr: "pr.source_branch", PinAttribute: "source_branch"},
			{Dimension: PrTargetBranch, KeyExpr: "pr.target_branch", PinAttribute: "target_branch"},
			{Dimension: PrCreated, TimeAttribute: "pr_created"},
			{Dimension: PrMerged, TimeAttribute: "pr_merged"},
			{Dimension: PrClosed, TimeAttribute: "pr_closed"},
			{Dimension: PrUpdated, TimeAttribute: "pr_updated"},
		},
		calculations: []*CalculationDescriptor{
			valueCalculation(model.MergeTimeCalculation, "EXTRACT(EPOCH FROM (pr.pr_merged_at - pr.pr_created_at))"),
			valueCalculation(model.FirstReviewTimeCalculation, "EXTRACT(EPOCH FROM (reviews.first_reviewed_at - pr.pr_created_at))", reviewsJoin),
			valueCalculation(model.AuthorResponseTimeCalculation, "pr.author_response_time"),
			valueCalculation(model.ReviewerResponseTimeCalculation, "pr.reviewer_response_time"),
			valueCalculation(model.LinesChangedCalculation, "commit_stats.lines_changed", commitStatsJoin),
		},
	})
}
