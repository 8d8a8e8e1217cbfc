package catalog

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/armadaproject/insights/internal/insights/model"
)

const (
	commitFilesTable = "scm_commit_files"

	authorsJoin    JoinId = "authors"
	committersJoin JoinId = "committers"
	filesJoin      JoinId = "files"
)

const (
	CommitRepository model.Dimension = "repository"
	CommitProject    model.Dimension = "project"
	CommitAuthor     model.Dimension = "author"
	CommitCommitter  model.Dimension = "committer"
	CommitBranch     model.Dimension = "commit_branch"
	CommitFileType   model.Dimension = "file_type"
	CommitTrend      model.Dimension = "trend"
)

func NewCommitsCatalog() *Catalog {
	return newCatalog(catalogSpec{
		family:    model.Commits,
		baseTable: commitsTable,
		baseAlias: "c",
		idColumn:  "id",
		joins: []*JoinDescriptor{
			{
				Id:     authorsJoin,
				Kind:   LeftJoin,
				Source: tableSource(usersTable),
				Alias:  "authors",
				On:     "authors.id = c.author_id",
			},
			{
				Id:     committersJoin,
				Kind:   LeftJoin,
				Source: tableSource(usersTable),
				Alias:  "committers",
				On:     "committers.id = c.committer_id",
			},
			{
				Id:   filesJoin,
				Kind: LeftJoin,
				Source: func(company string) exp.Aliaseable {
					return goqu.L(fmt.Sprintf(
						"(SELECT commit_sha, array_agg(DISTINCT file_type) AS file_types FROM %s GROUP BY commit_sha)",
						QualifiedTable(company, commitFilesTable)))
				},
				Alias: "files",
				On:    "files.commit_sha = c.commit_sha",
			},
		},
		attributes: []*AttributeDescriptor{
			{Attribute: "integration_id", Column: "c.integration_id", Kind: Scalar},
			{Attribute: "repository", Column: "c.repo_id", Kind: Scalar},
			{Attribute: "project", Column: "c.project", Kind: Scalar},
			{Attribute: "author", Column: "c.author_id", Kind: Scalar, OrgUnitFamily: model.AuthorFamily},
			{Attribute: "committer", Column: "c.committer_id", Kind: Scalar, OrgUnitFamily: model.CommitterFamily},
			{Attribute: "commit_branch", Column: "c.commit_branch", Kind: Scalar},
			{Attribute: "message", Column: "c.message", Kind: Scalar},
			{Attribute: "file_type", Column: "files.file_types", Kind: Array, Join: filesJoin},
			{Attribute: "committed_at", Column: "c.committed_at", Kind: Timestamp},
			{Attribute: "lines_changed", Column: "(c.additions + c.deletions)", Kind: Numeric},
			{Attribute: "files_changed", Column: "c.files_ct", Kind: Numeric},
		},
		dimensions: []*DimensionDescriptor{
			{Dimension: CommitRepository, KeyExpr: "c.repo_id", PinAttribute: "repository"},
			{Dimension: CommitProject, KeyExpr: "c.project", PinAttribute: "project"},
			{
				Dimension:         CommitAuthor,
				KeyExpr:           "c.author_id",
				SecondaryKeyExpr:  "COALESCE(authors.display_name, c.author)",
				NeedsSecondaryKey: true,
				Joins:             []JoinId{authorsJoin},
				PinAttribute:      "author",
			},
			{
				Dimension:         CommitCommitter,
				KeyExpr:           "c.committer_id",
				SecondaryKeyExpr:  "COALESCE(committers.display_name, c.committer)",
				NeedsSecondaryKey: true,
				Joins:             []JoinId{committersJoin},
				PinAttribute:      "committer",
			},
			{Dimension: CommitBranch, KeyExpr: "c.commit_branch", PinAttribute: "commit_branch"},
			{Dimension: CommitFileType, KeyExpr: "UNNEST(files.file_types)", Joins: []JoinId{filesJoin}, PinAttribute: "file_type"},
			{Dimension: CommitTrend, TimeAttribute: "committed_at"},
		},
		calculations: []*CalculationDescriptor{
			valueCalculation(model.LinesChangedCalculation, "(c.additions + c.deletions)"),
		},
	})
}
