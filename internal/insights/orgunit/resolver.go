// Package orgunit resolves an org unit reference into membership predicates, one per attribute family. A predicate
// is a SQL subquery selecting the ids of the org unit's members, together with its named parameters.
package orgunit

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/armadaproject/insights/internal/common/database"
	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

const membersTable = "ou_members"

type Resolver interface {
	// ResolveMembershipPredicate returns the predicate selecting the members of ref for family, or nil if the org
	// unit defines no members of that family.
	ResolveMembershipPredicate(
		ctx *insightscontext.Context,
		company string,
		ref string,
		family model.AttributeFamily,
	) (*model.MembershipPredicate, error)
}

// SqlResolver reads org unit membership from the ou_members table of the company's schema.
type SqlResolver struct {
	db database.Querier
}

func NewSqlResolver(db database.Querier) *SqlResolver {
	return &SqlResolver{db: db}
}

func (r *SqlResolver) ResolveMembershipPredicate(
	ctx *insightscontext.Context,
	company string,
	ref string,
	family model.AttributeFamily,
) (*model.MembershipPredicate, error) {
	table := catalog.QualifiedTable(company, membersTable)
	var exists bool
	err := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE ou_ref = $1)", table),
		ref,
	).Scan(&exists)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up org unit %s", ref)
	}
	if !exists {
		return nil, errors.WithStack(&insightserrors.ErrInvalidRequest{
			Field:   "org_unit",
			Value:   ref,
			Message: "org unit does not exist",
		})
	}

	var members int
	err = r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE ou_ref = $1 AND family = $2", table),
		ref, string(family),
	).Scan(&members)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to count %s members of org unit %s", family, ref)
	}
	if members == 0 {
		return nil, nil
	}
	return &model.MembershipPredicate{
		Sql: fmt.Sprintf("SELECT member_id FROM %s WHERE ou_ref = @ref AND family = @family", table),
		Params: map[string]interface{}{
			"ref":    ref,
			"family": string(family),
		},
	}, nil
}

// Resolve collects the predicates of every org unit family the catalog supports.
func Resolve(
	ctx *insightscontext.Context,
	resolver Resolver,
	cat *catalog.Catalog,
	company string,
	ref string,
) (map[model.AttributeFamily]model.MembershipPredicate, error) {
	result := map[model.AttributeFamily]model.MembershipPredicate{}
	for _, family := range cat.OrgUnitFamilies() {
		p, err := resolver.ResolveMembershipPredicate(ctx, company, ref, family)
		if err != nil {
			return nil, err
		}
		if p != nil {
			result[family] = *p
		}
	}
	return result, nil
}
