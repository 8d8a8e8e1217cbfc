// Package profiles loads the per-profile attribute overrides that split one logical filter into several unioned
// branches.
package profiles

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/insights/internal/common/database"
	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/common/insightserrors"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/model"
)

const productFiltersTable = "product_filters"

type Source interface {
	// Resolve returns the overrides of the given profiles in the order of ids. Profiles that cannot be loaded are
	// reported with an ErrPartialProfileResolution.
	Resolve(ctx *insightscontext.Context, company string, ids []string) ([]model.ProfileOverride, error)
}

// SqlSource reads profile overrides stored as jsonb in the product_filters table of the company's schema.
type SqlSource struct {
	db database.Querier
}

func NewSqlSource(db database.Querier) *SqlSource {
	return &SqlSource{db: db}
}

func (s *SqlSource) Resolve(ctx *insightscontext.Context, company string, ids []string) ([]model.ProfileOverride, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT id, filter FROM %s WHERE id = ANY($1)", catalog.QualifiedTable(company, productFiltersTable)),
		ids,
	)
	if err != nil {
		return nil, errors.WithStack(&insightserrors.ErrPartialProfileResolution{ProfileIds: ids, Err: err})
	}
	defer rows.Close()

	byId := map[string]model.ProfileOverride{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, errors.WithStack(&insightserrors.ErrPartialProfileResolution{ProfileIds: ids, Err: err})
		}
		override, err := decodeOverride(id, raw)
		if err != nil {
			return nil, errors.WithStack(&insightserrors.ErrPartialProfileResolution{ProfileIds: []string{id}, Err: err})
		}
		byId[id] = override
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(&insightserrors.ErrPartialProfileResolution{ProfileIds: ids, Err: err})
	}
	return inOrder(ids, byId)
}

// decodeOverride parses the filter document of a profile, e.g.,
//
//	{"include": {"repository": ["r1"]}, "ranges": {"pr_created": {"$gt": 1700000000}}}
func decodeOverride(id string, raw []byte) (model.ProfileOverride, error) {
	override := model.ProfileOverride{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &override); err != nil {
			return model.ProfileOverride{}, errors.Wrapf(err, "invalid filter for profile %s", id)
		}
	}
	override.ProfileId = id
	return override, nil
}

// inOrder lists the overrides of ids in order, failing if any of them is missing.
func inOrder(ids []string, byId map[string]model.ProfileOverride) ([]model.ProfileOverride, error) {
	result := make([]model.ProfileOverride, 0, len(ids))
	var missing []string
	for _, id := range ids {
		o, ok := byId[id]
		if !ok {
			if !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
			continue
		}
		result = append(result, o)
	}
	if len(missing) > 0 {
		return nil, errors.WithStack(&insightserrors.ErrPartialProfileResolution{
			ProfileIds: missing,
			Err:        errors.New("profiles not found"),
		})
	}
	return result, nil
}
