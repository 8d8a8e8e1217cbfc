package profiles

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/insights/model"
)

// CachingSource memoizes the overrides of each profile for a fixed time. Only profile definitions are cached, never
// query results.
type CachingSource struct {
	source Source
	cache  *cache.Cache
}

func NewCachingSource(source Source, ttl time.Duration) *CachingSource {
	return &CachingSource{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
	}
}

func (s *CachingSource) Resolve(ctx *insightscontext.Context, company string, ids []string) ([]model.ProfileOverride, error) {
	byId := map[string]model.ProfileOverride{}
	var misses []string
	for _, id := range ids {
		if cached, found := s.cache.Get(cacheKey(company, id)); found {
			if o, ok := cached.(model.ProfileOverride); ok {
				byId[id] = o
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) > 0 {
		ctx.Log.Debugf("loading %d of %d profiles", len(misses), len(ids))
		loaded, err := s.source.Resolve(ctx, company, misses)
		if err != nil {
			return nil, err
		}
		for _, o := range loaded {
			s.cache.SetDefault(cacheKey(company, o.ProfileId), o)
			byId[o.ProfileId] = o
		}
	}
	return inOrder(ids, byId)
}

func cacheKey(company, id string) string {
	return fmt.Sprintf("%s/%s", company, id)
}
