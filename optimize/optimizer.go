// Optimizer ties the heuristic rewrite + costing pass (build.go) to the
// plan cache (cache.go), collapsing concurrent calls for the same query
// signature into one cost computation (spec §4.6, §5 "the log writer
// accepts append requests... by being the sole appender" — the same
// single-flight discipline applied here to plan construction instead of
// log writes).
package optimize

import (
	"time"

	"github.com/jpl-au/minirel/plan"
	"github.com/jpl-au/minirel/sqlfront"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Config configures an Optimizer's plan cache.
type Config struct {
	CacheCapacity int
	CacheTTL      time.Duration
	Logger        zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = DefaultCacheCapacity
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Optimizer parses, plans, costs, and caches query plans against a
// read-only Catalog.
type Optimizer struct {
	cat   Catalog
	cache *Cache
	group singleflight.Group
	log   zerolog.Logger
}

func New(cat Catalog, config Config) *Optimizer {
	config = config.withDefaults()
	return &Optimizer{
		cat:   cat,
		cache: NewCache(config.CacheCapacity, config.CacheTTL),
		log:   config.Logger,
	}
}

// Optimize returns the cheapest physical plan for sql, consulting the
// cache first and collapsing concurrent identical-signature requests
// into a single Build call.
func (o *Optimizer) Optimize(sql string) (*plan.Node, error) {
	sig := Signature(sql)

	if p, ok := o.cache.Get(sig, time.Now()); ok {
		o.log.Debug().Str("signature", sig).Msg("plan cache hit")
		return p, nil
	}

	v, err, shared := o.group.Do(sig, func() (any, error) {
		q, err := sqlfront.Parse(sql)
		if err != nil {
			return nil, err
		}
		p, err := Build(q, o.cat)
		if err != nil {
			return nil, err
		}
		o.cache.Set(sig, p, time.Now())
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Debug().Str("signature", sig).Bool("shared", shared).Msg("plan built")
	return plan.Clone(v.(*plan.Node)), nil
}
