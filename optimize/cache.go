// The plan cache: a bounded LRU with a TTL per entry, keyed by a
// canonical query signature (spec §4.6: "capacity default 128, TTL
// default 10 minutes... cached plans are deep-cloned on get... on set,
// oldest-access entry is evicted when full").
package optimize

import (
	"container/list"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jpl-au/minirel/plan"
	"github.com/jpl-au/minirel/sqlfront"
	"github.com/zeebo/xxh3"
)

const (
	DefaultCacheCapacity = 128
	DefaultCacheTTL      = 10 * time.Minute
)

type cacheEntry struct {
	key     string
	plan    *plan.Node
	expires time.Time
}

// Cache is a bounded least-recently-used plan cache. Every access (get
// or set) moves the entry to the front; the back is the eviction
// candidate when the cache is full.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
}

func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns a deep clone of the cached plan for signature, or false if
// absent or expired.
func (c *Cache) Get(signature string, now time.Time) (*plan.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[signature]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if now.After(entry.expires) {
		c.order.Remove(el)
		delete(c.items, signature)
		return nil, false
	}
	c.order.MoveToFront(el)
	return plan.Clone(entry.plan), true
}

// Set installs a plan for signature, refreshing its TTL, and evicts the
// least-recently-used entry if the cache is now over capacity.
func (c *Cache) Set(signature string, p *plan.Node, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[signature]; ok {
		entry := el.Value.(*cacheEntry)
		entry.plan = p
		entry.expires = now.Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: signature, plan: p, expires: now.Add(c.ttl)})
	c.items[signature] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Signature computes the canonical cache key for sql: token-rendered
// with keywords and identifiers folded to a single case and every
// separator normalized to a single space (spec §8's round-trip property:
// "parse then pretty-print then parse... is idempotent under
// canonicalization of whitespace and case"), then hashed with xxh3 the
// same way pagestore derives row ids from content.
func Signature(sql string) string {
	toks, err := sqlfront.Lex(sql)
	if err != nil {
		// An unparseable signature still needs to be a stable cache key
		// (the caller surfaces the parse error separately, from Build);
		// fall back to a coarser whitespace/case fold of the raw text.
		return strconv.FormatUint(xxh3.HashString(strings.ToUpper(strings.Join(strings.Fields(sql), " "))), 16)
	}

	var sb strings.Builder
	for _, t := range toks {
		if t.Kind == sqlfront.TokEOF {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		switch t.Kind {
		case sqlfront.TokIdent:
			sb.WriteString(strings.ToLower(t.Text))
		case sqlfront.TokString:
			sb.WriteByte('\'')
			sb.WriteString(t.Text)
			sb.WriteByte('\'')
		default:
			sb.WriteString(t.Text)
		}
	}
	return strconv.FormatUint(xxh3.HashString(sb.String()), 16)
}
