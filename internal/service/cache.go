package service

import (
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/clawguard/clawguard/internal/domain/policy"
)

// lruEntry is a doubly-linked list node for the decision cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// decisionCache is a bounded LRU over policy decisions. Only contexts
// with no budget pressure are cached (budget state moves between calls),
// and the cache is cleared on any control-state or rule-set change.
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

func newDecisionCache(maxSize int) *decisionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &decisionCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

func (c *decisionCache) get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

func (c *decisionCache) put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}
	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

func (c *decisionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

func (c *decisionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *decisionCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *decisionCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *decisionCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *decisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// cacheKey hashes the cache-relevant parts of a context. Budget fields
// are deliberately excluded; contexts with budget pressure are never
// cached at all.
func cacheKey(pctx *policy.Context, hitl policy.HITLMode) uint64 {
	h := xxhash.New()
	sep := []byte{0}

	_, _ = h.WriteString(pctx.What.Tool)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.What.Action)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.Who.UserID)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.Who.Role)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.Where.Domain)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.Where.IP)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.Where.URL)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(pctx.Where.FilePath)
	_, _ = h.Write(sep)
	_, _ = h.WriteString(string(hitl))
	_, _ = h.Write(sep)

	flags := [5]bool{
		pctx.Risk.IsDestructive,
		pctx.Risk.IsExternal,
		pctx.Risk.AccessesSecrets,
		pctx.Risk.ModifiesConfig,
		pctx.Risk.SendsData,
	}
	for _, flag := range flags {
		if flag {
			_, _ = h.Write([]byte{1})
		} else {
			_, _ = h.Write([]byte{0})
		}
	}

	if len(pctx.What.Parameters) > 0 {
		// JSON marshalling sorts map keys, so the hash is deterministic.
		data, err := json.Marshal(pctx.What.Parameters)
		if err == nil {
			_, _ = h.Write(data)
		}
	}
	return h.Sum64()
}
