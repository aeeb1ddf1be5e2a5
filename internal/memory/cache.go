package memory

import (
	"sync"
	"time"
)

// summaryCache is a bounded LRU of conversation summaries. An entry is only
// valid for the message count it was computed at, so a new message
// invalidates it without an explicit delete.
type summaryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*cacheNode
	head     *cacheNode // most recently used (sentinel)
	tail     *cacheNode // least recently used (sentinel)
	now      func() time.Time
}

type cacheNode struct {
	conversationID string
	count          int
	summary        string
	storedAt       time.Time
	prev, next     *cacheNode
}

func newSummaryCache(capacity int, ttl time.Duration) *summaryCache {
	head, tail := &cacheNode{}, &cacheNode{}
	head.next = tail
	tail.prev = head
	return &summaryCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheNode, capacity),
		head:     head,
		tail:     tail,
		now:      time.Now,
	}
}

// get returns the summary cached for conversationID at exactly count
// messages.
func (c *summaryCache) get(conversationID string, count int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[conversationID]
	if !ok || n.count != count {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(n.storedAt) > c.ttl {
		c.unlink(n)
		delete(c.items, conversationID)
		return "", false
	}
	c.unlink(n)
	c.pushFront(n)
	return n.summary, true
}

func (c *summaryCache) put(conversationID string, count int, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[conversationID]; ok {
		n.count, n.summary, n.storedAt = count, summary, c.now()
		c.unlink(n)
		c.pushFront(n)
		return
	}
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.conversationID)
	}
	n := &cacheNode{conversationID: conversationID, count: count, summary: summary, storedAt: c.now()}
	c.items[conversationID] = n
	c.pushFront(n)
}

func (c *summaryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// --- list operations (caller must hold lock) ---

func (c *summaryCache) unlink(n *cacheNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *summaryCache) pushFront(n *cacheNode) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}
