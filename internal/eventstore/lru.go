package eventstore

import "container/list"

// streamCache is a fixed-capacity LRU of full-stream snapshots, keyed by
// stream id. It only serves fromVersion==0 reads; any append to a stream
// invalidates its entry.
//
// streamCache is not safe for concurrent use; callers hold the store lock.
type streamCache struct {
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

// cacheEntry is the list element payload.
type cacheEntry struct {
	streamID string
	events   []Event
}

func newStreamCache(capacity int) *streamCache {
	return &streamCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// get returns the cached snapshot and marks it most recently used.
func (c *streamCache) get(streamID string) ([]Event, bool) {
	el, ok := c.entries[streamID]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).events, true
}

// put stores a snapshot, evicting the least recently used entry when full.
func (c *streamCache) put(streamID string, events []Event) {
	if c.capacity <= 0 {
		return
	}
	if el, ok := c.entries[streamID]; ok {
		el.Value.(*cacheEntry).events = events
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).streamID)
		}
	}
	c.entries[streamID] = c.order.PushFront(&cacheEntry{streamID: streamID, events: events})
}

// invalidate drops the snapshot for streamID, if any.
func (c *streamCache) invalidate(streamID string) {
	if el, ok := c.entries[streamID]; ok {
		c.order.Remove(el)
		delete(c.entries, streamID)
	}
}

// clear drops every snapshot.
func (c *streamCache) clear() {
	c.order.Init()
	clear(c.entries)
}

// len returns the number of cached streams.
func (c *streamCache) len() int { return c.order.Len() }
