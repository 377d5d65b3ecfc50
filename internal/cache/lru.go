package cache

// The recency list is hand rolled instead of container/list so the
// nodes live inside cache entries without interface boxing, and so
// eviction can delete the map entry straight from the evicted key.

// lruNode links one cached key into its shard's recency order.
type lruNode[K comparable] struct {
	key        K
	prev, next *lruNode[K]
}

// lruList orders shard keys from most to least recently used. The
// owning shard's mutex serializes all access.
type lruList[K comparable] struct {
	head *lruNode[K]
	tail *lruNode[K]
	len  int
}

func (l *lruList[K]) Len() int { return l.len }

// PushFront makes key the most recently used entry.
func (l *lruList[K]) PushFront(key K) *lruNode[K] {
	n := &lruNode[K]{key: key, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
	return n
}

// MoveToFront refreshes n on a cache hit.
func (l *lruList[K]) MoveToFront(n *lruNode[K]) {
	if n == nil || n == l.head {
		return
	}
	l.detach(n)
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
}

func (l *lruList[K]) Remove(n *lruNode[K]) {
	if n != nil {
		l.detach(n)
	}
}

// RemoveOldest pops the least recently used key, reporting false on an
// empty list.
func (l *lruList[K]) RemoveOldest() (K, bool) {
	n := l.tail
	if n == nil {
		var zero K
		return zero, false
	}
	l.detach(n)
	return n.key, true
}

func (l *lruList[K]) Clear() {
	l.head, l.tail, l.len = nil, nil, 0
}

// detach unlinks n and clears its pointers so a stale node can never
// splice back in.
func (l *lruList[K]) detach(n *lruNode[K]) {
	if n.prev == nil {
		l.head = n.next
	} else {
		n.prev.next = n.next
	}
	if n.next == nil {
		l.tail = n.prev
	} else {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
}
