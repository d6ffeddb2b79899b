// Package scope resolves an agent session id to its stable routing scope:
// either the live session id or the root of its parent chain, depending on
// configuration. Parent-chain walks are memoised and collapsed so that
// concurrent calls for the same session id only query the agent framework
// once.
package scope

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Policy selects how a live session id maps to a routing scope.
type Policy string

const (
	// PolicySession routes each live session id independently.
	PolicySession Policy = "session"
	// PolicyRoot routes by the root of the session's parent chain. This is
	// the default: child/branch sessions share their parent's container.
	PolicyRoot Policy = "root"
)

// maxWalkDepth bounds the parent-chain walk: an ancestor chain deeper than
// this is treated as rooted at the last-visited node.
const maxWalkDepth = 10

// defaultCacheSize bounds the resolver's memoisation cache.
const defaultCacheSize = 4096

// ParentLookup fetches the parent session id of sessionID, if any. ok is
// false when sessionID has no parent (it is a root). This is the resolver's
// sole dependency on the agent framework.
type ParentLookup func(ctx context.Context, sessionID string) (parentID string, ok bool, err error)

// Resolver computes and memoises session scopes.
type Resolver struct {
	policy Policy
	lookup ParentLookup

	mu    sync.Mutex
	cache *lruCache

	group singleflight.Group
}

// New builds a Resolver. lookup may be nil when policy is PolicySession,
// since no parent walk is ever performed in that mode.
func New(policy Policy, lookup ParentLookup) *Resolver {
	return &Resolver{
		policy: policy,
		lookup: lookup,
		cache:  newLRUCache(defaultCacheSize),
	}
}

// Resolve returns the routing scope id for a live session id.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("scope: empty session id")
	}
	if r.policy == PolicySession {
		return sessionID, nil
	}

	r.mu.Lock()
	if cached, ok := r.cache.get(sessionID); ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(sessionID, func() (interface{}, error) {
		root, visited := r.walkToRoot(ctx, sessionID)

		r.mu.Lock()
		for _, id := range visited {
			r.cache.put(id, root)
		}
		r.mu.Unlock()

		return root, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// walkToRoot walks session.parentId up to maxWalkDepth, returning the root
// scope id and every node visited along the way (so all of them can be
// memoised to point at the same root). A lookup failure or a missing parent
// both terminate the walk at the current node: a scope resolution error is
// treated as "this is its own root".
func (r *Resolver) walkToRoot(ctx context.Context, sessionID string) (string, []string) {
	visited := []string{sessionID}
	current := sessionID

	for depth := 0; depth < maxWalkDepth; depth++ {
		if r.lookup == nil {
			break
		}
		parent, ok, err := r.lookup(ctx, current)
		if err != nil || !ok || parent == "" {
			break
		}
		current = parent
		visited = append(visited, current)
	}

	return current, visited
}

// lruCache is a small fixed-capacity least-recently-used cache. Evicts the
// least recently used entry once capacity is exceeded.
type lruCache struct {
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key   string
	value string
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *lruCache) get(key string) (string, bool) {
	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) put(key, value string) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}
