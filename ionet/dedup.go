package ionet

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/blockberries/finalityberry/model"
)

// defaultDedupCacheSize bounds the number of distinct messages the
// cache retains regardless of TTL, so a burst of gossip from a
// misbehaving peer cannot grow it without limit.
const defaultDedupCacheSize = 4096

// RecentHashCache is the short-lived content-hash cache the network
// adapter consults before handing an inbound message to the
// aggregator: a message whose content hash was seen within the last
// ShortLivedCacheMessageDuration is a duplicate and is dropped instead
// of being re-verified and re-broadcast.
type RecentHashCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	ttl   time.Duration
}

// NewRecentHashCache creates a cache retaining entries for ttl, bounded
// to defaultDedupCacheSize distinct hashes.
func NewRecentHashCache(ttl time.Duration) *RecentHashCache {
	cache, _ := lru.New(defaultDedupCacheSize)
	return &RecentHashCache{cache: cache, ttl: ttl}
}

// Seen reports whether hash was already recorded within the retention
// window. If it was not (or its prior record has expired), it is
// recorded now and Seen returns false.
func (c *RecentHashCache) Seen(hash model.Hash) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.cache.Get(hash); ok {
		if now.Sub(v.(time.Time)) < c.ttl {
			return true
		}
	}
	c.cache.Add(hash, now)
	return false
}

// Filter drops messages this cache has already seen, recording the
// survivors as seen. Used on the ingress path before messages reach
// the aggregator (those survivors are also what gets relayed to other
// peers), and by Node.Broadcast on this node's own messages.
func (c *RecentHashCache) Filter(proof model.FinalizationProof) model.FinalizationProof {
	survivors := make(model.FinalizationProof, 0, len(proof))
	for _, m := range proof {
		if c.Seen(m.ContentHash()) {
			continue
		}
		survivors = append(survivors, m)
	}
	return survivors
}
