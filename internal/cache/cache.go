package cache

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dchest/siphash"
	"github.com/jmhodges/clock"
	"github.com/miekg/dns"

	"github.com/labdns/labdnsd/internal/metrics"
	"github.com/labdns/labdnsd/internal/random"
)

// Entry is a cached record plus its insertion time. The record's TTL
// defines expiry relative to insertion.
type Entry struct {
	RR       dns.RR
	Inserted time.Time

	// Collision guard: the hash key is not the identity
	name  string
	qtype uint16
}

// IsExpired reports whether the entry is past its TTL at time now.
func (e *Entry) IsExpired(now time.Time) bool {
	ttl := time.Duration(e.RR.Header().Ttl) * time.Second
	return now.Sub(e.Inserted) > ttl
}

// Cache maps (canonical owner name, type) to a single record. Inserting
// at an occupied key overwrites and refreshes the timestamp.
//
// The hash key is computed with a keyed SipHash so an attacker cannot
// precompute colliding query names. The resolver loop is the only writer;
// the lock exists for the stats API reader.
type Cache struct {
	mu      sync.RWMutex
	clk     clock.Clock
	k0, k1  uint64
	entries map[uint64]*Entry

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates an empty cache using clk for all expiry decisions.
func New(clk clock.Clock) *Cache {
	k0, k1 := random.SipHashKey()
	return &Cache{
		clk:     clk,
		k0:      k0,
		k1:      k1,
		entries: make(map[uint64]*Entry),
	}
}

func (c *Cache) key(name string, qtype uint16) (uint64, string) {
	canonical := dns.CanonicalName(name)
	buf := make([]byte, 0, len(canonical)+2)
	buf = append(buf, canonical...)
	buf = binary.BigEndian.AppendUint16(buf, qtype)
	return siphash.Hash(c.k0, c.k1, buf), canonical
}

// Put inserts rr at key (owner, type) with the current timestamp.
func (c *Cache) Put(rr dns.RR) {
	hdr := rr.Header()
	hash, canonical := c.key(hdr.Name, hdr.Rrtype)

	c.mu.Lock()
	c.entries[hash] = &Entry{
		RR:       rr,
		Inserted: c.clk.Now(),
		name:     canonical,
		qtype:    hdr.Rrtype,
	}
	c.mu.Unlock()
}

// Get returns the record at (name, type) if present and unexpired.
func (c *Cache) Get(name string, qtype uint16) (dns.RR, bool) {
	hash, canonical := c.key(name, qtype)

	c.mu.RLock()
	e, ok := c.entries[hash]
	c.mu.RUnlock()

	if !ok || e.name != canonical || e.qtype != qtype || e.IsExpired(c.clk.Now()) {
		c.misses.Add(1)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	c.hits.Add(1)
	metrics.CacheHits.Inc()
	return e.RR, true
}

// Sweep drops all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.clk.Now()

	c.mu.Lock()
	removed := 0
	for hash, e := range c.entries {
		if e.IsExpired(now) {
			delete(c.entries, hash)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(size))
	return removed
}

// Snapshot yields all unexpired records. Used to synthesise responses
// from cache.
func (c *Cache) Snapshot() []dns.RR {
	now := c.clk.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]dns.RR, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.IsExpired(now) {
			out = append(out, e.RR)
		}
	}
	return out
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats holds cache counters for the stats API.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// GetStats returns current cache statistics.
func (c *Cache) GetStats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Size:    c.Len(),
		HitRate: hitRate,
	}
}
