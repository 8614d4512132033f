package resolver

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// query is the per-recursion state tracked across iterative steps.
// The client message, address and id are fixed at creation; everything
// else advances as referrals and CNAMEs come back.
type query struct {
	client     *dns.Msg
	clientAddr *net.UDPAddr
	clientID   uint16

	// CNAMEs traversed so far, in traversal order
	cnames []dns.RR

	// Suffix every acceptable response record must fall under
	activeZone string

	iid         uint16
	lastSent    time.Time
	lastRequest []byte
	lastServer  *net.UDPAddr
	attempts    int

	started time.Time
}

// effectiveTarget is the name the next iterative step asks for: the last
// CNAME target when a chain exists, else the original question name.
func (q *query) effectiveTarget() string {
	if n := len(q.cnames); n > 0 {
		return dns.CanonicalName(q.cnames[n-1].(*dns.CNAME).Target)
	}
	return dns.CanonicalName(q.client.Question[0].Name)
}

// queryTable maps outstanding iterative transaction ids to their query
// records. Retired ids suppress late duplicate responses; the retired
// set grows for the process lifetime, which the intended short-lived
// deployment accepts.
type queryTable struct {
	mu      sync.Mutex
	active  map[uint16]*query
	retired map[uint16]struct{}
}

func newQueryTable() *queryTable {
	return &queryTable{
		active:  make(map[uint16]*query),
		retired: make(map[uint16]struct{}),
	}
}

func (t *queryTable) insert(iid uint16, q *query) {
	t.mu.Lock()
	t.active[iid] = q
	t.mu.Unlock()
}

// take removes and returns the query registered under iid.
func (t *queryTable) take(iid uint16) (*query, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.active[iid]
	if ok {
		delete(t.active, iid)
	}
	return q, ok
}

func (t *queryTable) contains(iid uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[iid]
	return ok
}

// retire moves iid into the retired set. Any active entry under iid is
// dropped so an id is never both active and retired.
func (t *queryTable) retire(iid uint16) {
	t.mu.Lock()
	delete(t.active, iid)
	t.retired[iid] = struct{}{}
	t.mu.Unlock()
}

func (t *queryTable) isRetired(iid uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.retired[iid]
	return ok
}

// values snapshots the active queries for the timer sweep.
func (t *queryTable) values() []*query {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*query, 0, len(t.active))
	for _, q := range t.active {
		out = append(out, q)
	}
	return out
}

func (t *queryTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
