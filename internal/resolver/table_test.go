package resolver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientMsg(name string, qtype uint16, id uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.Id = id
	m.RecursionDesired = true
	return m
}

func TestTableInsertTake(t *testing.T) {
	tbl := newQueryTable()
	q := &query{client: clientMsg("example.com.", dns.TypeA, 1), activeZone: "."}

	tbl.insert(42, q)
	assert.True(t, tbl.contains(42))
	assert.Equal(t, 1, tbl.len())

	got, ok := tbl.take(42)
	require.True(t, ok)
	assert.Same(t, q, got)
	assert.False(t, tbl.contains(42), "take removes the entry")

	_, ok = tbl.take(42)
	assert.False(t, ok)
}

func TestTableRetire(t *testing.T) {
	tbl := newQueryTable()
	tbl.insert(7, &query{})

	tbl.retire(7)
	assert.False(t, tbl.contains(7), "an id is never both active and retired")
	assert.True(t, tbl.isRetired(7))
	assert.Equal(t, 0, tbl.len())
}

func TestTableValues(t *testing.T) {
	tbl := newQueryTable()
	tbl.insert(1, &query{attempts: 1})
	tbl.insert(2, &query{attempts: 2})

	vals := tbl.values()
	assert.Len(t, vals, 2)
}

func TestEffectiveTarget(t *testing.T) {
	q := &query{client: clientMsg("a.tld.", dns.TypeA, 1)}
	assert.Equal(t, "a.tld.", q.effectiveTarget())

	cname, err := dns.NewRR("a.tld. 300 IN CNAME b.tld.")
	require.NoError(t, err)
	q.cnames = append(q.cnames, cname)
	assert.Equal(t, "b.tld.", q.effectiveTarget())

	second, err := dns.NewRR("b.tld. 300 IN CNAME C.TLD.")
	require.NoError(t, err)
	q.cnames = append(q.cnames, second)
	assert.Equal(t, "c.tld.", q.effectiveTarget(), "last chain target wins, canonicalised")
}
