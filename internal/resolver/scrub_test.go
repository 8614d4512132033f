package resolver

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rr(t *testing.T, s string) dns.RR {
	t.Helper()
	r, err := dns.NewRR(s)
	require.NoError(t, err)
	return r
}

func TestScrubDropsOutOfZone(t *testing.T) {
	m := new(dns.Msg)
	m.Answer = []dns.RR{rr(t, "host.example.com. 300 IN A 10.0.0.1")}
	m.Ns = []dns.RR{
		rr(t, "example.com. 300 IN NS ns1.example.com."),
		rr(t, "evil.org. 300 IN NS ns.evil.org."),
	}
	m.Extra = []dns.RR{
		rr(t, "ns1.example.com. 300 IN A 10.0.0.53"),
		rr(t, "ns.evil.org. 300 IN A 10.6.6.6"),
	}

	var dropped []string
	scrub(m, "example.com.", func(section string, rr dns.RR) {
		dropped = append(dropped, section+":"+rr.Header().Name)
	})

	assert.Len(t, m.Answer, 1)
	require.Len(t, m.Ns, 1)
	assert.Equal(t, "example.com.", m.Ns[0].Header().Name)
	require.Len(t, m.Extra, 1)
	assert.Equal(t, "ns1.example.com.", m.Extra[0].Header().Name)

	assert.ElementsMatch(t, []string{"authority:evil.org.", "additional:ns.evil.org."}, dropped)
}

func TestScrubZoneItselfSurvives(t *testing.T) {
	m := new(dns.Msg)
	m.Answer = []dns.RR{rr(t, "example.com. 300 IN A 10.0.0.1")}
	scrub(m, "example.com.", nil)
	assert.Len(t, m.Answer, 1, "the zone apex itself is in bailiwick")
}

func TestScrubCaseInsensitive(t *testing.T) {
	m := new(dns.Msg)
	m.Answer = []dns.RR{rr(t, "HOST.Example.COM. 300 IN A 10.0.0.1")}
	scrub(m, "example.com.", nil)
	assert.Len(t, m.Answer, 1)
}

func TestScrubRootKeepsEverything(t *testing.T) {
	m := new(dns.Msg)
	m.Ns = []dns.RR{
		rr(t, "tld. 300 IN NS a.tld."),
		rr(t, "other. 300 IN NS b.other."),
	}
	scrub(m, ".", nil)
	assert.Len(t, m.Ns, 2, "everything is under the root zone")
}

func TestScrubSuffixNeedsLabelBoundary(t *testing.T) {
	m := new(dns.Msg)
	m.Answer = []dns.RR{rr(t, "notexample.com. 300 IN A 10.0.0.1")}
	scrub(m, "example.com.", nil)
	assert.Empty(t, m.Answer, "string suffix without a label boundary is out of zone")
}
