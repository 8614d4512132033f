package resolver

import (
	"github.com/miekg/dns"
)

// scrub removes out-of-bailiwick records from a response in place. A
// record survives only when its owner name equals zone or falls under
// it, compared case-insensitively. A referral from a .com server has no
// business delivering records for evil.org.
func scrub(m *dns.Msg, zone string, drop func(section string, rr dns.RR)) {
	zone = dns.CanonicalName(zone)
	m.Answer = filterInBailiwick(m.Answer, zone, "answer", drop)
	m.Ns = filterInBailiwick(m.Ns, zone, "authority", drop)
	m.Extra = filterInBailiwick(m.Extra, zone, "additional", drop)
}

func filterInBailiwick(rrs []dns.RR, zone, section string, drop func(string, dns.RR)) []dns.RR {
	if len(rrs) == 0 {
		return rrs
	}
	kept := make([]dns.RR, 0, len(rrs))
	for _, rr := range rrs {
		if dns.IsSubDomain(zone, rr.Header().Name) {
			kept = append(kept, rr)
			continue
		}
		if drop != nil {
			drop(section, rr)
		}
	}
	return kept
}
