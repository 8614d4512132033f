package resolver

import (
	"strings"

	"github.com/miekg/dns"
)

// compose builds a reply to req by selecting records from pool.
//
// Answers: records at the question name with the question type. In
// authoritative mode a CNAME at the question name is also an answer,
// along with every pool record at its target. A non-empty chain (the
// CNAMEs a recursion traversed) is prepended and shifts the answer
// lookup to the last chain target.
//
// Authority: unless the question type is NS, the question name is walked
// suffix by suffix and the first suffix holding NS records in the pool
// contributes them (closest enclosing delegation). The empty name never
// contributes.
//
// Additional: glue A records for NS answers, and for CNAME answers when
// not authoritative.
func compose(req *dns.Msg, pool []dns.RR, authoritative bool, chain []dns.RR) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = authoritative
	reply.RecursionAvailable = true

	question := req.Question[0]
	qname := dns.CanonicalName(question.Name)
	qtype := question.Qtype

	seen := make(map[string]struct{})
	addAnswer := func(rr dns.RR) {
		key := rr.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		reply.Answer = append(reply.Answer, rr)
	}

	target := qname
	for _, rr := range chain {
		addAnswer(rr)
	}
	if n := len(chain); n > 0 {
		target = dns.CanonicalName(chain[n-1].(*dns.CNAME).Target)
	}

	for _, rr := range pool {
		if ownerIs(rr, target) && rr.Header().Rrtype == qtype {
			addAnswer(rr)
		}
	}

	if authoritative {
		for _, rr := range pool {
			cname, ok := rr.(*dns.CNAME)
			if !ok || !ownerIs(rr, qname) {
				continue
			}
			addAnswer(rr)
			ct := dns.CanonicalName(cname.Target)
			for _, candidate := range pool {
				if ownerIs(candidate, ct) {
					addAnswer(candidate)
				}
			}
		}
	}

	if qtype != dns.TypeNS {
		reply.Ns = closestDelegation(qname, pool)
	}

	reply.Extra = glueFor(reply.Answer, pool, authoritative)
	return reply
}

// closestDelegation walks qname's suffixes outward and returns the NS
// records at the first suffix that has any.
func closestDelegation(qname string, pool []dns.RR) []dns.RR {
	labels := dns.SplitDomainName(qname)
	for i := range labels {
		suffix := dns.Fqdn(strings.Join(labels[i:], "."))
		var found []dns.RR
		for _, rr := range pool {
			if rr.Header().Rrtype == dns.TypeNS && ownerIs(rr, suffix) {
				found = append(found, rr)
			}
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

func glueFor(answers []dns.RR, pool []dns.RR, authoritative bool) []dns.RR {
	var extra []dns.RR
	seen := make(map[string]struct{})

	for _, rr := range answers {
		var target string
		switch v := rr.(type) {
		case *dns.NS:
			target = v.Ns
		case *dns.CNAME:
			if authoritative {
				continue
			}
			target = v.Target
		default:
			continue
		}
		target = dns.CanonicalName(target)
		for _, candidate := range pool {
			if candidate.Header().Rrtype != dns.TypeA || !ownerIs(candidate, target) {
				continue
			}
			key := candidate.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			extra = append(extra, candidate)
		}
	}
	return extra
}

func ownerIs(rr dns.RR, canonical string) bool {
	return dns.CanonicalName(rr.Header().Name) == canonical
}
