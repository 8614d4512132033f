// Package resolver drives the hybrid authoritative/recursive DNS server:
// one UDP socket, one goroutine, a query table correlating iterative
// transactions, and a timer sweep for retransmission and failure.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/jmhodges/clock"
	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/labdns/labdnsd/internal/cache"
	"github.com/labdns/labdnsd/internal/eventbus"
	"github.com/labdns/labdnsd/internal/metrics"
	"github.com/labdns/labdnsd/internal/qlog"
	"github.com/labdns/labdnsd/internal/random"
	"github.com/labdns/labdnsd/internal/wire"
	"github.com/labdns/labdnsd/internal/zone"
)

// Config holds resolver configuration.
type Config struct {
	// UDP port to bind; 0 lets the OS choose
	Port int

	// Root name server seeding every recursion
	RootAddr *net.UDPAddr

	// Destination port for iterative queries
	IterativePort int

	// Time between retransmissions of an unanswered iterative request
	RetryInterval time.Duration

	// A step fails once attempts exceed this budget
	MaxAttempts int

	// Upper bound on one socket poll, keeps the timer sweep prompt
	PollInterval time.Duration
}

// Deps are the resolver's collaborators, injected by main.
type Deps struct {
	Zones  *zone.Store
	Cache  *cache.Cache
	Clock  clock.Clock
	Logger *slog.Logger
	Trace  *qlog.Sink
	Bus    *eventbus.Bus
}

// Server owns the socket and all recursion state.
type Server struct {
	cfg  Config
	deps Deps

	conn  *net.UDPConn
	table *queryTable

	// throttles malformed/unknown-id diagnostics so garbage floods
	// cannot drown stderr
	logLimit *rate.Limiter
}

// New binds the UDP socket. A bind failure is fatal at startup.
func New(cfg Config, deps Deps) (*Server, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", cfg.Port, err)
	}
	return &Server{
		cfg:      cfg,
		deps:     deps,
		conn:     conn,
		table:    newQueryTable(),
		logLimit: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}, nil
}

// Addr returns the bound socket address.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run polls the socket until ctx is cancelled. Every pass handles at
// most one datagram, then sweeps timers.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, wire.MaxMessageSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PollInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		switch {
		case err == nil:
			s.handleDatagram(buf[:n], addr)
		case errors.Is(err, os.ErrDeadlineExceeded):
			// poll tick, fall through to the sweep
		case errors.Is(err, net.ErrClosed):
			return nil
		default:
			return fmt.Errorf("read udp: %w", err)
		}

		s.sweep()
	}
}

// Close releases the socket; a blocked Run returns.
func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) handleDatagram(pkt []byte, addr *net.UDPAddr) {
	hdr, err := wire.SniffHeader(pkt)
	if err != nil {
		s.dropMalformed(addr, err)
		return
	}
	if hdr.Opcode != uint8(dns.OpcodeQuery) {
		// non-standard opcodes yield no response
		if s.logLimit.Allow() {
			s.deps.Logger.Warn("ignoring non-query opcode", "opcode", hdr.Opcode, "from", addr)
		}
		return
	}

	m, err := wire.Unpack(pkt)
	if err != nil {
		s.dropMalformed(addr, err)
		return
	}

	if m.Response {
		s.handleResponse(m)
		return
	}
	s.handleRequest(m, addr)
}

func (s *Server) dropMalformed(addr *net.UDPAddr, err error) {
	metrics.Malformed.Inc()
	if s.logLimit.Allow() {
		s.deps.Logger.Warn("dropping malformed datagram", "from", addr, "error", err)
	}
}

// handleRequest classifies a client request: authoritative, cache hit,
// or recursive.
func (s *Server) handleRequest(m *dns.Msg, addr *net.UDPAddr) {
	if len(m.Question) != 1 {
		s.dropMalformed(addr, fmt.Errorf("%w: %d questions", wire.ErrMalformedMessage, len(m.Question)))
		return
	}

	s.deps.Cache.Sweep()

	question := m.Question[0]
	qname := dns.CanonicalName(question.Name)

	switch {
	case s.deps.Zones.Contains(qname):
		metrics.Queries.WithLabelValues("authoritative").Inc()
		s.answerAuthoritative(m, addr)

	case s.cacheHit(qname, question.Qtype):
		metrics.Queries.WithLabelValues("cache").Inc()
		s.answerFromCache(m, addr)

	default:
		metrics.Queries.WithLabelValues("recursive").Inc()
		if !m.RecursionDesired {
			s.deps.Logger.Info("recursion disabled on request for non-local name", "qname", qname, "from", addr)
			s.replyServfail(m, addr)
			s.publish(m, "recursive", "servfail", 0)
			return
		}
		s.startRecursion(m, addr)
	}
}

func (s *Server) cacheHit(qname string, qtype uint16) bool {
	_, ok := s.deps.Cache.Get(qname, qtype)
	return ok
}

func (s *Server) answerAuthoritative(m *dns.Msg, addr *net.UDPAddr) {
	reply := compose(m, s.deps.Zones.AllRecords(), true, nil)
	outcome := "answer"
	if len(reply.Answer) == 0 {
		reply.Rcode = dns.RcodeNameError
		outcome = "nxdomain"
	}
	s.send(reply, addr)
	metrics.Replies.WithLabelValues(outcome).Inc()
	s.publish(m, "authoritative", outcome, 0)
}

func (s *Server) answerFromCache(m *dns.Msg, addr *net.UDPAddr) {
	reply := compose(m, s.deps.Cache.Snapshot(), false, nil)
	s.send(reply, addr)
	metrics.Replies.WithLabelValues("answer").Inc()
	s.publish(m, "cache", "answer", 0)
}

// startRecursion creates the query record and sends the first iterative
// step to the configured root.
func (s *Server) startRecursion(m *dns.Msg, addr *net.UDPAddr) {
	question := m.Question[0]
	q := &query{
		client:     m,
		clientAddr: addr,
		clientID:   m.Id,
		activeZone: ".",
		started:    s.deps.Clock.Now(),
	}
	s.deps.Trace.Printf(q.clientID, "recursive query for %s %s from %s",
		dns.CanonicalName(question.Name), dns.TypeToString[question.Qtype], addr)

	s.sendIterative(q, q.effectiveTarget(), question.Qtype, s.cfg.RootAddr)
}

// sendIterative starts a fresh iterative step: new transaction id, rd=0,
// one question, attempt counter reset to this first send.
func (s *Server) sendIterative(q *query, name string, qtype uint16, dest *net.UDPAddr) {
	iid := s.newTransactionID()

	req := new(dns.Msg)
	req.Id = iid
	req.RecursionDesired = false
	req.Question = []dns.Question{{
		Name:   dns.Fqdn(name),
		Qtype:  qtype,
		Qclass: dns.ClassINET,
	}}

	pkt, err := wire.Pack(req)
	if err != nil {
		s.deps.Logger.Error("pack iterative request", "error", err)
		s.failQuery(q)
		return
	}

	q.iid = iid
	q.lastRequest = pkt
	q.lastServer = dest
	q.lastSent = s.deps.Clock.Now()
	q.attempts = 1
	s.table.insert(iid, q)

	if _, err := s.conn.WriteToUDP(pkt, dest); err != nil {
		s.deps.Logger.Warn("send iterative request", "dest", dest, "error", err)
	}
	metrics.IterativeDatagrams.Inc()
	metrics.OutstandingQueries.Set(float64(s.table.len()))

	s.deps.Trace.Printf(q.clientID, "sent %s %s to %s (id %d, attempt 1)",
		dns.Fqdn(name), dns.TypeToString[qtype], dest, iid)
}

// newTransactionID draws ids until one collides with neither an active
// nor a retired transaction.
func (s *Server) newTransactionID() uint16 {
	for {
		iid := random.TransactionID()
		if !s.table.contains(iid) && !s.table.isRetired(iid) {
			return iid
		}
	}
}

// handleResponse advances the recursion a response belongs to.
func (s *Server) handleResponse(m *dns.Msg) {
	if s.table.isRetired(m.Id) {
		return // late duplicate, already advanced past it
	}

	q, ok := s.table.take(m.Id)
	if !ok {
		metrics.UnknownIDs.Inc()
		if s.logLimit.Allow() {
			s.deps.Logger.Warn("response with unknown transaction id", "id", m.Id)
		}
		return
	}

	scrub(m, q.activeZone, func(section string, rr dns.RR) {
		s.deps.Trace.Printf(q.clientID, "dropped out-of-bailiwick %s record: %s", section, rr)
	})
	s.absorb(m)
	s.table.retire(m.Id)
	metrics.OutstandingQueries.Set(float64(s.table.len()))

	qtype := q.client.Question[0].Qtype

	switch {
	case m.Rcode == dns.RcodeServerFailure:
		s.deps.Trace.Printf(q.clientID, "upstream returned SERVFAIL")
		s.failQuery(q)

	case len(m.Answer) == 0 && len(m.Ns) == 0 && len(m.Extra) == 0:
		s.finish(q, m.Rcode)

	case m.Authoritative:
		switch {
		case answerHasType(m, qtype):
			s.finish(q, dns.RcodeSuccess)
		case onlyCNAMEs(m.Answer):
			s.chase(q, m)
		default:
			s.deps.Trace.Printf(q.clientID, "authoritative answer without usable records")
			s.failQuery(q)
		}

	case hasNS(m.Ns):
		s.advance(q, m)

	default:
		s.deps.Trace.Printf(q.clientID, "unusable response, giving up")
		s.failQuery(q)
	}
}

// absorb caches every record of a bailiwick-filtered response.
func (s *Server) absorb(m *dns.Msg) {
	for _, section := range [][]dns.RR{m.Answer, m.Ns, m.Extra} {
		for _, rr := range section {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue // pseudo-record, not cacheable
			}
			s.deps.Cache.Put(rr)
		}
	}
}

// chase restarts resolution at the root with the CNAME target as the
// new question name.
func (s *Server) chase(q *query, m *dns.Msg) {
	var target string
	for _, rr := range m.Answer {
		cname, ok := rr.(*dns.CNAME)
		if !ok {
			continue
		}
		if target == "" {
			target = dns.CanonicalName(cname.Target)
		}
		q.cnames = append(q.cnames, rr)
	}

	q.activeZone = "."
	s.deps.Trace.Printf(q.clientID, "cname chase: restarting at root for %s", target)
	s.sendIterative(q, target, q.client.Question[0].Qtype, s.cfg.RootAddr)
}

// advance follows a referral: pick the first glue A matching an NS
// target, narrow the active zone to that NS owner, query the glue.
func (s *Server) advance(q *query, m *dns.Msg) {
	nextZone, server, ok := selectReferral(m, s.cfg.IterativePort)
	if !ok {
		s.deps.Trace.Printf(q.clientID, "referral without usable glue")
		s.failQuery(q)
		return
	}

	q.activeZone = nextZone
	s.deps.Trace.Printf(q.clientID, "referral: advancing to zone %s via %s", nextZone, server)
	s.sendIterative(q, q.effectiveTarget(), q.client.Question[0].Qtype, server)
}

// selectReferral returns the zone and glue address of the first
// additional A record owned by an NS target from the authority section.
func selectReferral(m *dns.Msg, port int) (string, *net.UDPAddr, bool) {
	for _, extra := range m.Extra {
		a, ok := extra.(*dns.A)
		if !ok {
			continue
		}
		owner := dns.CanonicalName(a.Hdr.Name)
		for _, auth := range m.Ns {
			ns, ok := auth.(*dns.NS)
			if !ok {
				continue
			}
			if dns.CanonicalName(ns.Ns) == owner {
				addr := &net.UDPAddr{IP: a.A, Port: port}
				return dns.CanonicalName(ns.Hdr.Name), addr, true
			}
		}
	}
	return "", nil, false
}

// finish sends the final reply for a recursion, composed from the cache
// the response records were just absorbed into.
func (s *Server) finish(q *query, rcode int) {
	reply := compose(q.client, s.deps.Cache.Snapshot(), false, q.cnames)
	if rcode != dns.RcodeSuccess {
		reply.Rcode = rcode
	}
	s.send(reply, q.clientAddr)

	outcome := "answer"
	switch {
	case reply.Rcode == dns.RcodeNameError:
		outcome = "nxdomain"
	case reply.Rcode != dns.RcodeSuccess:
		outcome = "servfail"
	}
	metrics.Replies.WithLabelValues(outcome).Inc()

	s.deps.Trace.Printf(q.clientID, "final reply: %d answers, rcode %s",
		len(reply.Answer), dns.RcodeToString[reply.Rcode])
	s.deps.Trace.EndQuery(q.clientID)
	s.publish(q.client, "recursive", outcome, s.deps.Clock.Now().Sub(q.started))
}

// failQuery sends SERVFAIL for an in-flight recursion and ends it.
func (s *Server) failQuery(q *query) {
	s.replyServfail(q.client, q.clientAddr)
	s.deps.Trace.Printf(q.clientID, "query failed, SERVFAIL sent")
	s.deps.Trace.EndQuery(q.clientID)
	s.publish(q.client, "recursive", "servfail", s.deps.Clock.Now().Sub(q.started))
}

func (s *Server) replyServfail(req *dns.Msg, addr *net.UDPAddr) {
	reply := new(dns.Msg)
	reply.SetRcode(req, dns.RcodeServerFailure)
	s.send(reply, addr)
	metrics.Replies.WithLabelValues("servfail").Inc()
}

func (s *Server) send(m *dns.Msg, addr *net.UDPAddr) {
	pkt, err := wire.Pack(m)
	if err != nil {
		s.deps.Logger.Error("pack reply", "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(pkt, addr); err != nil {
		s.deps.Logger.Warn("send reply", "to", addr, "error", err)
	}
}

// sweep retransmits aged iterative requests and fails queries whose
// attempt budget is spent. Retransmission reuses the packed request so
// the in-flight transaction id stays valid.
func (s *Server) sweep() {
	now := s.deps.Clock.Now()

	for _, q := range s.table.values() {
		if now.Sub(q.lastSent) <= s.cfg.RetryInterval {
			continue
		}

		if q.attempts <= s.cfg.MaxAttempts {
			if _, err := s.conn.WriteToUDP(q.lastRequest, q.lastServer); err != nil {
				s.deps.Logger.Warn("retransmit", "dest", q.lastServer, "error", err)
			}
			q.lastSent = now
			q.attempts++
			metrics.Retransmits.Inc()
			metrics.IterativeDatagrams.Inc()
			s.deps.Trace.Printf(q.clientID, "retransmit to %s (id %d, attempt %d)",
				q.lastServer, q.iid, q.attempts)
			continue
		}

		s.deps.Trace.Printf(q.clientID, "timeout after %d attempts", q.attempts)
		s.table.retire(q.iid)
		s.failQuery(q)
	}

	metrics.OutstandingQueries.Set(float64(s.table.len()))
}

func (s *Server) publish(req *dns.Msg, path, outcome string, d time.Duration) {
	question := req.Question[0]
	s.deps.Bus.Publish(eventbus.TopicQuery, eventbus.QueryEvent{
		ClientID: req.Id,
		Question: dns.CanonicalName(question.Name),
		Qtype:    dns.TypeToString[question.Qtype],
		Path:     path,
		Outcome:  outcome,
		Duration: d,
	})
}

func answerHasType(m *dns.Msg, qtype uint16) bool {
	for _, rr := range m.Answer {
		if rr.Header().Rrtype == qtype {
			return true
		}
	}
	return false
}

func onlyCNAMEs(answers []dns.RR) bool {
	if len(answers) == 0 {
		return false
	}
	for _, rr := range answers {
		if rr.Header().Rrtype != dns.TypeCNAME {
			return false
		}
	}
	return true
}

func hasNS(authority []dns.RR) bool {
	for _, rr := range authority {
		if rr.Header().Rrtype == dns.TypeNS {
			return true
		}
	}
	return false
}
