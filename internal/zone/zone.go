package zone

import (
	"fmt"
	"os"
	"sort"

	"github.com/miekg/dns"
)

const defaultTTL = 3600

// Store holds the authoritative records loaded from a master file.
// It is immutable after Load.
type Store struct {
	path string

	// Records organized by owner name
	// Map: owner name -> record type -> []RR
	records map[string]map[uint16][]dns.RR

	names []string
	all   []dns.RR
}

// Load reads and parses a master-format zone file. Any read or parse
// failure is fatal: the server cannot start without its zone.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone %s: %w", path, err)
	}
	defer f.Close()

	s := &Store{
		path:    path,
		records: make(map[string]map[uint16][]dns.RR),
	}

	zp := dns.NewZoneParser(f, "", path)
	zp.SetDefaultTTL(defaultTTL)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		s.add(rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parse zone %s: %w", path, err)
	}
	if len(s.all) == 0 {
		return nil, fmt.Errorf("zone %s: no records", path)
	}

	sort.Strings(s.names)
	return s, nil
}

func (s *Store) add(rr dns.RR) {
	owner := dns.CanonicalName(rr.Header().Name)

	if s.records[owner] == nil {
		s.records[owner] = make(map[uint16][]dns.RR)
		s.names = append(s.names, owner)
	}
	rrtype := rr.Header().Rrtype
	s.records[owner][rrtype] = append(s.records[owner][rrtype], rr)
	s.all = append(s.all, rr)
}

// LocalNames returns the set of owner names in the zone.
func (s *Store) LocalNames() []string {
	return s.names
}

// AllRecords returns every loaded record.
func (s *Store) AllRecords() []dns.RR {
	return s.all
}

// Lookup returns the records at (owner, type), nil when absent.
func (s *Store) Lookup(owner string, rrtype uint16) []dns.RR {
	typeMap, ok := s.records[dns.CanonicalName(owner)]
	if !ok {
		return nil
	}
	return typeMap[rrtype]
}

// Contains reports whether qname is equal to, or a subdomain of, any
// owner name in the zone. The server answers such names authoritatively.
func (s *Store) Contains(qname string) bool {
	qname = dns.CanonicalName(qname)
	for _, name := range s.names {
		if dns.IsSubDomain(name, qname) {
			return true
		}
	}
	return false
}

// Validate reports structural problems in the loaded zone. Problems are
// diagnostics, not load failures: a lab zone with a dangling NS target
// still serves its other records.
func (s *Store) Validate() []error {
	var problems []error

	for owner, typeMap := range s.records {
		if cnames, hasCNAME := typeMap[dns.TypeCNAME]; hasCNAME {
			if len(typeMap) > 1 {
				problems = append(problems, fmt.Errorf("CNAME record at %s coexists with other types", owner))
			}
			if len(cnames) > 1 {
				problems = append(problems, fmt.Errorf("multiple CNAME records at %s", owner))
			}
		}

		for _, rr := range typeMap[dns.TypeNS] {
			target := dns.CanonicalName(rr.(*dns.NS).Ns)
			if !s.Contains(target) {
				continue // out-of-zone nameserver, glue lives elsewhere
			}
			if len(s.Lookup(target, dns.TypeA)) == 0 && len(s.Lookup(target, dns.TypeAAAA)) == 0 {
				problems = append(problems, fmt.Errorf("nameserver %s in zone but missing glue records", target))
			}
		}
	}

	return problems
}

// Stats returns zone statistics for the stats API.
type Stats struct {
	Path    string `json:"path"`
	Owners  int    `json:"owners"`
	Records int    `json:"records"`
}

func (s *Store) GetStats() Stats {
	return Stats{
		Path:    s.path,
		Owners:  len(s.names),
		Records: len(s.all),
	}
}
