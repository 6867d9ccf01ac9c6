// Package hosts holds the live host registry of a scan session: the
// records decoded from the scanner output, keyed by address, and the
// routing of each record to a presentation bucket.
package hosts

import (
	"net/netip"
	"strings"
	"sync"
	"time"
)

// Record is the latest known status of one discovered host.
type Record struct {
	IP        string    `json:"ip"`
	Alive     bool      `json:"alive"`
	Hostname  Value     `json:"hostname"`
	MAC       Value     `json:"mac"`
	Vendor    Value     `json:"vendor"`
	Ports     Value     `json:"ports"`
	Latency   Value     `json:"latency"`
	Bucket    int       `json:"bucket"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Selection is the operator-focused host snapshot used by copy and ping
// actions in the presentation layer.
type Selection struct {
	IP       string `json:"ip"`
	Hostname Value  `json:"hostname"`
	MAC      Value  `json:"mac"`
	Ports    Value  `json:"ports"`
}

// CanonicalIP normalises the textual form of an address. Strings that do
// not parse as an address are only trimmed.
func CanonicalIP(s string) string {
	s = strings.TrimSpace(s)
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String()
	}
	return s
}

// Registry maps addresses to their latest record. Records are never
// removed within a session; Reset starts a new one.
type Registry struct {
	mu      sync.RWMutex
	router  *Router
	records map[string]*Record
	order   []string
	now     func() time.Time
}

// NewRegistry creates an empty registry with a single bucket.
func NewRegistry() *Registry {
	return &Registry{
		router:  NewRouter(nil),
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Reset drops every record and installs the bucket routing for the ranges
// of a new session.
func (r *Registry) Reset(ranges []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.router = NewRouter(ranges)
	r.records = make(map[string]*Record)
	r.order = nil
}

// Upsert inserts the record or overwrites every field of the existing one.
// It returns the stored copy and whether the address was new.
func (r *Registry) Upsert(rec Record) (Record, bool) {
	rec.IP = CanonicalIP(rec.IP)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec.Bucket = r.router.Route(rec.IP)
	rec.LastSeen = now

	if existing, ok := r.records[rec.IP]; ok {
		rec.FirstSeen = existing.FirstSeen
		*existing = rec
		return rec, false
	}

	rec.FirstSeen = now
	stored := rec
	r.records[rec.IP] = &stored
	r.order = append(r.order, rec.IP)
	return rec, true
}

// Get returns the record for an address.
func (r *Registry) Get(ip string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[CanonicalIP(ip)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Select returns the selection snapshot for a known address.
func (r *Registry) Select(ip string) (Selection, bool) {
	rec, ok := r.Get(ip)
	if !ok {
		return Selection{}, false
	}
	return Selection{
		IP:       rec.IP,
		Hostname: rec.Hostname,
		MAC:      rec.MAC,
		Ports:    rec.Ports,
	}, true
}

// Len returns the number of known hosts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns every record in discovery order.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.order))
	for _, ip := range r.order {
		out = append(out, *r.records[ip])
	}
	return out
}

// Bucket returns the records routed to one bucket, in discovery order.
func (r *Registry) Bucket(index int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, ip := range r.order {
		if rec := r.records[ip]; rec.Bucket == index {
			out = append(out, *rec)
		}
	}
	return out
}

// Buckets returns the number of buckets of the current session.
func (r *Registry) Buckets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.router.Buckets()
}

// Ranges returns the ranges of the current session.
func (r *Registry) Ranges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.router.Ranges()
}
