package hosts

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/censys/cidranger"
)

// bucketEntry is a cidranger entry remembering which configured range
// produced it.
type bucketEntry struct {
	network net.IPNet
	bucket  int
}

// Network implements cidranger.RangerEntry.
func (e bucketEntry) Network() net.IPNet {
	return e.network
}

// span is an inclusive "first-last" address range.
type span struct {
	first  netip.Addr
	last   netip.Addr
	bucket int
}

// prefixRule matches addresses by literal text prefix.
type prefixRule struct {
	prefix string
	bucket int
}

// Router assigns addresses to presentation buckets. The first configured
// range that matches wins; unmatched addresses go to bucket 0.
type Router struct {
	ranges   []string
	ranger   cidranger.Ranger
	spans    []span
	prefixes []prefixRule
}

// NewRouter builds a router for the configured ranges, in order.
func NewRouter(ranges []string) *Router {
	r := &Router{
		ranges: append([]string(nil), ranges...),
		ranger: cidranger.NewPCTrieRanger(),
	}

	seen := make(map[string]bool)
	for i, raw := range ranges {
		spec := strings.TrimSpace(raw)
		if spec == "" {
			continue
		}
		if network, ok := parseNetwork(spec); ok {
			// A repeated network keeps its first bucket.
			key := network.String()
			if seen[key] {
				continue
			}
			if err := r.ranger.Insert(bucketEntry{network: network, bucket: i}); err == nil {
				seen[key] = true
				continue
			}
		}
		if first, last, ok := parseSpan(spec); ok {
			r.spans = append(r.spans, span{first: first, last: last, bucket: i})
			continue
		}
		r.prefixes = append(r.prefixes, prefixRule{prefix: spec, bucket: i})
	}
	return r
}

// Ranges returns the configured ranges the router was built from.
func (r *Router) Ranges() []string {
	return append([]string(nil), r.ranges...)
}

// Buckets returns the number of presentation buckets, at least one.
func (r *Router) Buckets() int {
	if len(r.ranges) == 0 {
		return 1
	}
	return len(r.ranges)
}

// Route returns the bucket index for an address.
func (r *Router) Route(ip string) int {
	best := -1
	better := func(bucket int) {
		if best < 0 || bucket < best {
			best = bucket
		}
	}

	if parsed := net.ParseIP(ip); parsed != nil {
		if entries, err := r.ranger.ContainingNetworks(parsed); err == nil {
			for _, entry := range entries {
				if be, ok := entry.(bucketEntry); ok {
					better(be.bucket)
				}
			}
		}
	}
	if addr, err := netip.ParseAddr(ip); err == nil {
		addr = addr.Unmap()
		for _, s := range r.spans {
			if addr.Compare(s.first) >= 0 && addr.Compare(s.last) <= 0 {
				better(s.bucket)
			}
		}
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(ip, p.prefix) {
			better(p.bucket)
		}
	}

	if best < 0 {
		return 0
	}
	return best
}

// parseNetwork accepts CIDR notation or a single address.
func parseNetwork(spec string) (net.IPNet, bool) {
	if prefix, err := netip.ParsePrefix(spec); err == nil {
		prefix = prefix.Masked()
		return net.IPNet{
			IP:   net.IP(prefix.Addr().AsSlice()),
			Mask: net.CIDRMask(prefix.Bits(), prefix.Addr().BitLen()),
		}, true
	}
	if addr, err := netip.ParseAddr(spec); err == nil {
		addr = addr.Unmap()
		bits := addr.BitLen()
		return net.IPNet{
			IP:   net.IP(addr.AsSlice()),
			Mask: net.CIDRMask(bits, bits),
		}, true
	}
	return net.IPNet{}, false
}

// parseSpan accepts "10.0.0.1-10.0.0.50" and the short "10.0.0.1-50" form.
func parseSpan(spec string) (netip.Addr, netip.Addr, bool) {
	left, right, found := strings.Cut(spec, "-")
	if !found {
		return netip.Addr{}, netip.Addr{}, false
	}
	first, err := netip.ParseAddr(strings.TrimSpace(left))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, false
	}
	first = first.Unmap()
	right = strings.TrimSpace(right)

	last, err := netip.ParseAddr(right)
	if err != nil {
		octet, convErr := strconv.Atoi(right)
		if convErr != nil || octet < 0 || octet > 255 || !first.Is4() {
			return netip.Addr{}, netip.Addr{}, false
		}
		b := first.As4()
		b[3] = byte(octet)
		last = netip.AddrFrom4(b)
	}
	last = last.Unmap()
	if first.BitLen() != last.BitLen() || last.Less(first) {
		return netip.Addr{}, netip.Addr{}, false
	}
	return first, last, true
}
