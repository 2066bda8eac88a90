// Package egress implements the capability-style socket address check
// consulted by the WASI sockets host before a guest may bind or connect.
package egress

import "net/netip"

// Purpose tags the kind of socket operation being checked.
type Purpose uint8

const (
	TCPBind Purpose = iota
	UDPBind
	TCPConnect
	UDPConnect
	NameLookup
)

func (p Purpose) String() string {
	switch p {
	case TCPBind:
		return "tcp-bind"
	case UDPBind:
		return "udp-bind"
	case TCPConnect:
		return "tcp-connect"
	case UDPConnect:
		return "udp-connect"
	case NameLookup:
		return "name-lookup"
	default:
		return "unknown"
	}
}

// Checker decides whether a guest may proceed with a socket operation
// against host. A single-method capability, captured by the WASI sockets
// host at construction time.
type Checker interface {
	Allow(host string, purpose Purpose) bool
}

// Policy is the normative check from spec §4.3: binds are restricted to a
// single permitted IPv4 address, everything else is allowed.
type Policy struct {
	permitted netip.Addr
}

// New builds a Policy that permits binds only to permitted.
func New(permitted netip.Addr) *Policy {
	return &Policy{permitted: permitted.Unmap()}
}

// Allow implements Checker.
func (p *Policy) Allow(host string, purpose Purpose) bool {
	switch purpose {
	case TCPBind, UDPBind:
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return false
		}
		addr = addr.Unmap()
		if !addr.Is4() {
			return false
		}
		return addr == p.permitted
	default:
		return true
	}
}

// AllowAll is the permissive Checker used when a Lambda's WASI
// configuration disables the egress check (spec §3 "egress check
// enabled: yes/no").
type AllowAll struct{}

func (AllowAll) Allow(string, Purpose) bool { return true }
