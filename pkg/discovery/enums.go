// Package discovery advertises and finds PostMessage developer connection
// endpoints over DNS-SD (mDNS).
//
// A listening endpoint registers a _pebblemsg._tcp service whose TXT record
// carries the protocol version range, the receive chunk size and the role
// of the advertiser. A dialing endpoint browses for it and connects to the
// preferred address.
package discovery

// Role is the part an endpoint plays in the handshake.
type Role int

const (
	// RoleUnknown is an unset or unparsable role.
	RoleUnknown Role = iota

	// RoleWatch waits for the peer to initiate the reset handshake.
	RoleWatch

	// RolePhone initiates the reset handshake on connect.
	RolePhone
)

// String returns the TXT value for the role.
func (r Role) String() string {
	switch r {
	case RoleWatch:
		return "watch"
	case RolePhone:
		return "phone"
	default:
		return "unknown"
	}
}

// IsValid returns true for watch and phone.
func (r Role) IsValid() bool {
	return r == RoleWatch || r == RolePhone
}

// ParseRole parses a TXT role value.
func ParseRole(s string) Role {
	switch s {
	case "watch":
		return RoleWatch
	case "phone":
		return RolePhone
	default:
		return RoleUnknown
	}
}

// DNS-SD names.
const (
	// ServiceType is the DNS-SD service type of a developer connection.
	ServiceType = "_pebblemsg._tcp"

	// DefaultDomain is the default mDNS domain.
	DefaultDomain = "local."
)
