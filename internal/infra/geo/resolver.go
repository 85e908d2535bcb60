package geo

import (
	"net"

	"github.com/techsupport4/crm-auth/internal/core/domain"
	"github.com/techsupport4/crm-auth/internal/core/port"
)

// StaticResolver classifies addresses without an external database. Loopback
// and private ranges resolve to Localhost; everything else is Unknown until a
// real geo backend is plugged in.
type StaticResolver struct{}

// NewStaticResolver constructs the resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{}
}

// Resolve maps an IP string to a coarse location.
func (r *StaticResolver) Resolve(ip string) domain.GeoLocation {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return domain.GeoLocation{Country: "Unknown", Region: "Unknown", City: "Unknown"}
	}

	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return domain.GeoLocation{Country: "Localhost", Region: "Local", City: "Local"}
	}

	return domain.GeoLocation{Country: "Unknown", Region: "Unknown", City: "Unknown"}
}

var _ port.GeoResolver = (*StaticResolver)(nil)
