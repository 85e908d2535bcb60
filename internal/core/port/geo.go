package port

import "github.com/techsupport4/crm-auth/internal/core/domain"

// GeoResolver maps a client IP to a coarse location for audit enrichment.
// Resolution failures degrade to an unknown location, never to an error that
// blocks the request.
type GeoResolver interface {
	Resolve(ip string) domain.GeoLocation
}
