package domain

import "time"

// ResourceKind is the inventory collection a correlation key belongs to.
type ResourceKind string

const (
	ResourceNone    ResourceKind = ""
	ResourceHost    ResourceKind = "HostnameService"
	ResourcePort    ResourceKind = "PortService"
	ResourceDomain  ResourceKind = "DomainService"
	ResourceWebsite ResourceKind = "WebsiteService"
	ResourceIPRange ResourceKind = "IpRangeService"
)

// Resource is an inventory item as seen by the engine.
type Resource struct {
	Kind           ResourceKind
	ProjectID      string
	CorrelationKey string

	DomainName string
	IP         string
	Port       int
	Protocol   string
	Mask       int
	Path       string
	SSL        bool

	// Domains resolved to a host.
	Domains []string
	// Service detection on a port.
	Service string
	Product string
	Version string
	// Endpoints discovered on a website.
	Endpoints []string

	Tags      []string
	Blocked   bool
	CreatedAt time.Time
}
