package inventory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/domain"
)

// upsert returns the stored resource for r's key, creating it (and its
// project) when missing. Callers hold s.mu.
func (s *Store) upsert(r domain.Resource) *domain.Resource {
	key := keyFor(r)
	if existing, ok := s.resources[key]; ok {
		return existing
	}
	r.CorrelationKey = key
	r.CreatedAt = s.clock()
	s.resources[key] = &r
	s.projects[r.ProjectID] = true
	return &r
}

// AddDomain records a domain name.
func (s *Store) AddDomain(ctx context.Context, projectID, name string) (domain.Resource, error) {
	if name == "" {
		return domain.Resource{}, errors.New("domain name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.upsert(domain.Resource{Kind: domain.ResourceDomain, ProjectID: projectID, DomainName: name})
	return clone(r), nil
}

// AddHost records a host and links it to the given domains.
func (s *Store) AddHost(ctx context.Context, projectID, ip string, domains ...string) (domain.Resource, error) {
	if ip == "" {
		return domain.Resource{}, errors.New("host ip is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.upsert(domain.Resource{Kind: domain.ResourceHost, ProjectID: projectID, IP: ip})
	for _, d := range domains {
		if d != "" && !slices.Contains(r.Domains, d) {
			r.Domains = append(r.Domains, d)
		}
	}
	return clone(r), nil
}

// HostDomains returns the domains linked to a host.
func (s *Store) HostDomains(ctx context.Context, projectID, ip string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[keyFor(domain.Resource{Kind: domain.ResourceHost, ProjectID: projectID, IP: ip})]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "host %s", ip)
	}
	return append([]string(nil), r.Domains...), nil
}

// AddIPRange records a CIDR range.
func (s *Store) AddIPRange(ctx context.Context, projectID, ip string, mask int) (domain.Resource, error) {
	if ip == "" || mask < 0 || mask > 32 {
		return domain.Resource{}, errors.Errorf("invalid ip range %s/%d", ip, mask)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.upsert(domain.Resource{Kind: domain.ResourceIPRange, ProjectID: projectID, IP: ip, Mask: mask})
	return clone(r), nil
}

// AddPort records an open port, creating its host if needed.
func (s *Store) AddPort(ctx context.Context, projectID, ip string, port int, protocol string) (domain.Resource, error) {
	if ip == "" || port < 1 || port > 65535 {
		return domain.Resource{}, errors.Errorf("invalid port %s:%d", ip, port)
	}
	if protocol != "tcp" && protocol != "udp" {
		return domain.Resource{}, errors.Errorf("invalid protocol %q", protocol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(domain.Resource{Kind: domain.ResourceHost, ProjectID: projectID, IP: ip})
	r := s.upsert(domain.Resource{Kind: domain.ResourcePort, ProjectID: projectID, IP: ip, Port: port, Protocol: protocol})
	return clone(r), nil
}

// SetPortService records the service detected on a port.
func (s *Store) SetPortService(ctx context.Context, projectID, ip string, port int, protocol, service, product, version string) (domain.Resource, error) {
	if _, err := s.AddPort(ctx, projectID, ip, port, protocol); err != nil {
		return domain.Resource{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.resources[keyFor(domain.Resource{Kind: domain.ResourcePort, ProjectID: projectID, IP: ip, Port: port, Protocol: protocol})]
	if service != "" {
		r.Service = service
	}
	if product != "" {
		r.Product = product
	}
	if version != "" {
		r.Version = version
	}
	return clone(r), nil
}

// AddWebsite records a website served on a tcp port. A nil ssl leaves the
// stored flag unchanged.
func (s *Store) AddWebsite(ctx context.Context, projectID, ip string, port int, domainName, path string, ssl *bool) (domain.Resource, error) {
	if _, err := s.AddPort(ctx, projectID, ip, port, "tcp"); err != nil {
		return domain.Resource{}, err
	}
	if path == "" {
		path = "/"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if domainName != "" {
		s.upsert(domain.Resource{Kind: domain.ResourceDomain, ProjectID: projectID, DomainName: domainName})
		host := s.resources[keyFor(domain.Resource{Kind: domain.ResourceHost, ProjectID: projectID, IP: ip})]
		if !slices.Contains(host.Domains, domainName) {
			host.Domains = append(host.Domains, domainName)
		}
	}
	r := s.upsert(domain.Resource{
		Kind:       domain.ResourceWebsite,
		ProjectID:  projectID,
		IP:         ip,
		Port:       port,
		Protocol:   "tcp",
		DomainName: domainName,
		Path:       path,
	})
	if ssl != nil {
		r.SSL = *ssl
	}
	return clone(r), nil
}

// AddWebsiteEndpoint adds an endpoint to the website with the given key.
func (s *Store) AddWebsiteEndpoint(ctx context.Context, correlationKey, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[correlationKey]
	if !ok || r.Kind != domain.ResourceWebsite {
		return errors.Wrapf(ErrNotFound, "website %s", correlationKey)
	}
	if !slices.Contains(r.Endpoints, endpoint) {
		r.Endpoints = append(r.Endpoints, endpoint)
	}
	return nil
}

// Resource returns the resource stored under a correlation key.
func (s *Store) Resource(ctx context.Context, correlationKey string) (domain.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[correlationKey]
	if !ok {
		return domain.Resource{}, errors.Wrapf(ErrNotFound, "resource %s", correlationKey)
	}
	return clone(r), nil
}

// Tag adds a tag to the resource of the given kind.
func (s *Store) Tag(ctx context.Context, kind domain.ResourceKind, correlationKey, tag string) error {
	if tag == "" {
		return errors.New("tag is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[correlationKey]
	if !ok || r.Kind != kind {
		return errors.Wrapf(ErrNotFound, "%s %s", kind, correlationKey)
	}
	if !slices.Contains(r.Tags, tag) {
		r.Tags = append(r.Tags, tag)
	}
	return nil
}

// Block sets the blocked flag of a resource.
func (s *Store) Block(ctx context.Context, correlationKey string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[correlationKey]
	if !ok {
		return errors.Wrapf(ErrNotFound, "resource %s", correlationKey)
	}
	r.Blocked = blocked
	return nil
}

// IsBlocked reports whether the resource of the given kind is blocked.
// Unknown resources are not blocked.
func (s *Store) IsBlocked(ctx context.Context, kind domain.ResourceKind, correlationKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[correlationKey]
	if !ok || r.Kind != kind {
		return false, nil
	}
	return r.Blocked, nil
}

var inputKinds = map[domain.InputSource]domain.ResourceKind{
	domain.InputDomains:  domain.ResourceDomain,
	domain.InputHosts:    domain.ResourceHost,
	domain.InputTCPPorts: domain.ResourcePort,
	domain.InputIPRanges: domain.ResourceIPRange,
	domain.InputWebsites: domain.ResourceWebsite,
}

// Page returns one page of a project's input population: items that are
// not blocked and were created at or before cutoff, ordered by creation
// time then key. Pages are zero-based.
func (s *Store) Page(ctx context.Context, projectID string, input domain.InputSource, page, size int, cutoff time.Time) ([]domain.Resource, error) {
	kind, ok := inputKinds[input]
	if !ok {
		return nil, errors.Errorf("unknown input %q", input)
	}
	if page < 0 || size <= 0 {
		return nil, errors.Errorf("invalid page %d of size %d", page, size)
	}

	s.mu.RLock()
	var matched []*domain.Resource
	for _, r := range s.resources {
		if r.ProjectID != projectID || r.Kind != kind || r.Blocked || r.CreatedAt.After(cutoff) {
			continue
		}
		if input == domain.InputTCPPorts && r.Protocol != "tcp" {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].CorrelationKey < matched[j].CorrelationKey
	})

	start := page * size
	if start >= len(matched) {
		s.mu.RUnlock()
		return nil, nil
	}
	end := min(start+size, len(matched))
	out := make([]domain.Resource, 0, end-start)
	for _, r := range matched[start:end] {
		out = append(out, clone(r))
	}
	s.mu.RUnlock()
	return out, nil
}

func clone(r *domain.Resource) domain.Resource {
	out := *r
	out.Domains = slices.Clone(r.Domains)
	out.Endpoints = slices.Clone(r.Endpoints)
	out.Tags = slices.Clone(r.Tags)
	return out
}
