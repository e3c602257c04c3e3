package router

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
)

// Field keys of custom findings with dedicated handling.
const (
	FieldServiceName     = "serviceName"
	FieldServiceProduct  = "serviceProduct"
	FieldServiceVersion  = "serviceVersion"
	FieldWebsiteEndpoint = "endpoint"
)

func (r *Router) registry() map[domain.FindingKind]Handler {
	return map[domain.FindingKind]Handler{
		domain.FindingHostname:   r.handleHostname,
		domain.FindingIP:         r.handleIP,
		domain.FindingIPRange:    r.handleIPRange,
		domain.FindingHostnameIP: r.handleHostnameIP,
		domain.FindingPort:       r.handlePort,
		domain.FindingWebsite:    r.handleWebsite,
		domain.FindingCustom:     r.handleCustom,
		domain.FindingTag:        r.handleTag,
	}
}

func (r *Router) handleHostname(ctx context.Context, req Request) error {
	_, err := r.resources.AddDomain(ctx, req.ProjectID, req.Finding.DomainName)
	return err
}

func (r *Router) handleIP(ctx context.Context, req Request) error {
	_, err := r.resources.AddHost(ctx, req.ProjectID, req.Finding.IP)
	return err
}

func (r *Router) handleIPRange(ctx context.Context, req Request) error {
	if req.Finding.Mask == nil {
		return errors.New("ip range finding without mask")
	}
	_, err := r.resources.AddIPRange(ctx, req.ProjectID, req.Finding.IP, *req.Finding.Mask)
	return err
}

func (r *Router) handleHostnameIP(ctx context.Context, req Request) error {
	f := req.Finding
	if _, err := r.resources.AddDomain(ctx, req.ProjectID, f.DomainName); err != nil {
		return err
	}
	_, err := r.resources.AddHost(ctx, req.ProjectID, f.IP, f.DomainName)
	return err
}

func (r *Router) handlePort(ctx context.Context, req Request) error {
	f := req.Finding
	_, err := r.resources.AddPort(ctx, req.ProjectID, f.IP, f.Port, PortProtocol(f))
	return err
}

func (r *Router) handleWebsite(ctx context.Context, req Request) error {
	f := req.Finding
	_, err := r.resources.AddWebsite(ctx, req.ProjectID, f.IP, f.Port, f.DomainName, f.Path, f.SSL)
	return err
}

// handleCustom applies the port service and website path extensions, then
// keeps the finding. A failing extension does not prevent the save.
func (r *Router) handleCustom(ctx context.Context, req Request) error {
	var err error
	switch req.Finding.Key {
	case domain.CustomKeyPortService:
		err = r.portService(ctx, req)
	case domain.CustomKeyWebsitePath:
		err = r.websitePath(ctx, req)
	}
	if err != nil {
		r.logger.Error("custom finding extension failed",
			zap.String("key", req.Finding.Key),
			zap.Error(err))
	}

	if r.findings == nil {
		return nil
	}
	return r.findings.SaveFinding(ctx, req.ProjectID, req.JobID, req.Finding)
}

func (r *Router) portService(ctx context.Context, req Request) error {
	f := req.Finding
	service := fieldString(f, FieldServiceName)
	product := fieldString(f, FieldServiceProduct)
	version := fieldString(f, FieldServiceVersion)

	protocol := f.Protocol
	if protocol == "" {
		protocol = "tcp"
	}

	if service == "http" || service == "https" {
		if err := r.emitWebsites(ctx, req, service == "https"); err != nil {
			r.logger.Warn("failed to emit website findings",
				zap.String("ip", f.IP),
				zap.Int("port", f.Port),
				zap.Error(err))
		}
	}

	_, err := r.resources.SetPortService(ctx, req.ProjectID, f.IP, f.Port, protocol, service, product, version)
	return errors.Wrap(err, "set port service")
}

// emitWebsites routes one website finding for the bare ip and one per
// domain of the host.
func (r *Router) emitWebsites(ctx context.Context, req Request, ssl bool) error {
	f := req.Finding
	// an unknown host has no domains yet
	domains, _ := r.resources.HostDomains(ctx, req.ProjectID, f.IP)

	names := append([]string{""}, domains...)
	for _, name := range names {
		site := domain.Finding{
			Type:       domain.FindingWebsite,
			Key:        string(domain.FindingWebsite),
			JobID:      req.JobID,
			DomainName: name,
			IP:         f.IP,
			Port:       f.Port,
			Path:       "/",
			SSL:        domain.BoolPtr(ssl),
		}
		if err := r.routeDerived(ctx, req.ProjectID, site); err != nil {
			return err
		}
	}
	return nil
}

// routeDerived processes a finding synthesized by a handler in the
// project of the finding that produced it.
func (r *Router) routeDerived(ctx context.Context, projectID string, f domain.Finding) error {
	key, err := CorrelationKey(f, projectID)
	if err != nil {
		return err
	}
	f.CorrelationKey = key
	req := Request{JobID: f.JobID, ProjectID: projectID, Finding: f}
	if err := r.handlers[f.Type](ctx, req); err != nil {
		r.logger.Error("finding handler failed",
			zap.String("type", string(f.Type)),
			zap.String("correlation_key", key),
			zap.Error(err))
	}
	if r.pass != nil {
		r.pass.OnFinding(ctx, projectID, f)
	}
	r.record(string(f.Type), OutcomeRouted)
	return nil
}

func (r *Router) websitePath(ctx context.Context, req Request) error {
	f := req.Finding
	var endpoints []string
	for _, field := range f.Fields {
		if field.Key != FieldWebsiteEndpoint {
			continue
		}
		if s, ok := field.Data.(string); ok && s != "" {
			endpoints = append(endpoints, s)
		}
	}
	if len(endpoints) == 0 {
		return nil
	}

	site, err := r.resources.AddWebsite(ctx, req.ProjectID, f.IP, f.Port, f.DomainName, f.Path, nil)
	if err != nil {
		return errors.Wrap(err, "resolve website")
	}
	for _, e := range endpoints {
		if err := r.resources.AddWebsiteEndpoint(ctx, site.CorrelationKey, e); err != nil {
			return errors.Wrapf(err, "add endpoint %s", e)
		}
	}
	return nil
}

// handleTag tags the resource the finding's key points to.
func (r *Router) handleTag(ctx context.Context, req Request) error {
	f := req.Finding
	if strings.TrimSpace(f.Tag) == "" {
		return errors.New("tag finding without tag")
	}

	kind := correlation.InventoryKindOf(f.CorrelationKey)
	if kind == domain.ResourceNone {
		return errors.Errorf("no taggable resource for %s", f.CorrelationKey)
	}
	return r.resources.Tag(ctx, kind, f.CorrelationKey, f.Tag)
}

func fieldString(f domain.Finding, key string) string {
	for _, field := range f.Fields {
		if field.Key == key {
			if s, ok := field.Data.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
