package router

import (
	"github.com/djlord-it/findingsd/internal/correlation"
	"github.com/djlord-it/findingsd/internal/domain"
)

// usesOwnProject lists the finding types whose projectId, when set, wins
// over the reporting job's project.
func usesOwnProject(kind domain.FindingKind) bool {
	switch kind {
	case domain.FindingHostname, domain.FindingIP, domain.FindingIPRange:
		return true
	}
	return false
}

// EffectiveProject is the project a finding is filed under when reported by a
// job of jobProject. jobProject is empty for findings without a job.
func EffectiveProject(f domain.Finding, jobProject string) string {
	if usesOwnProject(f.Type) && f.ProjectID != "" {
		return f.ProjectID
	}
	return jobProject
}

// PortProtocol is the protocol of a port finding, carried in its first
// field. It defaults to tcp.
func PortProtocol(f domain.Finding) string {
	if f.Protocol != "" {
		return f.Protocol
	}
	if v, ok := f.FieldData(domain.CustomKeyProtocolData); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if len(f.Fields) > 0 {
		if s, ok := f.Fields[0].Data.(string); ok && (s == "tcp" || s == "udp") {
			return s
		}
	}
	return "tcp"
}

// CorrelationKey computes the key of the resource a finding is about.
func CorrelationKey(f domain.Finding, projectID string) (string, error) {
	a := correlation.Attributes{ProjectID: projectID}

	switch f.Type {
	case domain.FindingHostname:
		a.Domain = &f.DomainName
	case domain.FindingIP, domain.FindingHostnameIP:
		a.IP = f.IP
	case domain.FindingIPRange:
		a.IP = f.IP
		if f.Mask != nil {
			a.Mask = *f.Mask
		}
	case domain.FindingPort:
		a.IP = f.IP
		a.Port = f.Port
		a.Protocol = PortProtocol(f)
	case domain.FindingWebsite:
		name := f.DomainName
		a.Domain = &name
		a.IP = f.IP
		a.Port = f.Port
		a.Protocol = "tcp"
		a.Path = f.Path
		if a.Path == "" {
			a.Path = "/"
		}
	case domain.FindingCustom, domain.FindingTag:
		if f.DomainName != "" {
			a.Domain = &f.DomainName
		}
		a.IP = f.IP
		a.Port = f.Port
		a.Protocol = f.Protocol
		a.Path = f.Path
		if f.Type == domain.FindingTag && f.Mask != nil {
			a.Mask = *f.Mask
		}
	}
	return correlation.Generate(a)
}
