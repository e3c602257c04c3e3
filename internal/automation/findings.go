package automation

import (
	"github.com/djlord-it/findingsd/internal/domain"
)

// ItemFinding synthesizes the finding a cron subscription sees for one
// inventory item.
func ItemFinding(r domain.Resource) domain.Finding {
	f := domain.Finding{ProjectID: r.ProjectID, CorrelationKey: r.CorrelationKey}
	switch r.Kind {
	case domain.ResourceDomain:
		f.Type = domain.FindingHostname
		f.DomainName = r.DomainName
	case domain.ResourceHost:
		f.Type = domain.FindingIP
		f.IP = r.IP
	case domain.ResourceIPRange:
		f.Type = domain.FindingIPRange
		f.IP = r.IP
		f.Mask = domain.IntPtr(r.Mask)
	case domain.ResourcePort:
		f.Type = domain.FindingPort
		f.IP = r.IP
		f.Port = r.Port
		f.Fields = []domain.Field{{Key: domain.CustomKeyProtocolData, Type: "text", Data: r.Protocol}}
	case domain.ResourceWebsite:
		f.Type = domain.FindingWebsite
		f.DomainName = r.DomainName
		f.IP = r.IP
		f.Port = r.Port
		f.Path = r.Path
		f.SSL = domain.BoolPtr(r.SSL)
	}
	f.Key = string(f.Type)
	return f
}

var inputFindingKinds = map[domain.InputSource]domain.FindingKind{
	domain.InputDomains:  domain.FindingHostname,
	domain.InputHosts:    domain.FindingIP,
	domain.InputTCPPorts: domain.FindingPort,
	domain.InputIPRanges: domain.FindingIPRange,
	domain.InputWebsites: domain.FindingWebsite,
}

// BatchFinding folds a page of items into one finding whose batch fields
// are parallel arrays.
func BatchFinding(input domain.InputSource, projectID string, items []domain.Resource) domain.Finding {
	kind := inputFindingKinds[input]
	f := domain.Finding{Type: kind, Key: string(kind), ProjectID: projectID, Batch: map[string][]any{}}

	add := func(name string, v any) {
		f.Batch[name] = append(f.Batch[name], v)
	}
	for _, r := range items {
		switch input {
		case domain.InputDomains:
			add(domain.BatchDomain, r.DomainName)
		case domain.InputHosts:
			add(domain.BatchIP, r.IP)
		case domain.InputTCPPorts:
			add(domain.BatchIP, r.IP)
			add(domain.BatchPort, r.Port)
			add(domain.BatchProtocol, r.Protocol)
		case domain.InputIPRanges:
			add(domain.BatchIP, r.IP)
			add(domain.BatchMask, r.Mask)
		case domain.InputWebsites:
			add(domain.BatchDomain, r.DomainName)
			add(domain.BatchIP, r.IP)
			add(domain.BatchPort, r.Port)
			add(domain.BatchPath, r.Path)
			add(domain.BatchSSL, r.SSL)
		}
	}
	return f
}
