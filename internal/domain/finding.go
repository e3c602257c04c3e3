package domain

import "strings"

// FindingKind discriminates the finding union.
type FindingKind string

const (
	FindingHostname   FindingKind = "HostnameFinding"
	FindingIP         FindingKind = "IpFinding"
	FindingIPRange    FindingKind = "IpRangeFinding"
	FindingHostnameIP FindingKind = "HostnameIpFinding"
	FindingPort       FindingKind = "PortFinding"
	FindingWebsite    FindingKind = "WebsiteFinding"
	FindingCustom     FindingKind = "CustomFinding"
	FindingTag        FindingKind = "TagFinding"
	FindingJobStatus  FindingKind = "JobStatusFinding"
)

// Custom finding keys with dedicated handling.
const (
	CustomKeyPortService  = "PortServiceFinding"
	CustomKeyWebsitePath  = "WebsitePathFinding"
	CustomKeyProtocolData = "protocol"
)

// Batch field names carried by findings synthesized from a cron page.
const (
	BatchDomain   = "domainBatch"
	BatchIP       = "ipBatch"
	BatchPort     = "portBatch"
	BatchProtocol = "protocolBatch"
	BatchMask     = "maskBatch"
	BatchPath     = "pathBatch"
	BatchSSL      = "sslBatch"
)

// Field is a free-form datum attached to a finding.
type Field struct {
	Key   string `json:"key"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Finding is a fact produced by a job. Which attributes are meaningful
// depends on Type. Zero values mean absent, except for Mask and SSL which
// are pointers because zero is a legal value.
type Finding struct {
	Type FindingKind `json:"type"`
	// Key is the user-defined key for custom findings. Built-in findings
	// use their type name.
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`

	JobID          string `json:"jobId,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
	CorrelationKey string `json:"correlationKey,omitempty"`

	DomainName string `json:"domainName,omitempty"`
	IP         string `json:"ip,omitempty"`
	Port       int    `json:"port,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	Mask       *int   `json:"mask,omitempty"`
	Path       string `json:"path,omitempty"`
	SSL        *bool  `json:"ssl,omitempty"`

	Tag    string `json:"tag,omitempty"`
	Status string `json:"status,omitempty"`

	Fields []Field `json:"fields,omitempty"`

	// Batch holds parallel arrays keyed by the Batch* names.
	Batch map[string][]any `json:"batch,omitempty"`
}

// EventKey is the name event subscriptions match against.
func (f Finding) EventKey() string {
	if f.Key != "" {
		return f.Key
	}
	return string(f.Type)
}

// FieldData returns the data of the first field with the given key,
// compared case-insensitively.
func (f Finding) FieldData(key string) (any, bool) {
	for _, field := range f.Fields {
		if strings.EqualFold(field.Key, key) {
			return field.Data, true
		}
	}
	return nil, false
}

// IntPtr and BoolPtr build optional values.
func IntPtr(v int) *int { return &v }

func BoolPtr(v bool) *bool { return &v }
