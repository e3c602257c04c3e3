package correlation

import (
	"github.com/pkg/errors"
)

// ErrInvalidArgument marks attribute combinations that do not describe a
// single resource. Callers exposed over HTTP map it to 400.
var ErrInvalidArgument = errors.New("invalid argument")

const ambiguousRequest = "ambiguous request for correlation key; valid combinations are: " +
	"[domainName], [ip], [ip,mask], [ip,port,protocol] and [ip,port,domainName,path]"

// Attributes are the identifying fields of a resource. Zero values are
// absent, except Domain which distinguishes nil from the empty string:
// websites may be reached without a domain name.
type Attributes struct {
	ProjectID string
	Domain    *string
	IP        string
	Port      int
	Protocol  string
	Mask      int
	Path      string
}

func (a Attributes) empty() bool {
	return (a.Domain == nil || *a.Domain == "") &&
		a.IP == "" && a.Port == 0 && a.Protocol == "" && a.Mask == 0 && a.Path == ""
}

// Generate validates a combination of attributes and returns the key of the
// single resource they describe.
func Generate(a Attributes) (string, error) {
	if a.ProjectID == "" {
		return "", errors.Wrap(ErrInvalidArgument, "project id is required in order to create a correlation key")
	}

	if a.empty() {
		return Project(a.ProjectID), nil
	}

	domainName := a.Domain
	if a.Path != "" && domainName == nil {
		empty := ""
		domainName = &empty
	}

	switch {
	case domainName != nil:
		if a.IP != "" || a.Port != 0 || a.Protocol != "" {
			if a.IP == "" || a.Port == 0 {
				return "", errors.Wrap(ErrInvalidArgument, ambiguousRequest)
			}
			return Website(a.ProjectID, a.IP, a.Port, *domainName, a.Path), nil
		}
		if *domainName != "" {
			return Domain(a.ProjectID, *domainName), nil
		}
		return "", errors.Wrap(ErrInvalidArgument, "a website path requires an ip and a port")

	case a.IP != "":
		switch {
		case a.Port != 0 && a.Protocol != "" && a.Mask == 0:
			return Port(a.ProjectID, a.IP, a.Port, a.Protocol), nil
		case a.Mask != 0 && a.Port == 0 && a.Protocol == "":
			return IPRange(a.ProjectID, a.IP, a.Mask), nil
		case a.Port != 0 || a.Protocol != "" || a.Mask != 0:
			return "", errors.Wrap(ErrInvalidArgument, ambiguousRequest)
		default:
			return Host(a.ProjectID, a.IP), nil
		}

	case a.Port != 0:
		return "", errors.Wrap(ErrInvalidArgument, "the ip must be specified with the port")

	default:
		return "", errors.Wrap(ErrInvalidArgument, "correlation key must contain at least a domain or a host")
	}
}
