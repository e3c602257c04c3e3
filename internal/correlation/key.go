// Package correlation builds, parses and classifies correlation keys.
//
// A correlation key identifies an inventory resource inside a project as an
// ordered list of tag:value segments joined by ';', always starting with
// project:<id>. Segment order is fixed per shape, so equal resources always
// produce byte-identical keys.
package correlation

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Segment tags.
const (
	tagProject  = "project"
	tagHost     = "host"
	tagMask     = "mask"
	tagPort     = "port"
	tagProtocol = "protocol"
	tagDomain   = "domain"
	tagPath     = "path"
)

// Shape is the kind of resource a key describes.
type Shape int

const (
	ShapeProject Shape = iota
	ShapeDomain
	ShapeHost
	ShapeIPRange
	ShapePort
	ShapeWebsite
)

func (s Shape) String() string {
	switch s {
	case ShapeProject:
		return "project"
	case ShapeDomain:
		return "domain"
	case ShapeHost:
		return "host"
	case ShapeIPRange:
		return "ip_range"
	case ShapePort:
		return "port"
	case ShapeWebsite:
		return "website"
	default:
		return "unknown"
	}
}

// Key is the parsed form of a correlation key.
type Key struct {
	Shape     Shape
	ProjectID string
	IP        string
	Mask      int
	Port      int
	Protocol  string
	Domain    string
	Path      string
}

// String renders the key in its canonical textual form.
func (k Key) String() string {
	switch k.Shape {
	case ShapeDomain:
		return Domain(k.ProjectID, k.Domain)
	case ShapeHost:
		return Host(k.ProjectID, k.IP)
	case ShapeIPRange:
		return IPRange(k.ProjectID, k.IP, k.Mask)
	case ShapePort:
		return Port(k.ProjectID, k.IP, k.Port, k.Protocol)
	case ShapeWebsite:
		return Website(k.ProjectID, k.IP, k.Port, k.Domain, k.Path)
	default:
		return Project(k.ProjectID)
	}
}

func join(parts ...string) string {
	return strings.Join(parts, ";")
}

func segment(tag, value string) string {
	return tag + ":" + value
}

// Project returns project:<id>.
func Project(projectID string) string {
	return segment(tagProject, projectID)
}

// ProjectPrefix is the prefix shared by every key of a project.
func ProjectPrefix(projectID string) string {
	return Project(projectID)
}

// Domain returns project:<id>;domain:<name>.
func Domain(projectID, domainName string) string {
	return join(Project(projectID), segment(tagDomain, domainName))
}

// Host returns project:<id>;host:<ip>.
func Host(projectID, ip string) string {
	return join(Project(projectID), segment(tagHost, ip))
}

// IPRange returns project:<id>;host:<ip>;mask:<n>.
func IPRange(projectID, ip string, mask int) string {
	return join(Host(projectID, ip), segment(tagMask, strconv.Itoa(mask)))
}

// Port returns project:<id>;host:<ip>;port:<n>;protocol:<proto>.
func Port(projectID, ip string, port int, protocol string) string {
	return join(Host(projectID, ip), segment(tagPort, strconv.Itoa(port)), segment(tagProtocol, protocol))
}

// Website returns the tcp port key followed by domain and path. An empty
// path becomes "/"; an empty domain is kept empty.
func Website(projectID, ip string, port int, domainName, path string) string {
	if path == "" {
		path = "/"
	}
	return join(Port(projectID, ip, port, "tcp"), segment(tagDomain, domainName), segment(tagPath, path))
}

// ErrMalformedKey is returned by Parse for text that is not a correlation key.
var ErrMalformedKey = errors.New("malformed correlation key")

// shapes lists the legal tag sequences after the project segment.
var shapes = []struct {
	tags  []string
	shape Shape
}{
	{nil, ShapeProject},
	{[]string{tagDomain}, ShapeDomain},
	{[]string{tagHost}, ShapeHost},
	{[]string{tagHost, tagMask}, ShapeIPRange},
	{[]string{tagHost, tagPort, tagProtocol}, ShapePort},
	{[]string{tagHost, tagPort, tagProtocol, tagDomain, tagPath}, ShapeWebsite},
}

// Parse reads a textual key. The path segment of a website key extends to
// the end of the input and may itself contain ';'.
func Parse(s string) (Key, error) {
	var k Key
	var tags []string

	rest := s
	first := true
	for rest != "" || first {
		var seg string
		tag, value, ok := strings.Cut(rest, ":")
		if !ok {
			return Key{}, errors.Wrapf(ErrMalformedKey, "segment %q", rest)
		}
		if tag == tagPath {
			seg, rest = value, ""
		} else {
			seg, rest, _ = strings.Cut(value, ";")
		}

		if first {
			if tag != tagProject || seg == "" {
				return Key{}, errors.Wrap(ErrMalformedKey, "missing project segment")
			}
			k.ProjectID = seg
			first = false
			continue
		}

		var err error
		switch tag {
		case tagHost:
			k.IP = seg
		case tagDomain:
			k.Domain = seg
		case tagPath:
			k.Path = seg
		case tagProtocol:
			k.Protocol = seg
		case tagMask:
			k.Mask, err = strconv.Atoi(seg)
		case tagPort:
			k.Port, err = strconv.Atoi(seg)
		default:
			return Key{}, errors.Wrapf(ErrMalformedKey, "unknown tag %q", tag)
		}
		if err != nil {
			return Key{}, errors.Wrapf(ErrMalformedKey, "%s: %v", tag, err)
		}
		if (tag == tagMask || tag == tagPort) && !isCanonicalInt(seg) {
			return Key{}, errors.Wrapf(ErrMalformedKey, "%s: %q is not a canonical number", tag, seg)
		}
		tags = append(tags, tag)
	}

	for _, candidate := range shapes {
		if equalTags(candidate.tags, tags) {
			k.Shape = candidate.shape
			return k, nil
		}
	}
	return Key{}, errors.Wrapf(ErrMalformedKey, "unexpected segments %v", tags)
}

func isCanonicalInt(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0 && strconv.Itoa(n) == s
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
