package correlation

import (
	"github.com/djlord-it/findingsd/internal/domain"
)

// kindRule maps a predicate over a parsed key to a resource kind. Rules are
// tried in order and a rule only applies once its parent matched.
type kindRule struct {
	match    func(Key) bool
	kind     domain.ResourceKind
	children []kindRule
}

var kindRules = []kindRule{
	{
		match: hasHost,
		kind:  domain.ResourceHost,
		children: []kindRule{
			{
				match: hasPort,
				kind:  domain.ResourcePort,
				children: []kindRule{
					{match: hasWebsite, kind: domain.ResourceWebsite},
				},
			},
		},
	},
	{match: hasDomain, kind: domain.ResourceDomain},
}

// isProjectID reports whether id is 24 lower-case hex digits.
func isProjectID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

func hasHost(k Key) bool {
	return k.Shape != ShapeProject && k.Shape != ShapeDomain && k.IP != ""
}

func hasPort(k Key) bool {
	if k.Shape != ShapePort && k.Shape != ShapeWebsite {
		return false
	}
	return k.Port >= 0 && k.Port <= 99999 && (k.Protocol == "tcp" || k.Protocol == "udp")
}

func hasWebsite(k Key) bool {
	return k.Shape == ShapeWebsite && len(k.Path) > 0 && k.Path[0] == '/'
}

func hasDomain(k Key) bool {
	return k.Shape == ShapeDomain && k.Domain != ""
}

// KindOf classifies a parsed key. Keys of projects that are not 24 hex
// digits address nothing, and ip range keys classify as hosts.
func KindOf(k Key) domain.ResourceKind {
	if !isProjectID(k.ProjectID) {
		return domain.ResourceNone
	}
	return resolve(kindRules, k, domain.ResourceNone)
}

// ResourceKindOf returns the inventory collection a key points into, or
// domain.ResourceNone when the key is malformed or matches no collection.
func ResourceKindOf(key string) domain.ResourceKind {
	k, err := Parse(key)
	if err != nil {
		return domain.ResourceNone
	}
	return KindOf(k)
}

// InventoryKindOf is ResourceKindOf except that ip range keys resolve to
// domain.ResourceIPRange, the collection ip ranges are actually kept in.
func InventoryKindOf(key string) domain.ResourceKind {
	k, err := Parse(key)
	if err != nil {
		return domain.ResourceNone
	}
	kind := KindOf(k)
	if kind == domain.ResourceHost && k.Shape == ShapeIPRange {
		return domain.ResourceIPRange
	}
	return kind
}

func resolve(rules []kindRule, k Key, fallback domain.ResourceKind) domain.ResourceKind {
	for _, r := range rules {
		if r.match(k) {
			return resolve(r.children, k, r.kind)
		}
	}
	return fallback
}
