package conditions

import (
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/djlord-it/findingsd/internal/domain"
)

// placeholderPattern matches a value that is entirely one ${...} reference.
var placeholderPattern = regexp.MustCompile(`^\s*\$\{\s*([^\s]+)\s*\}\s*$`)

// reference is the grammar of the text between ${ and }: a dotted path of
// identifiers with an optional list index, e.g. finding.ipbatch[2].
type reference struct {
	Head  string   `parser:"@Ident"`
	Tail  []string `parser:"( \".\" @Ident )*"`
	Index *int     `parser:"( \"[\" @Int \"]\" )?"`
}

var referenceLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[a-z_][a-z0-9_\-]*`},
	{Name: "Punct", Pattern: `[.\[\]]`},
})

var referenceParser = participle.MustBuild[reference](
	participle.Lexer(referenceLexer),
)

// contextPrefix may precede any reference.
const contextPrefix = "finding"

// Context holds the values a finding exposes to ${...} references, keyed
// by lower-cased name. A nil Context resolves nothing.
type Context map[string]any

// NewContext collects the attributes of f. Absent attributes are left out
// so references to them stay unresolved.
func NewContext(f *domain.Finding) Context {
	if f == nil {
		return nil
	}
	ctx := Context{}

	for _, field := range f.Fields {
		if field.Key != "" && field.Data != nil {
			ctx[strings.ToLower(field.Key)] = field.Data
		}
	}
	for name, values := range f.Batch {
		ctx[strings.ToLower(name)] = values
	}

	setString := func(name, v string) {
		if v != "" {
			ctx[name] = v
		}
	}
	setString("type", string(f.Type))
	setString("key", f.EventKey())
	setString("name", f.Name)
	setString("jobid", f.JobID)
	setString("projectid", f.ProjectID)
	setString("correlationkey", f.CorrelationKey)
	setString("domainname", f.DomainName)
	setString("ip", f.IP)
	setString("protocol", f.Protocol)
	setString("path", f.Path)
	setString("tag", f.Tag)
	setString("status", f.Status)
	if f.Port != 0 {
		ctx["port"] = f.Port
	}
	if f.Mask != nil {
		ctx["mask"] = *f.Mask
	}
	if f.SSL != nil {
		ctx["ssl"] = *f.SSL
	}
	return ctx
}

// Resolve looks up a reference expression such as "domainName" or
// "finding.field-1". The expression is case-folded.
func (c Context) Resolve(expr string) (any, bool) {
	if c == nil {
		return nil, false
	}
	ref, err := referenceParser.ParseString("", strings.ToLower(expr))
	if err != nil {
		return nil, false
	}

	path := append([]string{ref.Head}, ref.Tail...)
	if len(path) > 1 && path[0] == contextPrefix {
		path = path[1:]
	}
	v, ok := c[strings.Join(path, ".")]
	if !ok || v == nil {
		return nil, false
	}
	if ref.Index == nil {
		return v, true
	}

	list, ok := v.([]any)
	if !ok || *ref.Index >= len(list) {
		return nil, false
	}
	return list[*ref.Index], list[*ref.Index] != nil
}

// Substitute replaces a ${...} string with the referenced value, keeping
// its type. Lists are substituted element by element, strings only. Other
// values, malformed references and unresolved references are returned
// unchanged. The input is never mutated.
func (c Context) Substitute(value any) any {
	switch v := value.(type) {
	case string:
		return c.substituteString(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				out[i] = c.substituteString(s)
			} else {
				out[i] = item
			}
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = c.substituteString(s)
		}
		return out
	default:
		return value
	}
}

func (c Context) substituteString(s string) any {
	m := placeholderPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if v, ok := c.Resolve(m[1]); ok {
		return v
	}
	return s
}

// Substitute resolves value against finding f.
func Substitute(value any, f *domain.Finding) any {
	return NewContext(f).Substitute(value)
}

// SubstituteString is Substitute for templates that must stay strings,
// such as discriminators.
func SubstituteString(template string, f *domain.Finding) string {
	return stringify(Substitute(template, f))
}
