package mcp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yosida95/uritemplate/v3"
)

var placeholderName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type segment struct {
	literal     string
	placeholder string
}

func (s segment) isPlaceholder() bool {
	return s.placeholder != ""
}

// URIPattern is a compiled resource URI such as robot://joints/{joint_name}.
// Placeholders always span a whole `/` separated segment.
type URIPattern struct {
	raw      string
	segments []segment
	tmpl     *uritemplate.Template
	arity    int
}

// ParseURIPattern compiles raw, rejecting expressions that are not a
// single `{name}` occupying a whole segment.
func ParseURIPattern(raw string) (*URIPattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty URI pattern")
	}

	tmpl, err := uritemplate.New(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URI pattern %q: %w", raw, err)
	}

	p := &URIPattern{raw: raw, tmpl: tmpl}
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, "/") {
		if !strings.ContainsAny(part, "{}") {
			p.segments = append(p.segments, segment{literal: part})
			continue
		}

		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			return nil, fmt.Errorf("invalid URI pattern %q: placeholder must fill segment %q", raw, part)
		}
		name := part[1 : len(part)-1]
		if !placeholderName.MatchString(name) {
			return nil, fmt.Errorf("invalid URI pattern %q: bad placeholder name %q", raw, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("invalid URI pattern %q: placeholder %q repeated", raw, name)
		}
		seen[name] = true
		p.segments = append(p.segments, segment{placeholder: name})
		p.arity++
	}

	return p, nil
}

func (p *URIPattern) String() string {
	return p.raw
}

// Arity is the number of placeholder segments.
func (p *URIPattern) Arity() int {
	return p.arity
}

// Placeholders lists placeholder names in segment order.
func (p *URIPattern) Placeholders() []string {
	return p.tmpl.Varnames()
}

// Match splits uri on `/` and compares it segment by segment. Placeholders
// capture a non-empty segment; there are no prefix or partial matches.
func (p *URIPattern) Match(uri string) (map[string]string, bool) {
	parts := strings.Split(uri, "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}

	captures := make(map[string]string, p.arity)
	for i, seg := range p.segments {
		if !seg.isPlaceholder() {
			if parts[i] != seg.literal {
				return nil, false
			}
			continue
		}
		if parts[i] == "" {
			return nil, false
		}
		captures[seg.placeholder] = parts[i]
	}
	return captures, true
}

// Overlaps reports whether some concrete URI matches both p and other.
func (p *URIPattern) Overlaps(other *URIPattern) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, a := range p.segments {
		b := other.segments[i]
		if !a.isPlaceholder() && !b.isPlaceholder() && a.literal != b.literal {
			return false
		}
		// a literal "" can never satisfy a placeholder
		if a.isPlaceholder() && !b.isPlaceholder() && b.literal == "" {
			return false
		}
		if b.isPlaceholder() && !a.isPlaceholder() && a.literal == "" {
			return false
		}
	}
	return true
}

// Expand substitutes vars into the pattern.
func (p *URIPattern) Expand(vars map[string]string) (string, error) {
	values := uritemplate.Values{}
	for _, name := range p.tmpl.Varnames() {
		v, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("missing value for placeholder %q", name)
		}
		values.Set(name, uritemplate.String(v))
	}
	return p.tmpl.Expand(values)
}
