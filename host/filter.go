package host

import (
	"fmt"
	"strings"
)

// filter matches service properties. The syntax is the LDAP-style subset
// used for service lookups:
//
//	(key=value)   equality, value may contain * wildcards
//	(key=*)       presence
//	(&(a=1)(b=2)) and
//	(|(a=1)(b=2)) or
//	(!(a=1))      not
//
// Keys are matched case-insensitively.
type filter interface {
	match(props map[string]any) bool
}

type matchAll struct{}

func (matchAll) match(map[string]any) bool { return true }

type presenceFilter struct{ key string }

func (f presenceFilter) match(props map[string]any) bool {
	_, ok := lookupProperty(props, f.key)
	return ok
}

type equalFilter struct{ key, pattern string }

func (f equalFilter) match(props map[string]any) bool {
	v, ok := lookupProperty(props, f.key)
	if !ok {
		return false
	}
	switch tv := v.(type) {
	case []string:
		for _, s := range tv {
			if wildcardMatch(f.pattern, s) {
				return true
			}
		}
		return false
	case []any:
		for _, s := range tv {
			if wildcardMatch(f.pattern, fmt.Sprint(s)) {
				return true
			}
		}
		return false
	default:
		return wildcardMatch(f.pattern, fmt.Sprint(v))
	}
}

type andFilter []filter

func (f andFilter) match(props map[string]any) bool {
	for _, sub := range f {
		if !sub.match(props) {
			return false
		}
	}
	return true
}

type orFilter []filter

func (f orFilter) match(props map[string]any) bool {
	for _, sub := range f {
		if sub.match(props) {
			return true
		}
	}
	return false
}

type notFilter struct{ inner filter }

func (f notFilter) match(props map[string]any) bool {
	return !f.inner.match(props)
}

// parseFilter parses s. An empty filter matches everything.
func parseFilter(s string) (filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return matchAll{}, nil
	}
	p := &filterParser{src: s}
	f, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: trailing input at %d in %q", ErrInvalidFilter, p.pos, s)
	}
	return f, nil
}

type filterParser struct {
	src string
	pos int
}

func (p *filterParser) fail(msg string) error {
	return fmt.Errorf("%w: %s at %d in %q", ErrInvalidFilter, msg, p.pos, p.src)
}

func (p *filterParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *filterParser) parse() (filter, error) {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return nil, p.fail("expected '('")
	}
	p.pos++
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.fail("unexpected end")
	}

	var f filter
	var err error
	switch p.src[p.pos] {
	case '&':
		p.pos++
		var subs []filter
		subs, err = p.parseList()
		f = andFilter(subs)
	case '|':
		p.pos++
		var subs []filter
		subs, err = p.parseList()
		f = orFilter(subs)
	case '!':
		p.pos++
		var inner filter
		inner, err = p.parse()
		f = notFilter{inner: inner}
	default:
		f, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}

	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != ')' {
		return nil, p.fail("expected ')'")
	}
	p.pos++
	return f, nil
}

func (p *filterParser) parseList() ([]filter, error) {
	var subs []filter
	for {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ')' {
			break
		}
		sub, err := p.parse()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if len(subs) == 0 {
		return nil, p.fail("empty operand list")
	}
	return subs, nil
}

func (p *filterParser) parseItem() (filter, error) {
	end := strings.IndexByte(p.src[p.pos:], ')')
	if end < 0 {
		return nil, p.fail("unterminated item")
	}
	item := p.src[p.pos : p.pos+end]
	key, value, ok := strings.Cut(item, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return nil, p.fail("expected key=value")
	}
	p.pos += end

	if value == "*" {
		return presenceFilter{key: key}, nil
	}
	return equalFilter{key: key, pattern: value}, nil
}

func lookupProperty(props map[string]any, key string) (any, bool) {
	if v, ok := props[key]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// wildcardMatch reports whether s matches pattern, where * matches any run
// of characters.
func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, last)
}
