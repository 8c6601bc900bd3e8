package process

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ExcludePattern matches URLs by hostname and path. The path uses url-pattern
// syntax: "*" matches anything, "(...)" wraps an optional part and ":name"
// matches a single named segment.
type ExcludePattern struct {
	raw  string
	host string
	re   *regexp.Regexp
}

func CompileExcludePattern(raw string) (*ExcludePattern, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid exclude pattern %q: missing host", raw)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '*':
			sb.WriteString("(.*?)")
		case c == '(':
			sb.WriteString("(?:")
		case c == ')':
			sb.WriteString(")?")
		case c == ':' && i+1 < len(path) && isNameChar(path[i+1]):
			j := i + 1
			for j < len(path) && isNameChar(path[j]) {
				j++
			}
			sb.WriteString("([a-zA-Z0-9_~ %-]+)")
			i = j - 1
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern %q: %w", raw, err)
	}

	return &ExcludePattern{
		raw:  raw,
		host: strings.ToLower(u.Hostname()),
		re:   re,
	}, nil
}

func CompileExcludePatterns(raws []string) ([]*ExcludePattern, error) {
	patterns := make([]*ExcludePattern, 0, len(raws))
	for _, raw := range raws {
		p, err := CompileExcludePattern(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func (p *ExcludePattern) Match(u *url.URL) bool {
	if strings.ToLower(u.Hostname()) != p.host {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return p.re.MatchString(path)
}

func (p *ExcludePattern) String() string {
	return p.raw
}

func isNameChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
