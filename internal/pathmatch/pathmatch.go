// Package pathmatch implements request-path matching against the
// configured LWS_MATCH pattern and `$0`-`$9` template substitution for the
// main-chunk filename and path-info templates.
package pathmatch

import (
	"fmt"
	"regexp"
)

// MaxGroups is the number of capture groups a template may reference ($0-$9).
const MaxGroups = 10

// Match runs re against path and returns the capture groups as
// path[start:end] slices, group 0 first. A nil re (no LWS_MATCH configured)
// matches every path and yields a single group spanning the whole path.
//
// The second return value is false if re is non-nil and path does not match.
func Match(re *regexp.Regexp, path string) ([]string, bool) {
	if re == nil {
		return []string{path}, true
	}
	loc := re.FindStringSubmatchIndex(path)
	if loc == nil {
		return nil, false
	}
	n := len(loc) / 2
	groups := make([]string, n)
	for i := 0; i < n; i++ {
		lo, hi := loc[2*i], loc[2*i+1]
		if lo < 0 || hi < 0 {
			groups[i] = ""
			continue
		}
		groups[i] = path[lo:hi]
	}
	return groups, true
}

// Substitute expands a `$0`-`$9` template against match groups. There is no
// escape syntax: a bare trailing `$` or a `$` followed by a non-digit is
// copied literally. A reference to a group beyond len(groups)-1 is an
// error; the caller turns it into a 404.
func Substitute(template string, groups []string) (string, error) {
	out := make([]byte, 0, len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) || template[i+1] < '0' || template[i+1] > '9' {
			out = append(out, c)
			continue
		}
		idx := int(template[i+1] - '0')
		if idx >= len(groups) {
			return "", fmt.Errorf("pathmatch: template references group $%d beyond match", idx)
		}
		out = append(out, groups[idx]...)
		i++
	}
	return string(out), nil
}
