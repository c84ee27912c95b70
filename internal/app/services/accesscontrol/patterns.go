package accesscontrol

import "strings"

// matchPattern reports whether resource matches pattern. The pattern
// language supports literal segments, single-segment placeholders
// written as {name}, and a terminal wildcard "*" that consumes every
// remaining segment. It deliberately mirrors the {name} placeholder
// syntax gorilla/mux uses for routes, without depending on mux itself,
// so the table can be evaluated outside an HTTP request.
func matchPattern(pattern, resource string) bool {
	pSegs := splitPath(pattern)
	rSegs := splitPath(resource)

	for i, p := range pSegs {
		if p == "*" {
			return true
		}
		if i >= len(rSegs) {
			return false
		}
		if isPlaceholder(p) {
			continue
		}
		if p != rSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(rSegs)
}

func isPlaceholder(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func methodAllowed(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
