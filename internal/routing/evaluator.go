// Package routing evaluates tenant-configured email routing rules against
// submission field values. Pure functions only: no side effects, no I/O.
package routing

import (
	"sort"
	"strings"

	"github.com/inputhaven/inputhaven/internal/domain"
)

// Evaluate returns the recipient set for a submission: every matching rule
// fires, duplicates collapse, and when nothing matches the default recipient
// stands alone. Comparisons are case-insensitive. The returned slice is
// sorted so callers (and tests) see a stable order.
func Evaluate(data map[string]string, routes []domain.EmailRoute, defaultEmail string) []string {
	matched := make(map[string]struct{})

	for _, route := range routes {
		fieldValue := strings.ToLower(data[route.Field])
		routeValue := strings.ToLower(route.Value)

		var matches bool
		switch route.Operator {
		case domain.RouteEquals:
			matches = fieldValue == routeValue
		case domain.RouteContains:
			matches = strings.Contains(fieldValue, routeValue)
		case domain.RouteStartsWith:
			matches = strings.HasPrefix(fieldValue, routeValue)
		case domain.RouteEndsWith:
			matches = strings.HasSuffix(fieldValue, routeValue)
		}

		if matches {
			matched[route.EmailTo] = struct{}{}
		}
	}

	if len(matched) == 0 {
		return []string{defaultEmail}
	}

	recipients := make([]string, 0, len(matched))
	for email := range matched {
		recipients = append(recipients, email)
	}
	sort.Strings(recipients)
	return recipients
}
