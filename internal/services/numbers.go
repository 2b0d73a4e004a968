package services

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// UniverseSize is the count of purchasable codes, "000" through "999".
const UniverseSize = 1000

var tripleRe = regexp.MustCompile(`^\d{3}$`)

var universe = func() []string {
	all := make([]string, UniverseSize)
	for i := range all {
		all[i] = fmt.Sprintf("%03d", i)
	}
	return all
}()

func isTriple(s string) bool {
	return tripleRe.MatchString(s)
}

// reservedSet is the union of the numbers of the given sales. Callers pass
// only sales whose status still reserves.
func reservedSet(sales []models.Sale) map[string]struct{} {
	set := make(map[string]struct{}, len(sales)*2)
	for _, sale := range sales {
		for _, n := range sale.Numbers {
			set[n] = struct{}{}
		}
	}
	return set
}

// conflicts returns the requested numbers already in reserved, sorted.
func conflicts(requested []string, reserved map[string]struct{}) []string {
	var out []string
	for _, n := range requested {
		if _, taken := reserved[n]; taken {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// formatTicket pads to four digits. Past 9999 the ticket simply grows a
// digit; listings order by length first so "10000" sorts after "9999".
func formatTicket(n int64) string {
	return fmt.Sprintf("%04d", n)
}
