package race

import (
	"strconv"
	"strings"

	"motoreg-bot/internal/models"
	"motoreg-bot/internal/util"
)

// NormalizeNumber is the canonical form of a moto number: trimmed, upper case.
func NormalizeNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// TakenNumbers collects the numbers held by any participant, across all
// categories.
func TakenNumbers(ps []models.Participant) map[string]struct{} {
	taken := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		taken[NormalizeNumber(p.MotoNumber)] = struct{}{}
	}
	return taken
}

// AvailableNumbers lists the labels of category c not in taken, ascending.
// taken is compared case-insensitively.
func AvailableNumbers(c models.Category, taken map[string]struct{}) []string {
	r := RuleFor(c)
	out := make([]string, 0, r.Max-r.Min+1)
	for n := r.Min; n <= r.Max; n++ {
		label := r.Label(n)
		if _, used := taken[label]; used {
			continue
		}
		if _, used := taken[strings.ToLower(label)]; used {
			continue
		}
		out = append(out, label)
	}
	return out
}

// IsAvailable reports whether number is a valid label of c and free.
func IsAvailable(c models.Category, number string, taken map[string]struct{}) bool {
	number = NormalizeNumber(number)
	if _, used := taken[number]; used {
		return false
	}
	r := RuleFor(c)
	for n := r.Min; n <= r.Max; n++ {
		if r.Label(n) == number {
			return true
		}
	}
	return false
}

// numericPart is the integer value of the digits in a label, for sorting.
func numericPart(label string) int {
	n, err := strconv.Atoi(util.Digits(label))
	if err != nil {
		return 0
	}
	return n
}
