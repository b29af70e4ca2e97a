// Package race holds the event rules: category numbering, participant
// registration, transponder check-in and the race session.
package race

import (
	"fmt"
	"strconv"
	"strings"

	"motoreg-bot/internal/models"
)

// Rule is the number range of a category. Prefixed rules produce labels like
// "F07"; plain rules produce "400" or, for ranges starting below 10, "07".
type Rule struct {
	Min, Max int
	Prefix   string
}

var rules = map[models.Category]Rule{
	models.CatExpertos:      {Min: 1, Max: 99},
	models.CatExpertos30:    {Min: 100, Max: 199},
	models.CatAvanzados:     {Min: 200, Max: 299},
	models.CatExpertos40:    {Min: 300, Max: 399},
	models.CatIntermedios:   {Min: 400, Max: 499},
	models.CatClase30:       {Min: 500, Max: 599},
	models.CatClase40:       {Min: 600, Max: 699},
	models.CatClase50:       {Min: 700, Max: 799},
	models.CatNovatos:       {Min: 800, Max: 999},
	models.CatPromocionales: {Min: 1000, Max: 1099},
	models.CatFemenil:       {Min: 1, Max: 99, Prefix: "F"},
	models.Cat85cc:          {Min: 1, Max: 99, Prefix: "J"},
	models.Cat65cc:          {Min: 1, Max: 99, Prefix: "I"},
	models.Cat50cc:          {Min: 1, Max: 99, Prefix: "I"},
}

// RuleFor returns the rule of c. Every category in models.Categories has
// one, so a missing rule is a programming error.
func RuleFor(c models.Category) Rule {
	r, ok := rules[c]
	if !ok {
		panic(fmt.Sprintf("race: no number rule for category %q", c))
	}
	return r
}

// Label renders number n under this rule.
func (r Rule) Label(n int) string {
	switch {
	case r.Prefix != "":
		return fmt.Sprintf("%s%02d", r.Prefix, n)
	case r.Min < 10 && n < 10:
		return fmt.Sprintf("%02d", n)
	default:
		return strconv.Itoa(n)
	}
}

// Describe is the human-readable range, e.g. "01 - 99" or "F01 - F99".
func (r Rule) Describe() string {
	return r.Label(r.Min) + " - " + r.Label(r.Max)
}

// ParseCategory matches s against the known categories ignoring case and
// surrounding blanks.
func ParseCategory(s string) (models.Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range models.Categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// CategoryIndex is the position of c in the fixed ordering; unknown
// categories sort after all known ones.
func CategoryIndex(c models.Category) int {
	for i, k := range models.Categories {
		if k == c {
			return i
		}
	}
	return len(models.Categories)
}
