// Package local summarizes the roster without any network call.
package local

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"motoreg-bot/internal/models"
)

type Summarizer struct{}

func New() *Summarizer { return &Summarizer{} }

func (s *Summarizer) Name() string { return "local" }

type count struct {
	key string
	n   int
}

// top returns the most frequent key; ties go to the alphabetically first.
func top(counts map[string]int) count {
	all := make([]count, 0, len(counts))
	for k, n := range counts {
		all = append(all, count{k, n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].key < all[j].key
	})
	if len(all) == 0 {
		return count{}
	}
	return all[0]
}

func (s *Summarizer) Summarize(_ context.Context, ps []models.Participant) (string, bool) {
	title := cases.Title(language.Spanish)
	byCat := map[string]int{}
	byRes := map[string]int{}
	novices := 0
	for _, p := range ps {
		byCat[string(p.Category)]++
		res := strings.TrimSpace(p.Residence)
		if res == "" {
			res = "sin residencia"
		}
		byRes[title.String(strings.ToLower(res))]++
		if p.Category == models.CatNovatos || p.Category == models.CatPromocionales {
			novices++
		}
	}
	cat, res := top(byCat), top(byRes)

	var b strings.Builder
	fmt.Fprintf(&b, "Inscritos: %d.\n", len(ps))
	fmt.Fprintf(&b, "1. Categoría más competitiva: %s (%d pilotos).\n", cat.key, cat.n)
	fmt.Fprintf(&b, "2. Procedencia: %d localidades distintas; la mayoría de %s (%d).\n", len(byRes), res.key, res.n)
	switch {
	case novices*3 >= len(ps):
		b.WriteString("3. Sugerencia: hay muchos pilotos nuevos, reforzar banderilleros y seguridad en las zonas fáciles.")
	case cat.n*2 > len(ps):
		fmt.Fprintf(&b, "3. Sugerencia: %s concentra más de la mitad de la parrilla, considerar dividirla en mangas.", cat.key)
	default:
		b.WriteString("3. Sugerencia: publicar horarios por categoría con anticipación para ordenar el paddock.")
	}
	return b.String(), true
}
