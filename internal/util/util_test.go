package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseBool(t *testing.T) {
	cases := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"sí", true, true},
		{" TRUE ", true, true},
		{"1", true, true},
		{"no", false, true},
		{"false", false, true},
		{"", false, false},
		{"maybe", false, false},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := ParseBool(c.in)
			assert.Equal(t, c.want, got)
			assert.Equal(t, c.wantOK, ok)
		})
	}
}

func TestDigits(t *testing.T) {
	assert.Equal(t, "5512345678", Digits("+55 (123) 456-78"))
	assert.Equal(t, "", Digits("abc"))
	assert.Equal(t, "0442", Digits("04-42"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "fecha_2_el_pinal", Slug("Fecha 2 - El Pinal"))
	assert.Equal(t, "carrera", Slug("  "))
}

func TestHMACSHA256HexIsStable(t *testing.T) {
	a := HMACSHA256Hex("secret", "export:participants")
	b := HMACSHA256Hex("secret", "export:participants")
	c := HMACSHA256Hex("other", "export:participants")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
