package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

func NowISO() string {
	return time.Now().Format(time.RFC3339)
}

// ParseBool reads the loose yes/no spellings organizers type into sheets and
// dumps. ok is false when s is none of them.
func ParseBool(s string) (v bool, ok bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "sí", "si", "yes", "true", "1", "y", "abierto":
		return true, true
	case "no", "false", "0", "n", "cerrado":
		return false, true
	default:
		return false, false
	}
}

func HMACSHA256Hex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	b := strings.Builder{}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Slug lowercases s and joins its words with underscores, for file names.
func Slug(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return "carrera"
	}
	return strings.Join(fields, "_")
}
