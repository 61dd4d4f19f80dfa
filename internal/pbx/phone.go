package pbx

import "strings"

// SuffixLength is how many trailing digits two numbers must share to be the
// same line. It ignores country and area prefixes that agents type
// inconsistently.
const SuffixLength = 8

// Digits strips everything but 0-9.
func Digits(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneSuffix returns the last SuffixLength digits of number, or "" when the
// number is too short to match reliably.
func PhoneSuffix(number string) string {
	digits := Digits(number)
	if len(digits) < SuffixLength {
		return ""
	}
	return digits[len(digits)-SuffixLength:]
}
