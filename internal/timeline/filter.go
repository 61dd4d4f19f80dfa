package timeline

import (
	"strings"
	"unicode/utf8"

	"leaddesk/api/internal/richtext"
)

const DefaultMinMeaningfulLength = 10

// FilterContent drops transactional emails whose body carries no information:
// empty after stripping markup, identical to the subject, or shorter than
// minLength runes. Other sources pass through untouched.
func FilterContent(items []Interaction, minLength int) []Interaction {
	if minLength <= 0 {
		minLength = DefaultMinMeaningfulLength
	}
	out := make([]Interaction, 0, len(items))
	for _, item := range items {
		if item.Source == SourceEmail && !meaningfulEmail(item, minLength) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func meaningfulEmail(item Interaction, minLength int) bool {
	body := richtext.PlainText(item.Content)
	if body == "" {
		return false
	}
	subject := strings.Join(strings.Fields(item.Subject), " ")
	if subject != "" && strings.EqualFold(body, subject) {
		return false
	}
	return utf8.RuneCountInString(body) >= minLength
}
