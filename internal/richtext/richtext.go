// Package richtext turns the content formats stored by the CRM (rich-text
// editor JSON, raw HTML email bodies, plain text notes) into renderable HTML
// and searchable plain text.
package richtext

import (
	"encoding/json"
	"html"
	"strings"
	"unicode"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Format identifies how a stored content string was authored.
type Format string

const (
	FormatPlain  Format = "plain"
	FormatHTML   Format = "html"
	FormatEditor Format = "editor"
)

// Detect classifies raw content without rendering it.
func Detect(raw string) Format {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return FormatPlain
	}
	if strings.HasPrefix(trimmed, "{") {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(trimmed), &probe); err == nil && probe.Type == "doc" {
			return FormatEditor
		}
	}
	if looksLikeHTML(trimmed) {
		return FormatHTML
	}
	return FormatPlain
}

// ToHTML renders raw content as HTML. Editor documents are converted node by
// node, HTML passes through and plain text is escaped with line breaks kept.
func ToHTML(raw string) string {
	switch Detect(raw) {
	case FormatEditor:
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
			return plainToHTML(raw)
		}
		return strings.TrimSpace(EditorToHTML(doc))
	case FormatHTML:
		return strings.TrimSpace(raw)
	default:
		return plainToHTML(raw)
	}
}

// PlainText strips markup and collapses whitespace. Script and style bodies
// are dropped.
func PlainText(content string) string {
	if Detect(content) == FormatEditor {
		content = ToHTML(content)
	}
	if !looksLikeHTML(content) {
		return collapseSpace(html.UnescapeString(content))
	}

	var b strings.Builder
	tokenizer := xhtml.NewTokenizer(strings.NewReader(content))
	skip := 0
	for {
		tt := tokenizer.Next()
		switch tt {
		case xhtml.ErrorToken:
			return collapseSpace(b.String())
		case xhtml.StartTagToken:
			tok := tokenizer.Token()
			if tok.DataAtom == atom.Script || tok.DataAtom == atom.Style || tok.DataAtom == atom.Head {
				skip++
			}
			if isBlock(tok.DataAtom) {
				b.WriteByte(' ')
			}
		case xhtml.EndTagToken:
			tok := tokenizer.Token()
			if (tok.DataAtom == atom.Script || tok.DataAtom == atom.Style || tok.DataAtom == atom.Head) && skip > 0 {
				skip--
			}
			if isBlock(tok.DataAtom) {
				b.WriteByte(' ')
			}
		case xhtml.SelfClosingTagToken:
			b.WriteByte(' ')
		case xhtml.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

// Truncate cuts s to at most n runes, appending an ellipsis when shortened.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimRightFunc(string(runes[:n]), unicode.IsSpace) + "…"
}

func plainToHTML(raw string) string {
	escaped := html.EscapeString(strings.TrimSpace(raw))
	return strings.ReplaceAll(escaped, "\n", "<br>")
}

func looksLikeHTML(s string) bool {
	open := strings.Index(s, "<")
	if open < 0 {
		return false
	}
	rest := s[open+1:]
	if rest == "" {
		return false
	}
	c := rest[0]
	if c == '/' || c == '!' || unicode.IsLetter(rune(c)) {
		return strings.Contains(rest, ">")
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Td, atom.Th,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Table, atom.Ul, atom.Ol, atom.Hr:
		return true
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
