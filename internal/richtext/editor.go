package richtext

import (
	"fmt"
	"html"
	"strings"
)

// EditorToHTML converts a decoded rich-text editor document (ProseMirror
// node tree as produced by the notes composer) to HTML.
func EditorToHTML(doc interface{}) string {
	root, ok := doc.(map[string]interface{})
	if !ok {
		return ""
	}
	return renderNode(root)
}

var blockTags = map[string]string{
	"paragraph":   "p",
	"bulletList":  "ul",
	"orderedList": "ol",
	"listItem":    "li",
	"blockquote":  "blockquote",
	"table":       "table",
	"tableRow":    "tr",
	"tableCell":   "td",
	"tableHeader": "th",
}

func renderNode(node map[string]interface{}) string {
	nodeType, _ := node["type"].(string)
	switch nodeType {
	case "":
		return ""
	case "doc":
		return renderContent(node["content"])
	case "heading":
		level := 1
		if attrs, ok := node["attrs"].(map[string]interface{}); ok {
			if lvl, ok := attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
				level = int(lvl)
			}
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, renderContent(node["content"]), level)
	case "codeBlock":
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", renderContent(node["content"]))
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]interface{})
		return renderTextWithMarks(text, marks)
	case "mention":
		label := ""
		if attrs, ok := node["attrs"].(map[string]interface{}); ok {
			label, _ = attrs["label"].(string)
			if label == "" {
				label, _ = attrs["id"].(string)
			}
		}
		return `<span class="mention">@` + html.EscapeString(label) + `</span>`
	case "emoji":
		if attrs, ok := node["attrs"].(map[string]interface{}); ok {
			if native, ok := attrs["native"].(string); ok {
				return html.EscapeString(native)
			}
		}
		return ""
	case "hardBreak":
		return "<br>"
	case "horizontalRule":
		return "<hr>\n"
	}
	if tag, ok := blockTags[nodeType]; ok {
		return fmt.Sprintf("<%s>%s</%s>\n", tag, renderContent(node["content"]), tag)
	}
	// Unknown node types still contribute their children.
	return renderContent(node["content"])
}

func renderContent(content interface{}) string {
	items, ok := content.([]interface{})
	if !ok {
		return ""
	}
	var result strings.Builder
	for _, item := range items {
		if node, ok := item.(map[string]interface{}); ok {
			result.WriteString(renderNode(node))
		}
	}
	return result.String()
}

var markTags = map[string]string{
	"bold":      "strong",
	"italic":    "em",
	"code":      "code",
	"strike":    "s",
	"underline": "u",
}

func renderTextWithMarks(text string, marks []interface{}) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)

	// Innermost mark is the last one in the list.
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]interface{})
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)
		if tag, ok := markTags[markType]; ok {
			out = "<" + tag + ">" + out + "</" + tag + ">"
			continue
		}
		if markType == "link" {
			href := ""
			if attrs, ok := mark["attrs"].(map[string]interface{}); ok {
				href, _ = attrs["href"].(string)
			}
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(href)), "javascript:") {
				href = ""
			}
			out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
		}
	}
	return out
}
