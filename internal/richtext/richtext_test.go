package richtext

import (
	"strings"
	"testing"
)

func TestEditorToHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: "",
		},
		{
			name: "simple paragraph",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{"type": "text", "text": "Client called back"},
						},
					},
				},
			},
			expected: "<p>Client called back</p>",
		},
		{
			name: "heading with levels",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type":  "heading",
						"attrs": map[string]interface{}{"level": 2.0},
						"content": []interface{}{
							map[string]interface{}{"type": "text", "text": "Hearing"},
						},
					},
				},
			},
			expected: "<h2>Hearing</h2>",
		},
		{
			name: "bold and italic text",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "paragraph",
						"content": []interface{}{
							map[string]interface{}{
								"type": "text",
								"text": "Urgent",
								"marks": []interface{}{
									map[string]interface{}{"type": "bold"},
									map[string]interface{}{"type": "italic"},
								},
							},
						},
					},
				},
			},
			expected: "<strong><em>Urgent</em></strong>",
		},
		{
			name: "javascript link is neutralised",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{
						"type": "text",
						"text": "click",
						"marks": []interface{}{
							map[string]interface{}{"type": "link", "attrs": map[string]interface{}{"href": "javascript:alert(1)"}},
						},
					},
				},
			},
			expected: `<a href="">click</a>`,
		},
		{
			name: "emoji and mention",
			input: map[string]interface{}{
				"type": "doc",
				"content": []interface{}{
					map[string]interface{}{"type": "mention", "attrs": map[string]interface{}{"label": "Dana"}},
					map[string]interface{}{"type": "emoji", "attrs": map[string]interface{}{"native": "👍"}},
				},
			},
			expected: `<span class="mention">@Dana</span>👍`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strings.TrimSpace(EditorToHTML(tt.input))
			if !strings.Contains(result, tt.expected) {
				t.Errorf("EditorToHTML() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"", FormatPlain},
		{"Called, no answer", FormatPlain},
		{"a < b and c > d", FormatPlain},
		{"<p>Hello</p>", FormatHTML},
		{"Hi<br/>there", FormatHTML},
		{`{"type":"doc","content":[]}`, FormatEditor},
		{`{"type":"other"}`, FormatPlain},
	}
	for _, tt := range tests {
		if got := Detect(tt.input); got != tt.want {
			t.Errorf("Detect(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestToHTMLEscapesPlainText(t *testing.T) {
	got := ToHTML("Offer: 5 < 6\nSee you")
	if got != "Offer: 5 &lt; 6<br>See you" {
		t.Fatalf("ToHTML() = %q", got)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "  hello \n  world ", "hello world"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"html blocks", "<div>Dear client,</div><p>See the <b>contract</b>.</p>", "Dear client, See the contract."},
		{"drops style", "<style>p{color:red}</style><p>Body</p>", "Body"},
		{"editor doc", `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Note"}]}]}`, "Note"},
		{"empty markup", "<p> </p><br>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("hello world", 6); got != "hello…" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("anything", 0); got != "" {
		t.Errorf("Truncate() = %q", got)
	}
}
