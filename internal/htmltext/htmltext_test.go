package htmltext

import (
	"strings"
	"testing"
)

func TestConvert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "paragraphs",
			html: "<html><body><p>Hello <b>World</b></p><p>Second paragraph</p></body></html>",
			want: "Hello World\n\nSecond paragraph",
		},
		{
			name: "line breaks",
			html: "Line one<br>Line two<br/>Line three",
			want: "Line one\nLine two\nLine three",
		},
		{
			name: "collapses whitespace",
			html: "<div>\n   lots    of\n\n  space  </div>",
			want: "lots of space",
		},
		{
			name: "drops script and style",
			html: "<style>p { color: red; }</style><p>Visible</p><script>alert('x')</script>",
			want: "Visible",
		},
		{
			name: "drops head and title",
			html: "<html><head><title>Ignored</title></head><body>Shown</body></html>",
			want: "Shown",
		},
		{
			name: "list items",
			html: "<ul><li>One</li><li>Two</li></ul>",
			want: "- One\n- Two",
		},
		{
			name: "heading then paragraph",
			html: "<h1>Title</h1><p>Body text</p>",
			want: "Title\n\nBody text",
		},
		{
			name: "link target appended",
			html: `<p>See <a href="https://example.com/report">the report</a>.</p>`,
			want: "See the report [https://example.com/report].",
		},
		{
			name: "link target equal to text",
			html: `<a href="https://example.com">https://example.com</a>`,
			want: "https://example.com",
		},
		{
			name: "mailto equal to text",
			html: `<a href="mailto:a@x.com">a@x.com</a>`,
			want: "a@x.com",
		},
		{
			name: "table rows",
			html: "<table><tr><td>a</td><td>b</td></tr><tr><td>c</td><td>d</td></tr></table>",
			want: "a b\nc d",
		},
		{
			name: "entities decoded",
			html: "<p>Fish &amp; Chips &lt;3</p>",
			want: "Fish & Chips <3",
		},
		{
			name: "preformatted",
			html: "<pre>  code\n  indented</pre>",
			want: "  code\n  indented",
		},
		{
			name: "image alt text",
			html: `<p>Logo: <img src="x.png" alt="ACME"></p>`,
			want: "Logo: ACME",
		},
		{
			name: "non-ASCII text ending an inline run",
			html: "<p><b>voilà</b>!</p>",
			want: "voilà!",
		},
		{
			name: "non-ASCII text starting an inline run",
			html: "<p><i>Å</i>ngström</p>",
			want: "Ångström",
		},
		{
			name: "accented word split across elements",
			html: "<p>café<b>s</b></p>",
			want: "cafés",
		},
		{
			name: "non-breaking space still separates words",
			html: "<p>a&nbsp;<b>b</b></p>",
			want: "a b",
		},
		{
			name: "empty document",
			html: "",
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Convert(tt.html)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Convert(%q):\n got %q\nwant %q", tt.html, got, tt.want)
			}
		})
	}
}

func TestConvert_NoMarkupInOutput(t *testing.T) {
	t.Parallel()

	src := `<html><body><div class="wrapper"><h2>Alert</h2><p>Disk <em>usage</em> at <strong>95%</strong></p>` +
		`<table><tr><th>Host</th><td>db-1</td></tr></table></div></body></html>`

	got, err := Convert(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.ContainsAny(got, "<>") {
		t.Errorf("output contains markup: %q", got)
	}
	for _, want := range []string{"Alert", "Disk usage at 95%", "Host db-1"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q, got %q", want, got)
		}
	}
}
