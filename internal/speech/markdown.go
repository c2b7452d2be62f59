// Package speech holds the audio collaborators of the voice loop:
// devices that capture one utterance and speak one reply, and the
// conversion of markdown replies into speakable text.
package speech

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/dazzy/internal/htmltext"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

// HTML renders markdown to HTML. On a render error the markdown is
// returned unchanged.
func HTML(markdown string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	return buf.String()
}

// Plain strips markdown syntax so a reply can be spoken: "**Paris**"
// becomes "Paris" and list items become separate lines.
func Plain(markdown string) string {
	if !strings.ContainsAny(markdown, "*_`#[]>|~-") {
		return strings.TrimSpace(markdown)
	}
	return htmltext.Text(HTML(markdown))
}
