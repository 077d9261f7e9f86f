// ABOUTME: Formats agent output for Telegram delivery.
// ABOUTME: Converts markdown to Telegram-safe HTML and splits long messages.

package format

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// MaxMessageLength is Telegram's per-message character limit.
const MaxMessageLength = 4096

// Message is one chunk ready to send. HTML selects Telegram's HTML parse
// mode; plain messages are sent without a parse mode.
type Message struct {
	Text string
	HTML bool
}

// Telegram accepts only a small inline tag set; everything else must be
// rewritten or removed before sending.
var policy = telegramPolicy()

func telegramPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del",
		"code", "pre", "blockquote")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[a-zA-Z0-9+-]*$`)).OnElements("code")
	return p
}

var (
	headingOpen  = regexp.MustCompile(`<h[1-6][^>]*>`)
	headingClose = regexp.MustCompile(`</h[1-6]>`)
	excessBlank  = regexp.MustCompile(`\n{3,}`)
)

// blockReplacer rewrites block-level tags Telegram rejects into plain-text
// structure before sanitization.
var blockReplacer = strings.NewReplacer(
	"<p>", "", "</p>", "\n\n",
	"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	"<ul>", "", "</ul>", "\n",
	"<ol>", "", "</ol>", "\n",
	"<li>", "• ", "</li>", "\n",
	"<hr>", "\n", "<hr/>", "\n", "<hr />", "\n",
)

// Render converts agent markdown into Telegram-ready messages, splitting
// anything over the length limit. When markdown conversion fails the text is
// sent as-is in plain mode rather than dropped.
func Render(markdown string) []Message {
	text := strings.TrimSpace(markdown)
	if text == "" {
		return []Message{{Text: "No response"}}
	}

	html, err := toTelegramHTML(text)
	if err != nil {
		return plainMessages(text)
	}

	chunks := Split(html, MaxMessageLength)
	msgs := make([]Message, 0, len(chunks))
	for _, chunk := range chunks {
		msgs = append(msgs, Message{Text: chunk, HTML: true})
	}
	return msgs
}

// RenderError formats a failure for the chat. Plain mode, so error text can
// never break Telegram's HTML parser.
func RenderError(errText string) Message {
	return Message{Text: "❌ Error: " + errText}
}

func plainMessages(text string) []Message {
	chunks := Split(text, MaxMessageLength)
	msgs := make([]Message, 0, len(chunks))
	for _, chunk := range chunks {
		msgs = append(msgs, Message{Text: chunk})
	}
	return msgs
}

func toTelegramHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}

	html := buf.String()
	html = headingOpen.ReplaceAllString(html, "<b>")
	html = headingClose.ReplaceAllString(html, "</b>\n")
	html = blockReplacer.Replace(html)
	html = policy.Sanitize(html)
	html = excessBlank.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html), nil
}

// Split breaks text into chunks of at most maxLen runes, preferring natural
// boundaries. Paragraph breaks beat line breaks beat sentence and word
// boundaries; a boundary in the first half of the window is ignored so
// chunks never get degenerately short.
func Split(text string, maxLen int) []string {
	var out []string
	remaining := []rune(text)

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			out = append(out, string(remaining))
			break
		}

		cut := splitPoint(remaining, maxLen)
		chunk := strings.TrimRight(string(remaining[:cut]), " \t\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		remaining = []rune(strings.TrimLeft(string(remaining[cut:]), " \t\n"))
	}
	return out
}

func splitPoint(text []rune, maxLen int) int {
	window := string(text[:maxLen])

	for _, sep := range []string{"\n\n", "\n", ". ", ", ", " "} {
		bytePos := strings.LastIndex(window, sep)
		if bytePos < 0 {
			continue
		}
		runePos := utf8.RuneCountInString(window[:bytePos])
		if runePos > maxLen/2 {
			return runePos + utf8.RuneCountInString(sep)
		}
	}
	return maxLen
}
