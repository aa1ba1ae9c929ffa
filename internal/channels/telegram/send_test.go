package telegram

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/beacon/internal/bus"
)

func TestRenderHTMLPlainText(t *testing.T) {
	msg := &bus.OutgoingMessage{Content: "just words, no formatting"}
	text, mode := renderHTML(msg)
	if mode != "" || text != msg.Content {
		t.Errorf("plain render = %q mode %q", text, mode)
	}
}

func TestRenderHTMLCodeBlock(t *testing.T) {
	msg := &bus.OutgoingMessage{Content: "Here:\n```python\nprint(\"a < b\")\n```\ndone"}
	text, mode := renderHTML(msg)
	if mode != "HTML" {
		t.Fatalf("mode = %q", mode)
	}
	if !strings.Contains(text, `<pre><code class="language-python">`) {
		t.Errorf("no code wrapper: %q", text)
	}
	if !strings.Contains(text, "a &lt; b") {
		t.Errorf("code not escaped: %q", text)
	}
	if !strings.Contains(text, "done") {
		t.Errorf("trailing text lost: %q", text)
	}
}

func TestRenderHTMLBareFence(t *testing.T) {
	msg := &bus.OutgoingMessage{Content: "```\nx := 1\n```"}
	text, _ := renderHTML(msg)
	if !strings.Contains(text, "<pre>x := 1") {
		t.Errorf("bare fence render = %q", text)
	}
	if strings.Contains(text, "language-") {
		t.Errorf("language class on bare fence: %q", text)
	}
}

func TestInlineHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**bold** word", "<b>bold</b> word"},
		{"use `go vet` here", "use <code>go vet</code> here"},
		{"a < b & c", "a &lt; b &amp; c"},
		{"unbalanced ` tick", "unbalanced ` tick"},
	}
	for _, tt := range tests {
		if got := inlineHTML(tt.in); got != tt.want {
			t.Errorf("inlineHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsErrorClassifiers(t *testing.T) {
	parse := errString("telegram: Bad Request: can't parse entities: ...")
	if !isParseError(parse) || isNotModified(parse) {
		t.Error("parse error misclassified")
	}
	notMod := errString("telegram: Bad Request: message is not modified")
	if !isNotModified(notMod) {
		t.Error("not-modified misclassified")
	}
	throttle := errString("telegram: Too Many Requests: retry after 20")
	if !isThrottled(throttle) {
		t.Error("throttle misclassified")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID("-10042"); err != nil || id != -10042 {
		t.Errorf("parseChatID = %d, %v", id, err)
	}
	if _, err := parseChatID("abc"); err == nil {
		t.Error("want error for non-numeric chat id")
	}
}
