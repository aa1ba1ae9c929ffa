package bus

import "strings"

// CodeBlock is one fenced code segment extracted from message content.
type CodeBlock struct {
	Lang string
	Code string
}

// HasCodeBlocks reports whether the content contains at least one complete
// triple-backtick fenced block.
func (m *OutgoingMessage) HasCodeBlocks() bool {
	first := strings.Index(m.Content, "```")
	if first < 0 {
		return false
	}
	return strings.Contains(m.Content[first+3:], "```")
}

// HasMarkdown reports whether the content carries markdown-ish markup that
// adapters may want to render natively (bold, italics, links, fences).
func (m *OutgoingMessage) HasMarkdown() bool {
	for _, marker := range []string{"```", "**", "__", "](", "`", "~~"} {
		if strings.Contains(m.Content, marker) {
			return true
		}
	}
	return false
}

// ExtractCodeBlocks splits the content into fenced code blocks, returning
// them in order of appearance. The surrounding plain text is available via
// SplitSegments.
func (m *OutgoingMessage) ExtractCodeBlocks() []CodeBlock {
	var blocks []CodeBlock
	for _, seg := range m.SplitSegments() {
		if seg.IsCode {
			blocks = append(blocks, CodeBlock{Lang: seg.Lang, Code: seg.Text})
		}
	}
	return blocks
}

// Segment is a run of message content, either plain text or one code block.
type Segment struct {
	Text   string
	IsCode bool
	Lang   string
}

// SplitSegments splits the content into alternating plain and code segments.
// An unterminated fence is treated as plain text.
func (m *OutgoingMessage) SplitSegments() []Segment {
	var segs []Segment
	rest := m.Content
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		afterOpen := rest[open+3:]
		nl := strings.IndexByte(afterOpen, '\n')
		lang := ""
		body := afterOpen
		if nl >= 0 {
			lang = strings.TrimSpace(afterOpen[:nl])
			body = afterOpen[nl+1:]
		}
		closeIdx := strings.Index(body, "```")
		if closeIdx < 0 {
			break
		}
		if plain := rest[:open]; strings.TrimSpace(plain) != "" {
			segs = append(segs, Segment{Text: plain})
		}
		segs = append(segs, Segment{Text: strings.TrimRight(body[:closeIdx], "\n"), IsCode: true, Lang: lang})
		rest = body[closeIdx+3:]
	}
	if strings.TrimSpace(rest) != "" {
		segs = append(segs, Segment{Text: rest})
	}
	return segs
}
