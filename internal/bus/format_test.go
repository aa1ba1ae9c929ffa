package bus

import "testing"

func TestHasCodeBlocks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"none", "plain text only", false},
		{"fenced", "before\n```go\nfmt.Println()\n```\nafter", true},
		{"unterminated", "broken ``` fence", false},
		{"bare pair", "```\nx\n```", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &OutgoingMessage{Content: tt.content}
			if got := m.HasCodeBlocks(); got != tt.want {
				t.Errorf("HasCodeBlocks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractCodeBlocks(t *testing.T) {
	m := &OutgoingMessage{Content: "intro\n```python\nprint(1)\n```\nmiddle\n```\nraw\n```\n"}
	blocks := m.ExtractCodeBlocks()
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Lang != "python" || blocks[0].Code != "print(1)" {
		t.Errorf("first block = %+v", blocks[0])
	}
	if blocks[1].Lang != "" || blocks[1].Code != "raw" {
		t.Errorf("second block = %+v", blocks[1])
	}
}

func TestSplitSegments(t *testing.T) {
	m := &OutgoingMessage{Content: "a\n```go\ncode\n```\nb"}
	segs := m.SplitSegments()
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].IsCode || !segs[1].IsCode || segs[2].IsCode {
		t.Errorf("segment code flags wrong: %+v", segs)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2)
	for i := 0; i < 5; i++ {
		q.Push(IncomingMessage{ID: "m", Channel: "test"})
	}
	if q.Len() != 2 {
		t.Errorf("queue len = %d, want 2", q.Len())
	}
}
