package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type echoTool struct {
	calls int
	reply func(args map[string]interface{}) *Result
}

func (t *echoTool) Name() string        { return "echo" }
func (t *echoTool) Description() string { return "Returns its input." }
func (t *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"x": map[string]interface{}{"type": "string"},
		},
		"required": []string{"x"},
	}
}

func (t *echoTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	t.calls++
	if t.reply != nil {
		return t.reply(args)
	}
	x, _ := args["x"].(string)
	return NewResult(x)
}

func TestRegistryCollision(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&echoTool{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&echoTool{}); err == nil {
		t.Error("want error on duplicate name")
	}
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	ctx := context.Background()
	if got := r.Execute(ctx, "echo", map[string]interface{}{"x": "hi"}); got != "hi" {
		t.Errorf("Execute = %q", got)
	}
	if got := r.Execute(ctx, "missing", nil); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("unknown tool = %q", got)
	}
}

func TestRegistryExecuteErrorPrefix(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{reply: func(map[string]interface{}) *Result {
		return ErrorResult("it broke")
	}})

	got := r.Execute(context.Background(), "echo", nil)
	if got != "Error: it broke" {
		t.Errorf("error result = %q", got)
	}
}

func TestRegistryExecutePanicIsContained(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{reply: func(map[string]interface{}) *Result {
		panic("boom")
	}})

	got := r.Execute(context.Background(), "echo", nil)
	if !strings.HasPrefix(got, "Error: ") {
		t.Errorf("panic leaked: %q", got)
	}
}

func TestRegistryExecuteJSON(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})

	ctx := context.Background()
	if got := r.ExecuteJSON(ctx, "echo", `{"x":"json"}`); got != "json" {
		t.Errorf("ExecuteJSON = %q", got)
	}
	if got := r.ExecuteJSON(ctx, "echo", `{bad`); !strings.HasPrefix(got, "Error: ") {
		t.Errorf("bad json = %q", got)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{})
	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Type != "function" || defs[0].Function.Name != "echo" {
		t.Errorf("defs = %+v", defs)
	}
}

func TestLoopDetectorIdenticalCalls(t *testing.T) {
	d := NewLoopDetector()
	args := map[string]interface{}{"x": "q"}

	var got []LoopSeverity
	for i := 0; i < 5; i++ {
		got = append(got, d.Record("echo", args, "q"))
	}
	want := []LoopSeverity{LoopNone, LoopNone, LoopCritical, LoopCritical, LoopCircuitBreaker}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: severity = %v, want %v", i+1, got[i], want[i])
		}
	}
}

func TestLoopDetectorWarningOnDivergingResults(t *testing.T) {
	d := NewLoopDetector()
	args := map[string]interface{}{"x": "q"}

	if s := d.Record("echo", args, "first"); s != LoopNone {
		t.Errorf("first call = %v", s)
	}
	if s := d.Record("echo", args, "second"); s != LoopWarning {
		t.Errorf("second call with different result = %v", s)
	}
}

func TestLoopDetectorDistinctArgsAreIndependent(t *testing.T) {
	d := NewLoopDetector()
	for i := 0; i < 6; i++ {
		args := map[string]interface{}{"x": fmt.Sprintf("v%d", i)}
		if s := d.Record("echo", args, "r"); s != LoopNone {
			t.Errorf("distinct args call %d = %v", i, s)
		}
	}
}

func TestLoopDetectorCircuitBreakerAcrossResults(t *testing.T) {
	d := NewLoopDetector()
	args := map[string]interface{}{"x": "q"}
	// Five calls with same args trip the breaker even if results vary.
	var last LoopSeverity
	for i := 0; i < 5; i++ {
		last = d.Record("echo", args, fmt.Sprintf("r%d", i))
	}
	if last != LoopCircuitBreaker {
		t.Errorf("fifth call = %v, want circuit breaker", last)
	}
}
