package perfscript

import (
	"fmt"
)

// UnknownSymbol is what perf prints when neither the function nor its
// module could be resolved.
const UnknownSymbol = "[unknown]"

type (
	// Event is one sampled occurrence and its call stack, innermost frame first.
	Event struct {
		Period *uint64      `json:"period,omitempty"`
		Kind   string       `json:"kind"`
		Stack  []StackFrame `json:"stack"`
	}

	StackFrame struct {
		Function string          `json:"function"`
		Module   string          `json:"module,omitempty"`
		Source   *SourceLocation `json:"source,omitempty"`
	}

	// SourceLocation identifies one line of source text. It is comparable
	// and safe to use as a map key.
	SourceLocation struct {
		Path string `json:"path"`
		Line uint64 `json:"line"`
	}
)

// IsUnknown reports whether perf could resolve neither the function nor
// the module. Such frames are never followed by a source line.
func (f StackFrame) IsUnknown() bool {
	return f.Function == UnknownSymbol && f.Module == UnknownSymbol
}

// Weight returns the period of the event, or 1 when the input omitted it.
func (e Event) Weight() uint64 {
	if e.Period == nil {
		return 1
	}
	return *e.Period
}

func (l SourceLocation) String() string {
	return fmt.Sprintf("SourceLocation(%s, %d)", l.Path, l.Line)
}

// eventBuilder accumulates the event currently being parsed. The parser
// replaces it with a fresh value every time an event is emitted.
type eventBuilder struct {
	event Event
}

func (b *eventBuilder) setHeader(h header) {
	b.event.Period = h.period
	b.event.Kind = h.kind
}

func (b *eventBuilder) push(f StackFrame) {
	b.event.Stack = append(b.event.Stack, f)
}

// annotate attaches loc to the most recently pushed frame.
func (b *eventBuilder) annotate(loc SourceLocation) {
	if len(b.event.Stack) == 0 {
		return
	}
	b.event.Stack[len(b.event.Stack)-1].Source = &loc
}

func (b *eventBuilder) build() Event {
	return b.event
}
