package perfscript

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/getsentry/perfline/internal/testutil"
)

func period(v uint64) *uint64 {
	return &v
}

func collect(t *testing.T, input string) ([]Event, []*MalformedLineError) {
	t.Helper()
	var diagnostics []*MalformedLineError
	events, err := ParseAll(strings.NewReader(input), WithDiagnostics(func(err *MalformedLineError) {
		diagnostics = append(diagnostics, err)
	}))
	if err != nil {
		t.Fatalf("we should be able to parse the input: %v", err)
	}
	return events, diagnostics
}

func TestParser(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		events      []Event
		diagnostics int
	}{
		{
			name:  "empty input",
			input: "",
		},
		{
			name:  "only blank lines",
			input: "\n\n   \n",
		},
		{
			name: "single verbose event",
			input: "123456 1000 cycles\n" +
				" ffff deadbeef mymodule.so.func_a (mymodule.so)\n" +
				"/proj/src/a.c:42 mymodule.so\n" +
				"\n",
			events: []Event{
				{
					Period: period(1000),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "deadbeef mymodule.so.func_a",
							Module:   "mymodule.so",
							Source:   &SourceLocation{Path: "/proj/src/a.c", Line: 42},
						},
					},
				},
			},
		},
		{
			name: "perf script header with modifiers and offsets",
			input: "prog 12345 [001] 100.000001:     250000 cycles:u: \n" +
				"\t    55d0c0a1b2c3 compute+0x13 (/proj/target/release/prog)\n" +
				"  /proj/src/lib.rs:17 prog[1b2c3]\n" +
				"\t    55d0c0a1b000 main+0x40 (/proj/target/release/prog)\n" +
				"  /proj/src/main.rs:5 prog[1b000]\n" +
				"\t    7f0000001234 __libc_start_main+0xf3 (/usr/lib/libc.so.6)\n" +
				"  libc-start.c:308 libc.so.6\n" +
				"\n",
			events: []Event{
				{
					Period: period(250000),
					Kind:   "cycles:u",
					Stack: []StackFrame{
						{
							Function: "compute",
							Module:   "/proj/target/release/prog",
							Source:   &SourceLocation{Path: "/proj/src/lib.rs", Line: 17},
						},
						{
							Function: "main",
							Module:   "/proj/target/release/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.rs", Line: 5},
						},
						{
							Function: "__libc_start_main",
							Module:   "/usr/lib/libc.so.6",
							Source:   &SourceLocation{Path: "libc-start.c", Line: 308},
						},
					},
				},
			},
		},
		{
			name: "unknown frame consumes no source line",
			input: "prog 1 1.0: 10 cycles:\n" +
				"\tffffffffffffffff [unknown] ([unknown])\n" +
				"\t55d0c0a1b000 main+0x40 (/proj/bin/prog)\n" +
				"  /proj/src/main.rs:5 prog\n" +
				"\n",
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack: []StackFrame{
						{Function: UnknownSymbol, Module: UnknownSymbol},
						{
							Function: "main",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.rs", Line: 5},
						},
					},
				},
			},
		},
		{
			name: "frame without debug info",
			input: "prog 1 1.0: 10 cycles:\n" +
				"\t7f0000001234 memcpy+0x10 (/usr/lib/libc.so.6)\n" +
				"  libc.so.6[1234]\n" +
				"\t55d0c0a1b000 main (/proj/bin/prog)\n" +
				"  /proj/src/main.rs:5 prog\n",
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack: []StackFrame{
						{Function: "memcpy", Module: "/usr/lib/libc.so.6"},
						{
							Function: "main",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.rs", Line: 5},
						},
					},
				},
			},
		},
		{
			name: "malformed line number",
			input: "prog 1 1.0: 10 cycles:\n" +
				"\tffff func_a (/proj/bin/prog)\n" +
				"/proj/src/a.c:notanumber\n" +
				"\n",
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack:  []StackFrame{{Function: "func_a", Module: "/proj/bin/prog"}},
				},
			},
			diagnostics: 1,
		},
		{
			name: "malformed header is skipped",
			input: "garbage\n" +
				"\tffff func_a (/proj/bin/prog)\n" +
				"/proj/src/a.c:1\n" +
				"\n",
			events: []Event{
				{
					Stack: []StackFrame{
						{
							Function: "func_a",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/a.c", Line: 1},
						},
					},
				},
			},
			diagnostics: 1,
		},
		{
			name: "malformed frame produces no frame",
			input: "prog 1 1.0: 10 cycles:\n" +
				"nosymbol\n" +
				"\tffff func_a (/proj/bin/prog)\n" +
				"/proj/src/a.c:3\n",
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "func_a",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/a.c", Line: 3},
						},
					},
				},
			},
			diagnostics: 1,
		},
		{
			name: "combined headers",
			input: "prog 1 1.0: 500 cycles: ffff compute+0x1 (/proj/bin/prog)\n" +
				"/proj/src/lib.rs:9 prog\n" +
				"prog 1 1.1: 700 cycles: ffff std::vec::Vec<T>::push (/proj/bin/prog)\n" +
				"/proj/src/lib.rs:10 prog\n",
			events: []Event{
				{
					Period: period(500),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "compute",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/lib.rs", Line: 9},
						},
					},
				},
				{
					Period: period(700),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "std::vec::Vec<T>::push",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/lib.rs", Line: 10},
						},
					},
				},
			},
		},
		{
			name: "colon in the process name",
			input: "kworker/0:1 123 [000] 1.0: 77 cycles:\n" +
				"\tffffffff81000000 worker_thread+0x10 ([kernel.kallsyms])\n" +
				"  kernel/workqueue.c:2280 [kernel.kallsyms]\n" +
				"\tffffffff81000100 kthread+0x20 ([kernel.kallsyms])\n" +
				"  kernel/kthread.c:376 [kernel.kallsyms]\n" +
				"\n" +
				"prog 1 1.1: 10 cycles:\n" +
				"\tffff main (/proj/bin/prog)\n" +
				"/proj/src/main.c:1\n" +
				"\n",
			events: []Event{
				{
					Period: period(77),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "worker_thread",
							Module:   "[kernel.kallsyms]",
							Source:   &SourceLocation{Path: "kernel/workqueue.c", Line: 2280},
						},
						{
							Function: "kthread",
							Module:   "[kernel.kallsyms]",
							Source:   &SourceLocation{Path: "kernel/kthread.c", Line: 376},
						},
					},
				},
				{
					Period: period(10),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "main",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.c", Line: 1},
						},
					},
				},
			},
		},
		{
			name: "missing period",
			input: "prog 1 1.0: cpu-clock:\n" +
				"\tffff main (/proj/bin/prog)\n" +
				"/proj/src/main.c:1\n",
			events: []Event{
				{
					Kind: "cpu-clock",
					Stack: []StackFrame{
						{
							Function: "main",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.c", Line: 1},
						},
					},
				},
			},
		},
		{
			name: "partial event at end of input",
			input: "prog 1 1.0: 10 cycles:\n" +
				"\tffff main (/proj/bin/prog)\n",
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack:  []StackFrame{{Function: "main", Module: "/proj/bin/prog"}},
				},
			},
		},
		{
			name: "header only",
			input: "prog 1 1.0: 10 cycles:\n" +
				"\n",
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, diagnostics := collect(t, tt.input)
			if diff := testutil.Diff(events, tt.events); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
			if len(diagnostics) != tt.diagnostics {
				t.Fatalf("expected %d diagnostics but got %d: %v", tt.diagnostics, len(diagnostics), diagnostics)
			}
		})
	}
}

func TestParserCountsBlocks(t *testing.T) {
	block := "prog 1 1.0: 10 cycles:\n" +
		"\tffff compute (/proj/bin/prog)\n" +
		"/proj/src/lib.rs:9 prog\n" +
		"\tffff main (/proj/bin/prog)\n" +
		"/proj/src/main.rs:2 prog\n"
	for _, n := range []int{1, 2, 10} {
		input := strings.Repeat(block+"\n", n-1) + block
		events, diagnostics := collect(t, input)
		if len(events) != n {
			t.Fatalf("expected %d events but got %d", n, len(events))
		}
		if len(diagnostics) != 0 {
			t.Fatalf("expected no diagnostics but got %v", diagnostics)
		}
		for _, e := range events {
			if len(e.Stack) != 2 {
				t.Fatalf("expected 2 frames but got %d", len(e.Stack))
			}
		}
	}
}

func TestMalformedLineErrorDetails(t *testing.T) {
	_, diagnostics := collect(t, "prog 1 1.0: 10 cycles:\n"+
		"\tffff func_a (/proj/bin/prog)\n"+
		"/proj/src/a.c:notanumber\n")
	if len(diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic but got %d", len(diagnostics))
	}
	d := diagnostics[0]
	if d.LineNumber != 3 {
		t.Fatalf("expected line 3 but got %d", d.LineNumber)
	}
	if d.State != StateAfterStackFrame {
		t.Fatalf("expected state %s but got %s", StateAfterStackFrame, d.State)
	}
	if !errors.Is(d, ErrMalformedSourceLine) {
		t.Fatalf("expected a malformed source line error but got %v", d.Err)
	}
}

func TestParserStopsEarly(t *testing.T) {
	input := "prog 1 1.0: 1 cycles:\n\tffff a (m)\n/proj/a.c:1\n\n" +
		"prog 1 1.1: 2 cycles:\n\tffff b (m)\n/proj/b.c:2\n\n" +
		"prog 1 1.2: 3 cycles:\n\tffff c (m)\n/proj/c.c:3\n"
	p := NewParser(strings.NewReader(input))
	for e := range p.All() {
		if e.Weight() != 1 {
			t.Fatalf("expected weight 1 but got %d", e.Weight())
		}
		break
	}
	var rest []uint64
	for e := range p.All() {
		rest = append(rest, e.Weight())
	}
	if diff := testutil.Diff(rest, []uint64{2, 3}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestParserReadError(t *testing.T) {
	readErr := errors.New("broken pipe")
	p := NewParser(iotest.ErrReader(readErr))
	if p.Next() {
		t.Fatal("we should not get an event")
	}
	if !errors.Is(p.Err(), readErr) {
		t.Fatalf("expected %v but got %v", readErr, p.Err())
	}
}

func TestParserLongLines(t *testing.T) {
	long := "\tffff " + strings.Repeat("x", 100) + " (/proj/bin/prog)\n"
	tests := []struct {
		name        string
		input       string
		maxLineSize int
		events      []Event
		diagnostics int
	}{
		{
			name: "oversized frame is skipped",
			input: "prog 1 1.0: 10 cycles:\n" +
				long +
				"\tffff main (/proj/bin/prog)\n" +
				"/proj/src/main.c:1\n" +
				"\n",
			maxLineSize: 64,
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: "main",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.c", Line: 1},
						},
					},
				},
			},
			diagnostics: 1,
		},
		{
			name: "oversized header still delimits an event",
			input: "prog 1 1.0: 10 cycles:" + strings.Repeat(" ", 100) + "\n" +
				"\tffff main (/proj/bin/prog)\n" +
				"/proj/src/main.c:1\n" +
				"\n" +
				"prog 1 1.1: 20 cycles:\n" +
				"\n",
			maxLineSize: 64,
			events: []Event{
				{
					Stack: []StackFrame{
						{
							Function: "main",
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.c", Line: 1},
						},
					},
				},
				{
					Period: period(20),
					Kind:   "cycles",
				},
			},
			diagnostics: 1,
		},
		{
			name: "lines longer than the read buffer",
			input: "prog 1 1.0: 10 cycles:\n" +
				"\tffff " + strings.Repeat("y", 3*initialBufferSize) + " (/proj/bin/prog)\n" +
				"/proj/src/main.c:1",
			maxLineSize: defaultMaxLineSize,
			events: []Event{
				{
					Period: period(10),
					Kind:   "cycles",
					Stack: []StackFrame{
						{
							Function: strings.Repeat("y", 3*initialBufferSize),
							Module:   "/proj/bin/prog",
							Source:   &SourceLocation{Path: "/proj/src/main.c", Line: 1},
						},
					},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var diagnostics []*MalformedLineError
			events, err := ParseAll(strings.NewReader(tt.input),
				WithMaxLineSize(tt.maxLineSize),
				WithDiagnostics(func(err *MalformedLineError) {
					diagnostics = append(diagnostics, err)
				}))
			if err != nil {
				t.Fatalf("long lines should not stop parsing: %v", err)
			}
			if diff := testutil.Diff(events, tt.events); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
			if len(diagnostics) != tt.diagnostics {
				t.Fatalf("expected %d diagnostics but got %d", tt.diagnostics, len(diagnostics))
			}
			for _, d := range diagnostics {
				if !errors.Is(d, ErrLineTooLong) {
					t.Fatalf("expected a line too long error but got %v", d.Err)
				}
				if len(d.Line) > longLinePrefix {
					t.Fatalf("diagnostic kept %d bytes of the line", len(d.Line))
				}
			}
		})
	}
}

func TestStateAfterFrame(t *testing.T) {
	unknown := StackFrame{Function: UnknownSymbol, Module: UnknownSymbol}
	known := StackFrame{Function: "main", Module: UnknownSymbol}
	tests := []struct {
		name    string
		current State
		frame   StackFrame
		want    State
	}{
		{"unknown after header", StateAfterEventHeader, unknown, StateAfterEventHeader},
		{"unknown after source line", StateAfterSourceLine, unknown, StateAfterSourceLine},
		{"known after header", StateAfterEventHeader, known, StateAfterStackFrame},
		{"known after source line", StateAfterSourceLine, known, StateAfterStackFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateAfterFrame(tt.current, tt.frame); got != tt.want {
				t.Fatalf("expected %s but got %s", tt.want, got)
			}
		})
	}
}
