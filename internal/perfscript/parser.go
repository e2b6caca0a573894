package perfscript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	initialBufferSize  = 64 * 1024
	defaultMaxLineSize = 4 * 1024 * 1024
	// longLinePrefix is how much of an oversized line a diagnostic keeps.
	longLinePrefix = 128
)

// State is the position of the parser within the current event block.
type State int

const (
	// StateStart expects an event header.
	StateStart State = iota
	// StateAfterEventHeader expects a stack frame.
	StateAfterEventHeader
	// StateAfterCombinedHeader expects the source line of the inline frame.
	StateAfterCombinedHeader
	// StateAfterStackFrame expects the source line of the last frame.
	StateAfterStackFrame
	// StateAfterSourceLine expects another stack frame.
	StateAfterSourceLine
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAfterEventHeader:
		return "after_event_header"
	case StateAfterCombinedHeader:
		return "after_combined_header"
	case StateAfterStackFrame:
		return "after_stack_frame"
	case StateAfterSourceLine:
		return "after_source_line"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// stateAfterFrame returns the state following a successfully parsed frame
// line. Unknown frames have no source line annotation, so the parser keeps
// expecting frames in whichever frame-expecting state it was in.
func stateAfterFrame(current State, f StackFrame) State {
	if f.IsUnknown() {
		return current
	}
	return StateAfterStackFrame
}

type (
	// MalformedLineError describes a line that did not match the shape
	// expected in the parser's state. The line is skipped.
	MalformedLineError struct {
		LineNumber int
		Line       string
		State      State
		Err        error
	}

	// DiagnosticFunc receives every malformed line. It must not retain the
	// parser.
	DiagnosticFunc func(err *MalformedLineError)

	Option func(p *Parser)

	// Parser reads perf script output and produces one Event per block. Use
	// it like a bufio.Scanner:
	//
	//	p := perfscript.NewParser(r)
	//	for p.Next() {
	//		ev := p.Event()
	//	}
	//	if err := p.Err(); err != nil {
	//		...
	//	}
	Parser struct {
		reader      *bufio.Reader
		line        []byte
		maxLineSize int
		state       State
		builder     eventBuilder
		event       Event
		lineNumber  int
		diagnose    DiagnosticFunc
		err         error
	}
)

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("line %d (%s): %v: %q", e.LineNumber, e.State, e.Err, e.Line)
}

func (e *MalformedLineError) Unwrap() error {
	return e.Err
}

// LogDiagnostic logs a malformed line as a warning.
func LogDiagnostic(err *MalformedLineError) {
	log.Warn().
		Int("line_number", err.LineNumber).
		Str("state", err.State.String()).
		Str("line", err.Line).
		Err(err.Err).
		Msg("skipping malformed perf script line")
}

// WithDiagnostics replaces the default logging of malformed lines.
func WithDiagnostics(fn DiagnosticFunc) Option {
	return func(p *Parser) {
		p.diagnose = fn
	}
}

// WithMaxLineSize sets the longest line the parser accepts. Longer lines
// are reported with ErrLineTooLong and skipped.
func WithMaxLineSize(n int) Option {
	return func(p *Parser) {
		p.maxLineSize = n
	}
}

func NewParser(r io.Reader, opts ...Option) *Parser {
	p := &Parser{
		reader:      bufio.NewReaderSize(r, initialBufferSize),
		maxLineSize: defaultMaxLineSize,
		state:       StateStart,
		diagnose:    LogDiagnostic,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Next advances to the next event. It reads exactly the lines needed to
// complete one event and returns false at the end of the input or on a
// read error.
func (p *Parser) Next() bool {
	if p.err != nil {
		return false
	}
	for {
		raw, tooLong, err := p.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.err = fmt.Errorf("reading perf script output: %w", err)
			return false
		}
		p.lineNumber++

		if tooLong {
			p.report(string(raw), fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, p.maxLineSize))
			// Same outcome as any other malformed line in this state.
			switch p.state {
			case StateStart:
				p.state = StateAfterEventHeader
			case StateAfterCombinedHeader:
				p.emit()
				return true
			}
			continue
		}

		line := strings.TrimSpace(string(raw))

		if line == "" {
			if p.state == StateStart {
				continue
			}
			p.emit()
			return true
		}

		switch p.state {
		case StateStart:
			p.parseHeaderLine(line)
		case StateAfterEventHeader, StateAfterSourceLine:
			p.parseFrameLine(line)
		case StateAfterStackFrame:
			p.parseSourceLine(line)
		case StateAfterCombinedHeader:
			// The combined form carries exactly one frame.
			p.parseSourceLine(line)
			p.emit()
			return true
		}
	}

	if p.state != StateStart {
		p.emit()
		return true
	}
	return false
}

// readLine returns the next line including its terminator. A line longer
// than maxLineSize is consumed entirely but only its first longLinePrefix
// bytes are returned, with tooLong set. It returns io.EOF only when no byte
// was left to read.
func (p *Parser) readLine() (line []byte, tooLong bool, err error) {
	p.line = p.line[:0]
	read := false
	for {
		chunk, err := p.reader.ReadSlice('\n')
		if len(chunk) > 0 {
			read = true
		}
		if !tooLong {
			if len(p.line)+len(chunk) > p.maxLineSize {
				tooLong = true
				p.line = append(p.line, chunk...)
				p.line = p.line[:min(len(p.line), longLinePrefix)]
			} else {
				p.line = append(p.line, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if !read {
				return nil, false, io.EOF
			}
			return p.line, tooLong, nil
		case err != nil:
			return nil, false, err
		}
		return p.line, tooLong, nil
	}
}

// Event returns the event produced by the last successful call to Next.
func (p *Parser) Event() Event {
	return p.event
}

// Err returns the first read error encountered, if any.
func (p *Parser) Err() error {
	return p.err
}

// All returns an iterator over the remaining events. Breaking out of the
// loop leaves the parser positioned at the next event.
func (p *Parser) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for p.Next() {
			if !yield(p.Event()) {
				return
			}
		}
	}
}

func (p *Parser) emit() {
	p.event = p.builder.build()
	p.builder = eventBuilder{}
	p.state = StateStart
}

func (p *Parser) parseHeaderLine(line string) {
	h, err := parseHeader(line)
	if err != nil {
		p.report(line, err)
		p.state = StateAfterEventHeader
		return
	}
	p.builder.setHeader(h)
	if h.inline == "" {
		p.state = StateAfterEventHeader
		return
	}
	f, err := parseFrame(h.inline)
	if err != nil {
		p.report(line, err)
		p.state = StateAfterEventHeader
		return
	}
	p.builder.push(f)
	p.state = StateAfterCombinedHeader
}

func (p *Parser) parseFrameLine(line string) {
	f, err := parseFrame(line)
	if err != nil {
		p.report(line, err)
		return
	}
	p.builder.push(f)
	p.state = stateAfterFrame(p.state, f)
}

func (p *Parser) parseSourceLine(line string) {
	loc, ok, err := parseSourceLine(line)
	if err != nil {
		p.report(line, err)
		return
	}
	if ok {
		p.builder.annotate(loc)
	}
	p.state = StateAfterSourceLine
}

func (p *Parser) report(line string, err error) {
	if p.diagnose == nil {
		return
	}
	p.diagnose(&MalformedLineError{
		LineNumber: p.lineNumber,
		Line:       line,
		State:      p.state,
		Err:        err,
	})
}

// ParseAll reads every event from r.
func ParseAll(r io.Reader, opts ...Option) ([]Event, error) {
	p := NewParser(r, opts...)
	var events []Event
	for p.Next() {
		events = append(events, p.Event())
	}
	return events, p.Err()
}
