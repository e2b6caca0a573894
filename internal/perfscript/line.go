package perfscript

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedHeader     = errors.New("malformed event header")
	ErrMalformedFrame      = errors.New("malformed stack frame")
	ErrMalformedSourceLine = errors.New("malformed source line")
	ErrLineTooLong         = errors.New("line too long")
)

type header struct {
	period *uint64
	kind   string
	// inline holds a stack frame printed on the header line itself.
	inline string
}

// parseHeader parses an event header such as
//
//	prog 12345 [001] 100.000001:     250000 cycles:u:  55d0c0a1b2c3 main+0x13 (/bin/prog)
//
// Everything up to the first colon followed by whitespace is metadata, so
// process names such as kworker/0:1 stay part of it. The next field carries
// the period and the event kind. Whatever follows is an inline stack frame.
// A header without such a colon is read as whitespace separated fields
// instead.
func parseHeader(line string) (header, error) {
	var rest string
	if i := metadataEnd(line); i >= 0 {
		rest = line[i+1:]
	} else if _, after, ok := strings.Cut(line, " "); ok {
		rest = after
	} else {
		return header{}, fmt.Errorf("%w: no metadata field", ErrMalformedHeader)
	}

	field, remainder, _ := strings.Cut(strings.TrimSpace(rest), ":")
	field = strings.TrimSpace(field)
	if field == "" {
		return header{}, fmt.Errorf("%w: no period or event kind", ErrMalformedHeader)
	}

	var h header
	if periodStr, kind, ok := strings.Cut(field, " "); ok {
		h.kind = strings.TrimSpace(kind)
		if v, err := strconv.ParseUint(periodStr, 10, 64); err == nil {
			h.period = &v
		}
	} else {
		h.kind = field
	}

	// Event modifiers (cycles:u, cycles:ppp) are colon separated words.
	remainder = strings.TrimSpace(remainder)
	for remainder != "" {
		modifier, after, _ := strings.Cut(remainder, ":")
		if modifier == "" || strings.ContainsAny(modifier, " \t") {
			break
		}
		h.kind += ":" + modifier
		remainder = strings.TrimSpace(after)
	}
	h.inline = remainder

	return h, nil
}

// metadataEnd returns the index of the first colon that ends the line or is
// followed by whitespace, or -1.
func metadataEnd(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != ':' {
			continue
		}
		if i == len(line)-1 || line[i+1] == ' ' || line[i+1] == '\t' {
			return i
		}
	}
	return -1
}

// parseFrame parses a stack frame line such as
//
//	55d0c0a1b2c3 compute+0x13 (/proj/target/release/prog)
func parseFrame(line string) (StackFrame, error) {
	_, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	if !ok || rest == "" {
		return StackFrame{}, fmt.Errorf("%w: no symbol after address", ErrMalformedFrame)
	}

	function, module := rest, ""
	if strings.HasSuffix(rest, ")") {
		if i := strings.LastIndex(rest, " ("); i >= 0 {
			function, module = rest[:i], rest[i+2:len(rest)-1]
		}
	}

	return StackFrame{
		Function: stripOffset(strings.TrimSpace(function)),
		Module:   module,
	}, nil
}

// stripOffset removes a trailing +0x<hex> offset from a symbol.
func stripOffset(function string) string {
	i := strings.LastIndexByte(function, '+')
	if i <= 0 {
		return function
	}
	offset := function[i+1:]
	if !strings.HasPrefix(offset, "0x") || len(offset) == 2 {
		return function
	}
	if _, err := strconv.ParseUint(offset[2:], 16, 64); err != nil {
		return function
	}
	return function[:i]
}

// parseSourceLine parses a source line annotation such as
//
//	/proj/src/lib.rs:17 prog[1b2c3]
//
// ok is false when the line carries no path:line pair at all, which perf
// prints for frames without debug info.
func parseSourceLine(line string) (loc SourceLocation, ok bool, err error) {
	line = strings.TrimSpace(line)
	srcinfo := line
	if i := strings.LastIndexByte(line, ' '); i >= 0 {
		srcinfo = line[:i]
	}
	i := strings.LastIndexByte(srcinfo, ':')
	if i < 0 {
		return SourceLocation{}, false, nil
	}
	n, err := strconv.ParseUint(srcinfo[i+1:], 10, 64)
	if err != nil {
		return SourceLocation{}, false, fmt.Errorf("%w: invalid line number %q", ErrMalformedSourceLine, srcinfo[i+1:])
	}
	return SourceLocation{Path: srcinfo[:i], Line: n}, true, nil
}
