package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/perfline/internal/attribution"
	"github.com/getsentry/perfline/internal/logutil"
	"github.com/getsentry/perfline/internal/perfscript"
	"github.com/getsentry/perfline/internal/perftool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	input       string
	projectRoot string
	perfBinary  string
	fields      string
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("perfscript", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.input, "i", "", "perf.data file to run perf script on, stdin is read as perf script output otherwise")
	fs.StringVar(&opts.projectRoot, "root", "", "print source line hotspots under this project root instead of events")
	fs.StringVar(&opts.perfBinary, "perf", "perf", "perf binary")
	fs.StringVar(&opts.fields, "fields", perftool.DefaultFields, "fields passed to perf script -F")
	fs.BoolVar(&opts.verbose, "v", false, "log malformed lines")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	return opts, nil
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout io.Writer) error {
	var in io.Reader = stdin
	if opts.input != "" {
		out, err := perftool.Runner{Binary: opts.perfBinary, Fields: opts.fields}.Script(ctx, opts.input)
		if err != nil {
			return err
		}
		in = bytes.NewReader(out)
	}

	var malformed int
	diagnostics := perfscript.WithDiagnostics(func(err *perfscript.MalformedLineError) {
		malformed++
		if opts.verbose {
			perfscript.LogDiagnostic(err)
		}
	})

	if opts.projectRoot != "" {
		p, err := attribution.ParseAndAttribute(in, opts.projectRoot, diagnostics)
		if err != nil {
			return err
		}
		log.Debug().Int("malformed_lines", malformed).Uint64("events", p.Events).Msg("perf script output parsed")
		return writeHotspots(stdout, p)
	}

	w := bufio.NewWriter(stdout)
	enc := json.NewEncoder(w)
	parser := perfscript.NewParser(in, diagnostics)
	for e := range parser.All() {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if err := parser.Err(); err != nil {
		return err
	}
	log.Debug().Int("malformed_lines", malformed).Msg("perf script output parsed")
	return w.Flush()
}

func writeHotspots(stdout io.Writer, p *attribution.Profile) error {
	entries, err := p.Tabulate()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FRACTION\tHITS\tLOCATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%.4f\t%d\t%s:%d\n", e.Fraction, e.Hits, e.Location.Path, e.Location.Line)
	}
	return w.Flush()
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	logutil.ConfigureLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("perfscript failed")
		stop()
		os.Exit(1)
	}
}
