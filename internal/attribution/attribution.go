package attribution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getsentry/perfline/internal/errorutil"
	"github.com/getsentry/perfline/internal/perfscript"
)

type (
	// Profile holds the hit counts attributed to project source lines.
	Profile struct {
		ProjectRoot string
		HitCount    map[perfscript.SourceLocation]uint64
		TotalHits   uint64

		// Events is the number of events read, AttributedEvents the number
		// of those that landed on a project line.
		Events           uint64
		AttributedEvents uint64
	}

	TabulatedEntry struct {
		Location perfscript.SourceLocation
		Hits     uint64
		Fraction float64
	}

	// ScriptRunner produces perf script output for a perf.data file.
	ScriptRunner interface {
		Script(ctx context.Context, dataPath string) ([]byte, error)
	}
)

// Attribute assigns the weight of every event to the innermost frame whose
// source location lies under projectRoot. Events without such a frame are
// dropped.
func Attribute(events iter.Seq[perfscript.Event], projectRoot string) *Profile {
	root := filepath.Clean(projectRoot)
	p := &Profile{
		ProjectRoot: root,
		HitCount:    make(map[perfscript.SourceLocation]uint64),
	}
	for e := range events {
		p.Events++
		loc, ok := attributeEvent(e, root)
		if !ok {
			continue
		}
		p.AttributedEvents++
		p.HitCount[loc] += e.Weight()
	}
	for _, hits := range p.HitCount {
		p.TotalHits += hits
	}
	return p
}

func attributeEvent(e perfscript.Event, root string) (perfscript.SourceLocation, bool) {
	for _, f := range e.Stack {
		if f.Source == nil {
			continue
		}
		rel, ok := relativeTo(root, f.Source.Path)
		if !ok {
			continue
		}
		return perfscript.SourceLocation{Path: rel, Line: f.Source.Line}, true
	}
	return perfscript.SourceLocation{}, false
}

// relativeTo returns path relative to root when path is root itself or one
// of its descendants. The comparison is made on whole path components so
// /proj-other is not considered to be under /proj.
func relativeTo(root, path string) (string, bool) {
	path = filepath.Clean(path)
	if path == root {
		return ".", true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	return path[len(prefix):], true
}

// Tabulate returns every attributed location with its share of the total,
// hottest first. Ties are ordered by path, then line. It returns
// errorutil.ErrNoHits when nothing was attributed.
func (p *Profile) Tabulate() ([]TabulatedEntry, error) {
	if p.TotalHits == 0 {
		return nil, errorutil.ErrNoHits
	}
	entries := make([]TabulatedEntry, 0, len(p.HitCount))
	for loc, hits := range p.HitCount {
		entries = append(entries, TabulatedEntry{Location: loc, Hits: hits})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Hits != b.Hits {
			return a.Hits > b.Hits
		}
		if a.Location.Path != b.Location.Path {
			return a.Location.Path < b.Location.Path
		}
		return a.Location.Line < b.Location.Line
	})
	total := float64(p.TotalHits)
	for i := range entries {
		entries[i].Fraction = float64(entries[i].Hits) / total
	}
	return entries, nil
}

// ParseAndAttribute parses perf script output from r and attributes it to
// projectRoot.
func ParseAndAttribute(r io.Reader, projectRoot string, opts ...perfscript.Option) (*Profile, error) {
	parser := perfscript.NewParser(r, opts...)
	p := Attribute(parser.All(), projectRoot)
	if err := parser.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProfile runs perf script on dataPath and attributes its samples to
// projectRoot.
func GetProfile(ctx context.Context, runner ScriptRunner, dataPath, projectRoot string, opts ...perfscript.Option) (*Profile, error) {
	out, err := runner.Script(ctx, dataPath)
	if err != nil {
		return nil, err
	}
	p, err := ParseAndAttribute(bytes.NewReader(out), projectRoot, opts...)
	if err != nil {
		return nil, fmt.Errorf("attributing %s: %w", dataPath, err)
	}
	return p, nil
}
