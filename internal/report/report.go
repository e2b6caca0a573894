package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getsentry/perfline/internal/attribution"
)

// DefaultTop is how many hotspots a report keeps unless told otherwise.
const DefaultTop = 5

type (
	Hotspot struct {
		Path     string  `json:"path"`
		Line     uint64  `json:"line"`
		Hits     uint64  `json:"hits"`
		Fraction float64 `json:"fraction"`
	}

	Report struct {
		ID               string    `json:"report_id"`
		ProjectRoot      string    `json:"project_root"`
		PerfDataPath     string    `json:"perf_data_path,omitempty"`
		TotalHits        uint64    `json:"total_hits"`
		Events           uint64    `json:"events"`
		AttributedEvents uint64    `json:"attributed_events"`
		MalformedLines   uint64    `json:"malformed_lines"`
		Hotspots         []Hotspot `json:"hotspots"`
		CreatedAt        int64     `json:"created_at"`
	}

	Options struct {
		// Top limits the number of hotspots. Zero or less keeps all of them.
		Top int
		// SkipLineZero drops locations perf could only resolve to line 0.
		SkipLineZero bool
	}
)

// Build tabulates p into a report with a fresh ID. It returns
// errorutil.ErrNoHits when nothing was attributed to the project.
func Build(p *attribution.Profile, opts Options) (Report, error) {
	entries, err := p.Tabulate()
	if err != nil {
		return Report{}, err
	}
	hotspots := make([]Hotspot, 0, len(entries))
	for _, e := range entries {
		if opts.SkipLineZero && e.Location.Line == 0 {
			continue
		}
		if opts.Top > 0 && len(hotspots) == opts.Top {
			break
		}
		hotspots = append(hotspots, Hotspot{
			Path:     e.Location.Path,
			Line:     e.Location.Line,
			Hits:     e.Hits,
			Fraction: e.Fraction,
		})
	}
	return Report{
		ID:               NewID(),
		ProjectRoot:      p.ProjectRoot,
		TotalHits:        p.TotalHits,
		Events:           p.Events,
		AttributedEvents: p.AttributedEvents,
		Hotspots:         hotspots,
		CreatedAt:        time.Now().Unix(),
	}, nil
}

func NewID() string {
	return strings.Replace(uuid.New().String(), "-", "", -1)
}

// IsValidID reports whether id looks like an ID produced by NewID.
func IsValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func StoragePath(id string) string {
	return fmt.Sprintf("reports/%s", id)
}

func (r Report) StoragePath() string {
	return StoragePath(r.ID)
}
