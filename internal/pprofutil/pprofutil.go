package pprofutil

import (
	"io"

	"github.com/google/pprof/profile"

	"github.com/getsentry/perfline/internal/attribution"
)

// FromAttribution converts an attributed profile into a pprof profile with
// one sample per source line, so it can be opened with `go tool pprof
// -lines`. Each source file becomes a function named after its path.
func FromAttribution(p *attribution.Profile, sampleType string) (*profile.Profile, error) {
	entries, err := p.Tabulate()
	if err != nil {
		return nil, err
	}
	if sampleType == "" {
		sampleType = "samples"
	}
	out := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: sampleType, Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: sampleType, Unit: "count"},
		Period:     1,
	}
	functions := make(map[string]*profile.Function)
	for i, e := range entries {
		f, exists := functions[e.Location.Path]
		if !exists {
			f = &profile.Function{
				ID:         uint64(len(out.Function) + 1),
				Name:       e.Location.Path,
				SystemName: e.Location.Path,
				Filename:   e.Location.Path,
			}
			functions[e.Location.Path] = f
			out.Function = append(out.Function, f)
		}
		l := &profile.Location{
			ID: uint64(i + 1),
			Line: []profile.Line{
				{
					Function: f,
					Line:     int64(e.Location.Line),
				},
			},
		}
		out.Location = append(out.Location, l)
		out.Sample = append(out.Sample, &profile.Sample{
			Location: []*profile.Location{l},
			Value:    []int64{int64(e.Hits)},
		})
	}
	return out, nil
}

// Write writes p as a gzipped pprof protobuf.
func Write(w io.Writer, p *attribution.Profile, sampleType string) error {
	out, err := FromAttribution(p, sampleType)
	if err != nil {
		return err
	}
	return out.Write(w)
}
