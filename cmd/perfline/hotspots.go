package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/perfline/internal/attribution"
	"github.com/getsentry/perfline/internal/errorutil"
	"github.com/getsentry/perfline/internal/httputil"
	"github.com/getsentry/perfline/internal/perfscript"
	"github.com/getsentry/perfline/internal/perftool"
	"github.com/getsentry/perfline/internal/pprofutil"
	"github.com/getsentry/perfline/internal/report"
	"github.com/getsentry/perfline/internal/storageutil"
)

const (
	formatJSON  = "json"
	formatPprof = "pprof"
)

func getHub(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}

func (env *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (env *environment) getHotspots(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("perf_data_path") == "" {
		http.Error(w, "expected perf_data_path query parameter", http.StatusBadRequest)
		return
	}
	env.writeHotspots(w, r)
}

func (env *environment) postHotspots(w http.ResponseWriter, r *http.Request) {
	env.writeHotspots(w, r)
}

func (env *environment) writeHotspots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := getHub(ctx)

	format := r.URL.Query().Get("format")
	if format == "" {
		format = formatJSON
	}
	if format != formatJSON && format != formatPprof {
		http.Error(w, "format should be json or pprof", http.StatusBadRequest)
		return
	}

	p, malformed, ok := env.attribute(w, r)
	if !ok {
		return
	}

	if format == formatPprof {
		s := sentry.StartSpan(ctx, "pprof.marshal")
		s.Description = "Write pprof profile"
		defer s.Finish()

		w.Header().Set("Content-Type", "application/octet-stream")
		err := pprofutil.Write(w, p, "samples")
		if err != nil {
			writeAttributionError(w, hub, err)
		}
		return
	}

	rep, ok := env.buildReport(w, r, p, malformed)
	if !ok {
		return
	}
	writeJSON(w, hub, http.StatusOK, rep)
}

func (env *environment) postReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := getHub(ctx)

	p, malformed, ok := env.attribute(w, r)
	if !ok {
		return
	}
	rep, ok := env.buildReport(w, r, p, malformed)
	if !ok {
		return
	}

	s := sentry.StartSpan(ctx, "storage.write")
	s.Description = "Write report to storage"
	err := storageutil.CompressedWrite(ctx, env.storage, rep.StoragePath(), rep)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		if errors.Is(err, context.DeadlineExceeded) {
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	if env.hotspotsWriter != nil {
		s = sentry.StartSpan(ctx, "kafka.write")
		s.Description = "Send hotspots to Kafka"
		b, err := gojson.Marshal(buildHotspotsKafkaMessage(rep, env.config.Environment))
		if err == nil {
			err = env.hotspotsWriter.WriteMessages(ctx, kafka.Message{
				Key:   []byte(rep.ID),
				Value: b,
			})
		}
		s.Finish()
		if err != nil {
			// The report is stored, the message is best effort.
			hub.CaptureException(err)
		}
	}

	writeJSON(w, hub, http.StatusCreated, rep)
}

func (env *environment) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := getHub(ctx)
	ps := httprouter.ParamsFromContext(ctx)
	reportID := ps.ByName("report_id")
	if !report.IsValidID(reportID) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	hub.Scope().SetTag("report_id", reportID)

	var rep report.Report
	s := sentry.StartSpan(ctx, "storage.read")
	s.Description = "Read report from storage"
	err := storageutil.UnmarshalCompressed(ctx, env.storage, report.StoragePath(reportID), &rep)
	s.Finish()
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, hub, http.StatusOK, rep)
}

// attribute produces the attributed profile for a request, either by
// running perf on perf_data_path or by parsing the perf script output sent
// as the request body.
func (env *environment) attribute(w http.ResponseWriter, r *http.Request) (*attribution.Profile, uint64, bool) {
	ctx := r.Context()
	hub := getHub(ctx)

	params, logger, ok := httputil.GetRequiredQueryParameters(w, r, "project_root")
	if !ok {
		return nil, 0, false
	}
	projectRoot := params["project_root"]
	hub.Scope().SetTag("project_root", projectRoot)

	var malformed atomic.Uint64
	diagnostics := perfscript.WithDiagnostics(func(err *perfscript.MalformedLineError) {
		malformed.Add(1)
		logger.Debug().
			Int("line_number", err.LineNumber).
			Str("state", err.State.String()).
			Str("line", err.Line).
			Err(err.Err).
			Msg("skipping malformed perf script line")
	})

	var p *attribution.Profile
	var err error
	if dataPath := r.URL.Query().Get("perf_data_path"); dataPath != "" {
		hub.Scope().SetTag("perf_data_path", dataPath)
		s := sentry.StartSpan(ctx, "perf.script")
		s.Description = "Run perf script and attribute samples"
		p, err = attribution.GetProfile(ctx, env.perf, dataPath, projectRoot, diagnostics)
		s.Finish()
	} else {
		s := sentry.StartSpan(ctx, "perf.parse")
		s.Description = "Parse uploaded perf script output"
		p, err = attribution.ParseAndAttribute(r.Body, projectRoot, diagnostics)
		s.Finish()
	}
	if err != nil {
		writeAttributionError(w, hub, err)
		return nil, 0, false
	}

	logEvent(logger.Debug(), p).Uint64("malformed_lines", malformed.Load()).Msg("samples attributed")
	return p, malformed.Load(), true
}

func (env *environment) buildReport(w http.ResponseWriter, r *http.Request, p *attribution.Profile, malformed uint64) (report.Report, bool) {
	hub := getHub(r.Context())
	top, ok := httputil.GetIntQueryParameter(w, r, "top", env.config.Reports.Top)
	if !ok {
		return report.Report{}, false
	}
	skipLineZero, ok := httputil.GetBoolQueryParameter(w, r, "skip_line_zero", env.config.Reports.SkipLineZero)
	if !ok {
		return report.Report{}, false
	}
	rep, err := report.Build(p, report.Options{Top: top, SkipLineZero: skipLineZero})
	if err != nil {
		writeAttributionError(w, hub, err)
		return report.Report{}, false
	}
	rep.PerfDataPath = r.URL.Query().Get("perf_data_path")
	rep.MalformedLines = malformed
	return rep, true
}

func writeAttributionError(w http.ResponseWriter, hub *sentry.Hub, err error) {
	var toolErr *perftool.ToolInvocationError
	switch {
	case errors.As(err, &toolErr):
		http.Error(w, toolErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, errorutil.ErrNoHits):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, hub *sentry.Hub, status int, v interface{}) {
	b, err := gojson.Marshal(v)
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func logEvent(e *zerolog.Event, p *attribution.Profile) *zerolog.Event {
	return e.
		Str("project_root", p.ProjectRoot).
		Uint64("events", p.Events).
		Uint64("attributed_events", p.AttributedEvents).
		Uint64("total_hits", p.TotalHits)
}
