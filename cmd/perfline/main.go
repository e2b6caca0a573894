package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/perfline/internal/attribution"
	"github.com/getsentry/perfline/internal/config"
	"github.com/getsentry/perfline/internal/httputil"
	"github.com/getsentry/perfline/internal/logutil"
	"github.com/getsentry/perfline/internal/perftool"
	"github.com/getsentry/perfline/internal/storageprovider"
)

type (
	messageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	environment struct {
		config config.Config

		perf           attribution.ScriptRunner
		storage        storageprovider.Provider
		hotspotsWriter messageWriter
	}
)

const shutdownTimeout = 30 * time.Second

var release string

func newEnvironment(cfg config.Config) (*environment, error) {
	e := environment{
		config: cfg,
		perf: perftool.Runner{
			Binary: cfg.Perf.Binary,
			Fields: cfg.Perf.Fields,
		},
	}

	var err error
	e.storage, err = storageprovider.Open(context.Background(), cfg.StorageOptions())
	if err != nil {
		return nil, err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		e.hotspotsWriter = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Async:        true,
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: 3 * time.Second,
		}
	}
	return &e, nil
}

func (e *environment) shutdown() {
	err := e.storage.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	if e.hotspotsWriter != nil {
		err = e.hotspotsWriter.Close()
		if err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodGet, "/hotspots", e.getHotspots},
		{http.MethodPost, "/hotspots", e.postHotspots},
		{http.MethodPost, "/reports", e.postReport},
		{http.MethodGet, "/reports/:report_id", e.getReport},
		{http.MethodGet, "/health", e.getHealth},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.DecompressPayload(route.handler)
		handler := httputil.TagStatusCode(compress(handlerFunc))

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

// runServer serves until a signal arrives on stop, then shuts the server
// down gracefully. It returns as soon as the server fails, for example when
// its port is taken.
func runServer(server *http.Server, stop <-chan os.Signal) error {
	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading configuration")
	}

	logutil.ConfigureLogger(cfg.Level())

	env, err := newEnvironment(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	router, err := env.newRouter()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: sentryhttp.New(sentryhttp.Options{}).Handle(router),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("port", cfg.Port).Str("environment", cfg.Environment).Msg("perfline started")

	err = runServer(&server, stop)
	if err != nil {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	env.shutdown()
}
