package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"

	"github.com/getsentry/perfline/internal/config"
	"github.com/getsentry/perfline/internal/logutil"
	"github.com/getsentry/perfline/internal/storageprovider"
)

const reportsPrefix = "reports/"

// cleanup deletes every report last modified before timeLimit and returns
// how many were removed.
func cleanup(ctx context.Context, bucket *blob.Bucket, timeLimit time.Time) (int, error) {
	var removed int
	it := bucket.List(&blob.ListOptions{Prefix: reportsPrefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
		if obj.IsDir || !timeLimit.After(obj.ModTime) {
			continue
		}
		if err := bucket.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed++
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading configuration")
	}

	logutil.ConfigureLogger(cfg.Level())

	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	if cfg.Storage.Backend != storageprovider.BackendBlob {
		log.Fatal().Str("backend", cfg.Storage.Backend).Msg("cleanup only supports blob storage")
	}

	storage, err := storageprovider.OpenBlob(context.Background(), cfg.Storage.BlobURL)
	if err != nil {
		log.Fatal().Err(err).Msg("can't open report storage")
	}
	defer storage.Close()

	retention := time.Hour * 24 * time.Duration(cfg.Reports.RetentionDays)

	c := cron.New()
	_, err = c.AddFunc("@daily", func() {
		timeLimit := time.Now().Add(-retention)
		removed, err := cleanup(context.Background(), storage.Bucket, timeLimit)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("error cleaning up reports")
			return
		}
		log.Info().Int("removed", removed).Time("time_limit", timeLimit).Msg("reports cleaned up")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't set up cron function")
	}

	exitSignal := make(chan os.Signal, 1)
	signal.Notify(exitSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-exitSignal

		c.Stop()
	}()

	c.Run()
	sentry.Flush(5 * time.Second)
}
