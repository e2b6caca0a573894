package storageprovider

import (
	"context"
	"fmt"
	"io"

	"github.com/getsentry/perfline/internal/storageutil"
)

const (
	BackendBlob   = "blob"
	BackendGcs    = "gcs"
	BackendBadger = "badger"
)

type (
	Provider interface {
		storageutil.ObjectHandler
		io.Closer
	}

	Options struct {
		Backend     string
		BlobURL     string
		GcsBucket   string
		GcsEndpoint string
		BadgerDir   string
	}
)

// Open returns the provider selected by opts.Backend.
func Open(ctx context.Context, opts Options) (Provider, error) {
	switch opts.Backend {
	case BackendBlob, "":
		return OpenBlob(ctx, opts.BlobURL)
	case BackendGcs:
		return OpenGcs(ctx, opts.GcsBucket, opts.GcsEndpoint)
	case BackendBadger:
		return OpenBadger(opts.BadgerDir)
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}
