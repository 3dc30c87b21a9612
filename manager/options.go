package manager

import (
	"time"

	"github.com/skecskes/data-manager/blobsource"
	"github.com/skecskes/data-manager/internal/persist"
)

const defaultConcurrency = 4

type options struct {
	concurrency int
	rateLimit   int64
	packetSize  uint64
	logger      *persist.Logger
	source      blobsource.Source
	dialTimeout time.Duration
}

func defaultOptions() *options {
	return &options{
		concurrency: defaultConcurrency,
		dialTimeout: 10 * time.Second,
	}
}

// Option configures a Manager at construction time.
type Option func(*options)

// WithConcurrency overrides the Task Executor's worker pool size.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithRateLimit caps the aggregate download bandwidth used by the default
// HTTP Blob Source, in bytes per second. A limit of 0 (the default) leaves
// bandwidth unthrottled.
func WithRateLimit(bytesPerSecond int64, packetSize uint64) Option {
	return func(o *options) {
		o.rateLimit = bytesPerSecond
		o.packetSize = packetSize
	}
}

// WithLogger supplies a pre-opened logger instead of creating one rooted
// at dataDir/chunkmanager.log.
func WithLogger(l *persist.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBlobSource overrides the default HTTP Blob Source — tests use this
// to install a fake that writes fixed bytes or blocks until cancelled.
func WithBlobSource(s blobsource.Source) Option {
	return func(o *options) { o.source = s }
}
