package s3reader

import (
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// WithProgressLogger adds a progress logger that logs cumulative bytes read with the given interval.
//
// For example, if interval is `5*time.Second`, at most every 5 seconds the given logger will print
// `read X so far` where X is the number of bytes served by ranged GetObject calls, displayed in a human-friendly
// format (e.g. 5 KiB, 1 MiB, etc.).
func WithProgressLogger(logger *log.Logger, interval time.Duration) func(*Options) {
	return func(opts *Options) {
		opts.logger = &logLogger{
			logger: logger,
			rate:   &rate.Sometimes{Interval: interval},
		}
	}
}

type progressLogger interface {
	add(n int64)
}

type logLogger struct {
	logger *log.Logger
	rate   *rate.Sometimes

	mu    sync.Mutex
	total int64
}

func (l *logLogger) add(n int64) {
	l.mu.Lock()
	l.total += n
	total := l.total
	l.mu.Unlock()

	l.rate.Do(func() {
		l.logger.Printf("read %s so far", humanize.IBytes(uint64(total)))
	})
}

type noopLogger struct{}

func (noopLogger) add(int64) {}
