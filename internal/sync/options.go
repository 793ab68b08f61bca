package sync

import "time"

const (
	defaultWorkers       = 2
	defaultMaxAttempts   = 5
	defaultRetryBaseWait = 2 * time.Second
	defaultRetryMaxWait  = 60 * time.Second
	defaultSimilarity    = 0.85
)

// Options tunes a sync session. The zero value is unusable; construct with
// DefaultOptions and override fields as needed.
type Options struct {
	// Workers bounds download concurrency per batch. Kept small to respect
	// upstream rate limits.
	Workers int
	// MaxAttempts is the retry ceiling per action for transient failures.
	MaxAttempts int
	// RetryBaseWait is the initial backoff interval.
	RetryBaseWait time.Duration
	// RetryMaxWait caps the backoff interval.
	RetryMaxWait time.Duration
	// SimilarityThreshold is the minimal name-similarity ratio for the
	// resolver's fuzzy tier, in (0, 1].
	SimilarityThreshold float64
}

func DefaultOptions() Options {
	return Options{
		Workers:             defaultWorkers,
		MaxAttempts:         defaultMaxAttempts,
		RetryBaseWait:       defaultRetryBaseWait,
		RetryMaxWait:        defaultRetryMaxWait,
		SimilarityThreshold: defaultSimilarity,
	}
}

// normalized returns a copy with unset fields replaced by defaults, so a
// partially filled Options from config cannot wedge a session.
func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.RetryBaseWait <= 0 {
		o.RetryBaseWait = d.RetryBaseWait
	}
	if o.RetryMaxWait <= 0 {
		o.RetryMaxWait = d.RetryMaxWait
	}
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		o.SimilarityThreshold = d.SimilarityThreshold
	}
	return o
}
