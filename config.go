package kegsync

import "time"

// DuplicatePolicy decides what happens when a batch presents the same
// complete code set as a pallet that has not shipped yet.
type DuplicatePolicy string

const (
	// DuplicateAdvisory records the duplicate (alert, event, batch note)
	// and still delivers the batch.
	DuplicateAdvisory DuplicatePolicy = "advisory"

	// DuplicateBlock moves the batch to DUPLICATE with attention raised and
	// skips delivery until an operator resolves it.
	DuplicateBlock DuplicatePolicy = "block"
)

// Config holds configuration for a Station.
type Config struct {
	// Concurrency is the number of batches processed in parallel.
	Concurrency int

	// PollInterval is how often idle workers look for captured batches.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight batches.
	ShutdownTimeout time.Duration

	// ProcessTimeout bounds one processing run of a batch.
	ProcessTimeout time.Duration

	// StaleAfter is the age after which a PROCESSING or API_PENDING batch
	// is considered orphaned by a crash.
	StaleAfter time.Duration

	// RequeueWindow bounds how old an unattempted payload may be for
	// recovery to re-enqueue it.
	RequeueWindow time.Duration

	// RetryInterval is the scheduler tick.
	RetryInterval time.Duration

	// RetryBatchSize is the maximum number of entries drained per tick.
	RetryBatchSize int

	// RetryMaxAttempts is the default max_attempts of new retry entries.
	RetryMaxAttempts int

	// RetryBaseDelay is the unit of the queued backoff (2^attempts units).
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the queued backoff.
	RetryMaxDelay time.Duration

	// RetryRetention is how long exhausted entries are kept before a sweep
	// removes them.
	RetryRetention time.Duration

	// RetryRate limits scheduler submissions per second. Zero disables it.
	RetryRate float64

	// NetworkCheckInterval is how often the scheduler probes the endpoint.
	// Zero disables gating and the scheduler always drains.
	NetworkCheckInterval time.Duration

	// NetworkAlertTTL is how old an unresolved network_offline alert must
	// be before maintenance resolves it.
	NetworkAlertTTL time.Duration

	// DuplicatePolicy selects advisory or blocking duplicate handling.
	DuplicatePolicy DuplicatePolicy

	// RejectSentLabels rejects captures whose batch label was already sent.
	RejectSentLabels bool

	// PurgeImages removes the captured image after a confirmed delivery.
	PurgeImages bool
}

// DefaultConfig returns a Config with the station's production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          4,
		PollInterval:         time.Second,
		ShutdownTimeout:      30 * time.Second,
		ProcessTimeout:       2 * time.Minute,
		StaleAfter:           10 * time.Minute,
		RequeueWindow:        24 * time.Hour,
		RetryInterval:        60 * time.Second,
		RetryBatchSize:       5,
		RetryMaxAttempts:     3,
		RetryBaseDelay:       time.Minute,
		RetryMaxDelay:        24 * time.Hour,
		RetryRetention:       7 * 24 * time.Hour,
		RetryRate:            1,
		NetworkCheckInterval: 30 * time.Second,
		NetworkAlertTTL:      time.Hour,
		DuplicatePolicy:      DuplicateAdvisory,
	}
}
