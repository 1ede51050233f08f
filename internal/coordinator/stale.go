package coordinator

import "time"

// DefaultStaleFallback is the processing-claim timeout used when a model has
// no completed job history to derive one from.
const DefaultStaleFallback = 2500 * time.Second

// staleTimeout returns how long a run may sit in processing before its claim
// is treated as abandoned: twice the model's average completed job duration,
// floored at fallback. avgSeconds is nil when no history exists.
func staleTimeout(avgSeconds *float64, fallback time.Duration) time.Duration {
	if avgSeconds == nil || *avgSeconds <= 0 {
		return fallback
	}
	timeout := time.Duration(2 * *avgSeconds * float64(time.Second))
	if timeout < fallback {
		return fallback
	}
	return timeout
}
