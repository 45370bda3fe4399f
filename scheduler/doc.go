// Package scheduler drains the durable retry queue.
//
// A single loop goroutine ticks every interval and submits up to a batch
// of due entries through the delivery client, paced by a token-bucket
// limiter. While the endpoint probe reports the station offline, draining
// is skipped; the transition back online triggers an immediate drain.
//
// Housekeeping (sweeping exhausted entries, expiring stale
// network_offline alerts and removing orphan entries) runs on cron
// schedules in the same process.
package scheduler
