// Package retryq is the durable retry queue: batches whose inline
// delivery attempts were exhausted wait here for the scheduler.
//
// Scheduling state lives in the store rather than in memory, so a restart
// resumes exactly where the previous process stopped. The Service wraps
// every read-modify-write in the station Guard and computes next-retry
// times from two backoff strategies:
//
//   - the enqueue schedule, used when a batch (re-)enters the queue from
//     the inline path: 1, 2, 4, 8, 16 minutes;
//   - the drain schedule, used after a failed scheduler attempt:
//     2^attempts minutes, capped (24h by default).
package retryq
