// Package ext defines the extension system for kegsync.
//
// Extensions are notified of batch lifecycle events and can react to
// them, for example by recording metrics or forwarding alerts. Each hook is
// a separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnBatchSent(ctx context.Context, b *batch.Batch, elapsed time.Duration) error {
//	    log.Printf("%s delivered as pallet %s", b.SessionID, b.PalletID)
//	    return nil
//	}
//
// # Batch Hooks
//
//   - [BatchCaptured]: a capture was persisted
//   - [BatchProcessing]: a worker claimed the batch
//   - [BatchSent]: the cloud acknowledged the batch
//   - [BatchFailed]: delivery failed and the batch was queued for retry
//   - [BatchDuplicate]: the fingerprint matched a live pallet
//   - [AttentionRaised]: the batch was flagged for an operator
//   - [BatchResolved]: an operator closed the batch
//
// # Other Hooks
//
//   - [RetryExhausted]: a queued retry used its last attempt
//   - [NetworkChanged]: the endpoint went offline or came back
//   - [Shutdown]: the station is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
