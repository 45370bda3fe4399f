// Package kegsync delivers keg-pallet records from a filling-area camera
// station to a cloud endpoint. Each physical pallet results in exactly one
// authoritative delivery, even across network outages, process crashes and
// duplicate operator submissions.
//
// The package is a library. A Station carries configuration, logging and
// the persistence backend; the engine package wires the batch lifecycle,
// pallet registry, delivery client, retry scheduler and recovery manager
// on top of it.
//
// # Quick Start
//
//	st, err := kegsync.New(
//	    kegsync.WithStore(sqliteStore),
//	    kegsync.WithConcurrency(4),
//	)
//	eng, err := engine.Build(st, engine.WithDetector(det), engine.WithDelivery(cfg))
//	_ = eng.Start(ctx)
//	sessionID, err := eng.Submit(ctx, engine.Capture{ImageRef: "frame.jpg", TargetCount: 6})
//
// # Architecture
//
// Every entity (batch, pallet, retry entry, alert, event) has its own
// narrow store interface. A single backend (memory or bun) implements all
// of them. All durable read-modify-write sequences run inside one
// process-wide critical section, the Guard; network calls never do.
package kegsync
