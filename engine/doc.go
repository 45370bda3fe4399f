// Package engine wires the kegsync subsystems together and provides the
// application-level API: capture submission, batch status, operator
// resolution and manual retry.
//
// The engine package sits above every subsystem package (lifecycle,
// pallet, retryq, worker, scheduler, recovery) and below the application
// layer (the api package and cmd/kegsync). The root kegsync package only
// holds configuration, the Guard and sentinel errors, so it cannot import
// those packages back.
//
// # Building an Engine
//
//	st, err := kegsync.New(
//	    kegsync.WithStore(bunStore),
//	    kegsync.WithConcurrency(4),
//	)
//
//	eng, err := engine.Build(st,
//	    engine.WithDetector(detector),
//	    engine.WithDelivery(delivery.Config{Endpoint: url, MacID: mac, Hash: true}),
//	    engine.WithExtension(myExtension),
//	)
//
// # Running
//
// Start runs crash recovery once, then starts the worker pool and the
// retry scheduler. Stop reverses that order.
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
//	sessionID, err := eng.Submit(ctx, engine.Capture{
//	    ImageRef:    "/captures/frame-0042.jpg",
//	    TargetCount: 6,
//	    BeerType:    "Lager",
//	    Label:       "L-2291",
//	})
//
// # Options
//
//   - [WithDetector] sets the QR detector (required)
//   - [WithDelivery] or [WithClient] sets the cloud delivery client (required)
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the processing chain
//   - [WithPrometheus] selects the registry for station metrics
//   - [WithTracerProvider] and [WithMeterProvider] set OpenTelemetry providers
package engine
