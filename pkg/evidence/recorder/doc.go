// Package recorder writes one evidence record per governed request.
//
// Recorder implements pipeline.Sink. Emit converts the event, stamps a
// UUID and a SHA-256 digest, and enqueues the record without blocking;
// a single background goroutine performs the writes. When the queue is
// full the record is dropped and counted rather than slowing the request
// path. Close drains the queue before returning.
//
//	rec := recorder.New(store, recorder.Config{BufferSize: 1000})
//	defer rec.Close()
package recorder
