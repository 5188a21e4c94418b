// Package mockhttp exposes the mock generation endpoints over net/http.
//
// Handler serves the cancellation and streaming mock:
//
//	GET /test?query=<text>&stream=<bool>
//
// With stream=false (the default) the reply is a single JSON object once the
// generation finishes, or an aborted object if the client went away first.
// With stream=true the body is a sequence of JSON values, each terminated by
// a NUL byte: bare strings for partial chunks, then an object carrying the
// complete text. Only one generation runs at a time; other requests wait for
// the gate.
//
// Handler also serves /healthz, /schema and, when configured, /metrics.
//
// EventStreamHandler serves a plain time-paced text/event-stream on GET / and
// has no gate. It is a baseline for clients that only need to see chunks
// arrive over time.
//
// Example:
//
//	coord, _ := coordinator.New(memorygate.New(), coordinator.WithDelay(500*time.Millisecond))
//	h := mockhttp.New(coord, mockhttp.WithLogger(logger))
//	http.ListenAndServe(":8008", h)
package mockhttp
