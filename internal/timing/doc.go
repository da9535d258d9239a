// Package timing records when an event reaches each processing step and the
// elapsed milliseconds between the current step and every step visited before.
//
// All timing data lives inside the event under a tracking container:
//
//	timestamps:
//	  received: "2024-05-01T10:00:00.000Z"
//	  parsed: "2024-05-01T10:00:01.500Z"
//	  parsed-since_received: 1500
//	  order: [received, parsed]
//
// Raw values are stored verbatim and normalized lazily when deltas are
// computed. Values that cannot be normalized suppress their deltas; when the
// current step's value is the one that fails the event is tagged with
// TagUnparseableCurrent.
package timing
