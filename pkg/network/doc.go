// Package network defines the value types shared by the workstation and its
// transport: requests and their identity, progress states, failures and the
// configuration a caller supplies to describe an endpoint.
//
// Nothing in this package performs I/O.
//
// # Requests
//
// A Request is built once from a Configuration and never changes afterwards.
// Two requests with the same method, URL, headers and body are the same
// logical operation:
//
//	a, _ := network.NewRequest(endpoint, "app/1.0")
//	b, _ := network.NewRequest(endpoint, "app/1.0")
//	a.Equal(b) // true
//	a.Key() == b.Key() // true, usable as a map key
//
// # Progress
//
// Progress is a small state value:
//
//	loading | queued | downloading(f) | uploading(f) | paused | failed(err) | finished(result)
//
// Failed and finished are terminal.
package network
