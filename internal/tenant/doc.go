// Package tenant maps chat ids to their kv.Engine.
//
// A Router owns one engine per tenant, rooted at <base>/<tenant id>. Engines
// are opened lazily on first Resolve and kept until Close; there is no
// eviction. Resolve guarantees that the Opener runs at most once per tenant id
// for the lifetime of the Router, however many goroutines race on the first
// request. A failed open is not cached: the next Resolve tries again.
package tenant
