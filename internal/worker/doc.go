// Package worker hosts cache workers: per-site scripts that intercept every
// request a page sends to its origin. A Registration owns the lifecycle of the
// worker versions of one site (installing → installed → activating →
// activated), dispatches fetch events to the active worker, relays page
// messages, and tracks the page clients that the active worker controls.
//
// Concrete worker behaviour (which partitions exist, which strategy serves a
// request) lives in the profiles under internal/swmodule.
package worker
