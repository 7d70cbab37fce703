// Package server hosts the Fiber HTTP service, the request middleware chain and
// the site registry that maps Host headers onto per-site worker registrations.
// Each site owns a disk cache rooted at StoragePath/<site>, an upstream network
// that reaches the origin through the shared http.Client, and the
// worker.Registration that runs the cache worker lifecycle. Diagnostics under
// /-/ bypass Host routing and are mounted by the routes subpackage.
package server
