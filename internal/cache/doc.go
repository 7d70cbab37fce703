// Package cache implements the disk-backed cache storage of a single site. A
// storage root holds named partitions (one directory per versioned cache name)
// and each partition maps origin-relative request keys to a body file plus a
// JSON metadata sidecar. Writes use temp file + rename so readers never observe
// partial entries, and whole partitions can be enumerated or deleted so that
// workers can garbage-collect stale deployments on activation.
package cache
