// Package cache defines the in-memory metadata store that sits between the
// package resolvers and the upstream registry. Entries are opaque byte values
// keyed by strings such as "versions-<name>" or "config-<name>-<version>",
// each carrying its own expiry. The store is bounded by the total byte
// footprint of its entries rather than their count, evicts least recently
// used entries first, and can record negative ("known missing") results.
// State lives for the process lifetime only: the store starts empty and is
// never flushed to disk.
package cache
