// Package store provides durable key-value adapters for staging unsent
// batches: an in-memory store for tests, a directory-backed store with
// atomic writes, and a Redis-backed store. All of them satisfy the relay's
// Store contract.
package store
