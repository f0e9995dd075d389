// Package sink provides downstream consumers for relayed batches: an HTTP
// uploader with retry/backoff and a line-oriented writer sink.
package sink
