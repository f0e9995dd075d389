// Package event defines the log event value relayed by logrelay and its
// serialized wire form.
//
// The relay treats an Event as an opaque payload: EncodeBatch and
// DecodeBatch produce and consume the JSON array form shared by durable
// store entries and HTTP batch uploads, but nothing in the relay interprets
// an event's contents.
package event
