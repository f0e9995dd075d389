package relay

import (
	"strconv"
	"time"
)

// keyGen produces batch keys of the form <namespace>-<unix-millis>. Each key
// identifies the durable-store entry mirroring one cycle's buffer, so keys
// must be unique per cycle: colliding timestamps are bumped forward to keep
// the sequence strictly increasing.
type keyGen struct {
	namespace string
	last      int64
}

// next returns a fresh batch key for the given time.
func (g *keyGen) next(now time.Time) string {
	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return g.namespace + "-" + strconv.FormatInt(ms, 10)
}

// prefix returns the namespace prefix shared by all keys this generator
// produces, used to recognize the relay's own durable entries.
func (g *keyGen) prefix() string {
	return g.namespace + "-"
}
