// Package codec turns complete frames into structured messages.
//
// A Codec receives a Raw buffer (the reassembled, still possibly compressed
// bytes plus their origin) and returns a *message.Message. Returning a nil
// message with a nil error means the frame carried nothing worth keeping.
// Protocol-specific field extraction is left to downstream processors; the
// codec here only handles transport compression and source enrichment.
package codec

import (
	"context"
	"net"
	"time"

	"github.com/c360/logstreams/message"
)

// Raw is a complete frame with its origin
type Raw struct {
	Input      string
	Payload    []byte
	Remote     net.Addr
	ReceivedAt time.Time
}

// Codec decodes raw frames
type Codec interface {
	Decode(ctx context.Context, raw Raw) (*message.Message, error)
}

// Resolver maps an address to a host name. An empty name with a nil error
// means the address has no name.
type Resolver interface {
	LookupAddr(ctx context.Context, ip net.IP) (string, error)
}

// Func adapts a function to Codec
type Func func(ctx context.Context, raw Raw) (*message.Message, error)

// Decode calls f
func (f Func) Decode(ctx context.Context, raw Raw) (*message.Message, error) {
	return f(ctx, raw)
}
