// Package message defines the structured message handed from an input's
// codec to the processing buffer.
package message

import (
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"
)

// Message is one decoded log event. It is immutable once built.
type Message struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	Input      string    `json:"input"`
	Source     string    `json:"source,omitempty"`
	Hostname   string    `json:"hostname,omitempty"`
	Payload    []byte    `json:"-"`
	Size       int       `json:"size"`
}

// Option customizes New
type Option func(*Message)

// WithTime overrides the receive timestamp
func WithTime(t time.Time) Option {
	return func(m *Message) { m.ReceivedAt = t }
}

// WithSource records the sender address. Only the IP is kept.
func WithSource(addr net.Addr) Option {
	return func(m *Message) {
		if ip := IPOf(addr); ip != nil {
			m.Source = ip.String()
		}
	}
}

// WithHostname records the resolved sender hostname
func WithHostname(host string) Option {
	return func(m *Message) { m.Hostname = host }
}

// New builds a message for payload received on input
func New(input string, payload []byte, opts ...Option) *Message {
	m := &Message{
		ID:         uuid.New(),
		ReceivedAt: time.Now().UTC(),
		Input:      input,
		Payload:    payload,
		Size:       len(payload),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IPOf extracts the IP from UDP, TCP or IP addresses. nil otherwise.
func IPOf(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	}
	return nil
}

// MarshalJSON embeds the payload as raw JSON when it is valid JSON and as a
// string otherwise.
func (m *Message) MarshalJSON() ([]byte, error) {
	type alias Message
	out := struct {
		*alias
		Payload any `json:"payload"`
	}{alias: (*alias)(m)}

	if json.Valid(m.Payload) {
		out.Payload = json.RawMessage(m.Payload)
	} else {
		out.Payload = string(m.Payload)
	}
	return json.Marshal(out)
}
