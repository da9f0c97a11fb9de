package message

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	addr := &net.UDPAddr{IP: net.ParseIP("10.1.2.3"), Port: 40000}

	m := New("gelf-udp", []byte(`{"short_message":"hi"}`),
		WithTime(at), WithSource(addr), WithHostname("web-1"))

	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.Equal(t, at, m.ReceivedAt)
	assert.Equal(t, "gelf-udp", m.Input)
	assert.Equal(t, "10.1.2.3", m.Source)
	assert.Equal(t, "web-1", m.Hostname)
	assert.Equal(t, 22, m.Size)

	other := New("gelf-udp", nil)
	assert.NotEqual(t, m.ID, other.ID)
}

func TestIPOf(t *testing.T) {
	ip := net.ParseIP("192.0.2.1")
	assert.Equal(t, ip, IPOf(&net.TCPAddr{IP: ip}))
	assert.Equal(t, ip, IPOf(&net.UDPAddr{IP: ip}))
	assert.Equal(t, ip, IPOf(&net.IPAddr{IP: ip}))
	assert.Nil(t, IPOf(&net.UnixAddr{Name: "/tmp/x"}))
	assert.Nil(t, IPOf(nil))
}

func TestMarshalJSON_Payload(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    any
	}{
		{"json object embedded", []byte(`{"a":1}`), map[string]any{"a": float64(1)}},
		{"plain text as string", []byte("<14>hello"), "<14>hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(New("in", tt.payload))
			require.NoError(t, err)

			var decoded map[string]any
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.want, decoded["payload"])
			assert.Equal(t, "in", decoded["input"])
		})
	}
}
