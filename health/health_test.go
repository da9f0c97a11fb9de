package health

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		parts []Level
		want  Level
	}{
		{"empty", nil, Healthy},
		{"all healthy", []Level{Healthy, Healthy}, Healthy},
		{"one degraded", []Level{Healthy, Degraded}, Degraded},
		{"unhealthy beats degraded", []Level{Degraded, Unhealthy, Healthy}, Unhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := make([]Status, 0, len(tt.parts))
			for _, l := range tt.parts {
				parts = append(parts, newStatus("c", l, ""))
			}
			got := Aggregate("system", parts)
			assert.Equal(t, tt.want, got.Level)
			assert.Len(t, got.Parts, len(tt.parts))
		})
	}
}

func TestFromError_Redacts(t *testing.T) {
	s := FromError("nats", errors.New("dial nats://user:pw@10.0.0.1:4222 failed, token=abc123"))
	assert.Equal(t, Unhealthy, s.Level)
	assert.NotContains(t, s.Message, "nats://")
	assert.NotContains(t, s.Message, "abc123")
	assert.Contains(t, s.Message, "[URL]")

	assert.True(t, FromError("nats", nil).OK())
}

func TestMonitor_Overall(t *testing.T) {
	m := NewMonitor()
	m.Set("udp", Healthy, "running")
	m.Set("tcp", Degraded, "throttled")

	s, ok := m.Get("udp")
	require.True(t, ok)
	assert.False(t, s.Timestamp.IsZero())

	overall := m.Overall("logstreams")
	assert.Equal(t, Degraded, overall.Level)
	require.Len(t, overall.Parts, 2)
	assert.Equal(t, "tcp", overall.Parts[0].Component)

	m.Remove("tcp")
	assert.True(t, m.Overall("logstreams").OK())
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			m.Set(name, Healthy, "ok")
			_ = m.Overall("x")
			m.Remove(name)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, m.Overall("x").Parts)
}
