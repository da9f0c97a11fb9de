package codec

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/errors"
)

// startDNS serves PTR answers from names and NXDOMAIN for everything else
func startDNS(t *testing.T, names map[string]string) (string, *atomic.Int32) {
	t.Helper()
	var queries atomic.Int32

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			queries.Add(1)
			resp := new(dns.Msg)
			resp.SetReply(req)
			q := req.Question[0]
			if name, ok := names[q.Name]; ok && q.Qtype == dns.TypePTR {
				resp.Answer = append(resp.Answer, &dns.PTR{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
					Ptr: name,
				})
			} else {
				resp.SetRcode(req, dns.RcodeNameError)
			}
			_ = w.WriteMsg(resp)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String(), &queries
}

func TestDNSResolver_LookupAddr(t *testing.T) {
	addr, queries := startDNS(t, map[string]string{
		"1.2.0.192.in-addr.arpa.": "app.example.org.",
	})

	r, err := NewDNSResolver(DNSConfig{Server: addr, Timeout: time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, addr, r.Server())

	ctx := context.Background()
	name, err := r.LookupAddr(ctx, net.IPv4(192, 0, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, "app.example.org", name)

	name, err = r.LookupAddr(ctx, net.IPv4(192, 0, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, "app.example.org", name)
	assert.Equal(t, int32(1), queries.Load(), "second lookup served from cache")

	name, err = r.LookupAddr(ctx, net.IPv4(192, 0, 2, 99))
	require.NoError(t, err)
	assert.Empty(t, name, "NXDOMAIN yields no name")

	_, err = r.LookupAddr(ctx, net.IPv4(192, 0, 2, 99))
	require.NoError(t, err)
	assert.Equal(t, int32(2), queries.Load(), "negative answers are cached too")
	assert.Equal(t, 2, r.CacheLen())
}

func TestDNSResolver_Unreachable(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close() // never answers

	r, err := NewDNSResolver(DNSConfig{Server: pc.LocalAddr().String(), Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = r.LookupAddr(context.Background(), net.IPv4(192, 0, 2, 1))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Zero(t, r.CacheLen(), "failures are not cached")
}

func TestNewDNSResolver_DefaultPort(t *testing.T) {
	r, err := NewDNSResolver(DNSConfig{Server: "127.0.0.1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:53", r.Server())
}
