package codec

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"

	"github.com/c360/logstreams/errors"
)

// DNSConfig controls reverse lookups
type DNSConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Server    string        `json:"server" yaml:"server"` // host:port; empty reads /etc/resolv.conf
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	CacheSize int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultDNSConfig returns a disabled resolver configuration with sane limits
func DefaultDNSConfig() DNSConfig {
	return DNSConfig{
		Timeout:   2 * time.Second,
		CacheSize: 10_000,
		CacheTTL:  5 * time.Minute,
	}
}

// DNSResolver performs PTR lookups against one server and caches answers,
// including negative ones, for CacheTTL.
type DNSResolver struct {
	server string
	client *dns.Client
	cache  *expirable.LRU[string, string]
	logger *slog.Logger
}

var _ Resolver = (*DNSResolver)(nil)

// NewDNSResolver creates a resolver
func NewDNSResolver(cfg DNSConfig, logger *slog.Logger) (*DNSResolver, error) {
	d := DefaultDNSConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = d.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = d.CacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	server := cfg.Server
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: no dns server configured", errors.ErrMissingConfig),
				"DNSResolver", "NewDNSResolver", "read resolv.conf")
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	return &DNSResolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		cache:  expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger.With("component", "dns", "server", server),
	}, nil
}

// Server returns the address queried
func (r *DNSResolver) Server() string { return r.server }

// LookupAddr returns the first PTR name for ip without the trailing dot
func (r *DNSResolver) LookupAddr(ctx context.Context, ip net.IP) (string, error) {
	key := ip.String()
	if name, ok := r.cache.Get(key); ok {
		return name, nil
	}

	arpa, err := dns.ReverseAddr(key)
	if err != nil {
		return "", errors.WrapInvalid(err, "DNSResolver", "LookupAddr", "build reverse name")
	}

	q := new(dns.Msg)
	q.SetQuestion(arpa, dns.TypePTR)
	q.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, q, r.server)
	if err != nil {
		return "", errors.WrapTransient(err, "DNSResolver", "LookupAddr", "query "+arpa)
	}

	name := ""
	switch resp.Rcode {
	case dns.RcodeSuccess:
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				name = strings.TrimSuffix(ptr.Ptr, ".")
				break
			}
		}
	case dns.RcodeNameError:
	default:
		return "", errors.WrapTransient(fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode]),
			"DNSResolver", "LookupAddr", "query "+arpa)
	}

	r.cache.Add(key, name)
	return name, nil
}

// CacheLen returns the number of cached answers
func (r *DNSResolver) CacheLen() int { return r.cache.Len() }
