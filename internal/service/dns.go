package service

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"urlscan/internal/model"
	"urlscan/internal/utils"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// TrustedDNSInfo is reported for whitelisted domains without querying DNS.
var TrustedDNSInfo = model.DNSInfo{HasA: true, HasMX: false, HasNS: false, IPCount: 1}

// Exchanger sends a single DNS message. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// RemoteDNSCache is a shared cache tier consulted on a local miss.
type RemoteDNSCache interface {
	GetDNSInfo(ctx context.Context, domain string) (model.DNSInfo, bool, error)
	SetDNSInfo(ctx context.Context, domain string, info model.DNSInfo) error
}

type DNSOptions struct {
	Resolver  string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Client    Exchanger
	Remote    RemoteDNSCache
}

// DNSService answers "does this domain have A/MX/NS records" and memoizes
// the answer per canonical domain.
type DNSService struct {
	Resolver string
	Timeout  time.Duration
	Client   Exchanger
	Remote   RemoteDNSCache

	cache *expirable.LRU[string, model.DNSInfo]
	group singleflight.Group
}

func NewDNSService(opts DNSOptions) *DNSService {
	if opts.Resolver == "" {
		opts.Resolver = "8.8.8.8:53"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.Client == nil {
		opts.Client = &dns.Client{Timeout: opts.Timeout}
	}
	return &DNSService{
		Resolver: opts.Resolver,
		Timeout:  opts.Timeout,
		Client:   opts.Client,
		Remote:   opts.Remote,
		cache:    expirable.NewLRU[string, model.DNSInfo](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// Resolve never fails: every lookup problem is reported as an absent record.
func (s *DNSService) Resolve(ctx context.Context, domain string, whitelisted bool) model.DNSInfo {
	if whitelisted {
		dnsCacheLookups.WithLabelValues("trusted").Inc()
		return TrustedDNSInfo
	}
	if info, ok := s.cache.Get(domain); ok {
		dnsCacheLookups.WithLabelValues("hit").Inc()
		return info
	}

	// The shared lookup outlives any single caller; each query is still bounded by Timeout.
	ch := s.group.DoChan(domain, func() (interface{}, error) {
		return s.lookup(context.WithoutCancel(ctx), domain), nil
	})
	select {
	case r := <-ch:
		return r.Val.(model.DNSInfo)
	case <-ctx.Done():
		return model.DNSInfo{}
	}
}

// Cached returns the memoized answer for domain without querying.
func (s *DNSService) Cached(domain string) (model.DNSInfo, bool) {
	return s.cache.Peek(domain)
}

func (s *DNSService) Len() int {
	return s.cache.Len()
}

func (s *DNSService) Purge() {
	s.cache.Purge()
}

func (s *DNSService) lookup(ctx context.Context, domain string) model.DNSInfo {
	if info, ok := s.cache.Get(domain); ok {
		dnsCacheLookups.WithLabelValues("hit").Inc()
		return info
	}

	if s.Remote != nil {
		info, ok, err := s.Remote.GetDNSInfo(ctx, domain)
		if err != nil {
			utils.Log.Debug("remote dns cache read failed", utils.Field("domain", domain), utils.Field("error", err.Error()))
		} else if ok {
			dnsCacheLookups.WithLabelValues("remote").Inc()
			s.cache.Add(domain, info)
			return info
		}
	}
	dnsCacheLookups.WithLabelValues("miss").Inc()

	var info model.DNSInfo
	if net.ParseIP(domain) == nil {
		info = s.query(ctx, domain)
	}

	s.cache.Add(domain, info)
	if s.Remote != nil {
		if err := s.Remote.SetDNSInfo(ctx, domain, info); err != nil {
			utils.Log.Debug("remote dns cache write failed", utils.Field("domain", domain), utils.Field("error", err.Error()))
		}
	}
	return info
}

func (s *DNSService) query(ctx context.Context, domain string) model.DNSInfo {
	var (
		info model.DNSInfo
		mu   sync.Mutex
		wg   sync.WaitGroup
	)

	for _, t := range []uint16{dns.TypeA, dns.TypeMX, dns.TypeNS} {
		wg.Add(1)
		go func(qtype uint16) {
			defer wg.Done()
			n, err := s.count(ctx, domain, qtype)
			if err != nil {
				utils.Log.Debug("dns query failed",
					utils.Field("domain", domain),
					utils.Field("type", dns.TypeToString[qtype]),
					utils.Field("error", err.Error()),
				)
			}
			mu.Lock()
			defer mu.Unlock()
			switch qtype {
			case dns.TypeA:
				info.HasA = n > 0
				info.IPCount = n
			case dns.TypeMX:
				info.HasMX = n > 0
			case dns.TypeNS:
				info.HasNS = n > 0
			}
		}(t)
	}

	wg.Wait()
	return info
}

// count returns the number of answers of qtype. One attempt, bounded by Timeout.
func (s *DNSService) count(ctx context.Context, domain string, qtype uint16) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	start := time.Now()
	outcome := "ok"
	defer func() {
		dnsQueryDuration.WithLabelValues(dns.TypeToString[qtype], outcome).Observe(time.Since(start).Seconds())
	}()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	in, _, err := s.Client.ExchangeContext(ctx, m, s.Resolver)
	if err != nil {
		outcome = "error"
		return 0, err
	}
	if in.Rcode != dns.RcodeSuccess {
		outcome = "rcode"
		return 0, fmt.Errorf("rcode %s", dns.RcodeToString[in.Rcode])
	}

	n := 0
	for _, ans := range in.Answer {
		if ans.Header().Rrtype == qtype {
			n++
		}
	}
	if n == 0 {
		outcome = "empty"
	}
	return n, nil
}
