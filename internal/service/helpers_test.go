package service

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"urlscan/internal/model"

	"github.com/miekg/dns"
)

// fakeExchanger answers DNS queries from an in-memory zone.
type fakeExchanger struct {
	mu      sync.Mutex
	answers map[string]map[uint16]int // fqdn -> qtype -> answer count
	nx      map[string]bool
	delay   time.Duration
	calls   atomic.Int64
}

func newFakeExchanger() *fakeExchanger {
	return &fakeExchanger{answers: map[string]map[uint16]int{}, nx: map[string]bool{}}
}

func (f *fakeExchanger) set(domain string, qtype uint16, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := dns.Fqdn(domain)
	if f.answers[name] == nil {
		f.answers[name] = map[uint16]int{}
	}
	f.answers[name][qtype] = n
}

func (f *fakeExchanger) ExchangeContext(ctx context.Context, req *dns.Msg, _ string) (*dns.Msg, time.Duration, error) {
	f.calls.Add(1)
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}

	q := req.Question[0]
	m := new(dns.Msg)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nx[q.Name] {
		m.SetRcode(req, dns.RcodeNameError)
		return m, time.Millisecond, nil
	}
	m.SetReply(req)
	for i := 0; i < f.answers[q.Name][q.Qtype]; i++ {
		m.Answer = append(m.Answer, fakeRR(q.Name, q.Qtype, i))
	}
	return m, time.Millisecond, nil
}

func fakeRR(name string, qtype uint16, i int) dns.RR {
	hdr := dns.RR_Header{Name: name, Rrtype: qtype, Class: dns.ClassINET, Ttl: 300}
	switch qtype {
	case dns.TypeMX:
		return &dns.MX{Hdr: hdr, Preference: uint16(10 * (i + 1)), Mx: "mx." + name}
	case dns.TypeNS:
		return &dns.NS{Hdr: hdr, Ns: "ns1." + name}
	default:
		return &dns.A{Hdr: hdr, A: net.IPv4(192, 0, 2, byte(i+1))}
	}
}

// fakeResolver is a DNSResolver backed by a map.
type fakeResolver struct {
	mu      sync.Mutex
	records map[string]model.DNSInfo
	calls   int
}

func (r *fakeResolver) Resolve(_ context.Context, domain string, whitelisted bool) model.DNSInfo {
	if whitelisted {
		return TrustedDNSInfo
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.records[domain]
}

func (r *fakeResolver) Cached(domain string) (model.DNSInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.records[domain]
	return info, ok
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeClassifier returns a fixed probability.
type fakeClassifier struct {
	p      float64
	err    error
	panics bool
	last   []float64
	mu     sync.Mutex
}

func (c *fakeClassifier) Predict(values []float64) (float64, error) {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	c.last = append([]float64(nil), values...)
	c.mu.Unlock()
	return c.p, c.err
}

func (c *fakeClassifier) FeatureNames() []string { return CanonicalSchema.Names }

// fakeHistory records every verdict.
type fakeHistory struct {
	mu      sync.Mutex
	results []model.ScanResult
}

func (h *fakeHistory) AddScanHistory(_ context.Context, res model.ScanResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, res)
	return nil
}

func loadTestModel(t *testing.T) *XGBModel {
	t.Helper()
	m, err := LoadClassifier("testdata/model.json", CanonicalSchema)
	if err != nil {
		t.Fatalf("LoadClassifier failed: %v", err)
	}
	return m
}

func newTestScanner(t *testing.T, c Classifier, r DNSResolver, domains ...string) *Scanner {
	t.Helper()
	wl := NewWhitelistStore("", 0)
	wl.Set(NewWhitelist(domains...))
	s, err := NewScanner(ScannerConfig{
		Whitelist:  wl,
		DNS:        r,
		Classifier: c,
		URLTimeout: time.Second,
		Workers:    4,
	})
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	return s
}
