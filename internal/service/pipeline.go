package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"urlscan/internal/model"
	"urlscan/internal/utils"
)

// DNSResolver is the DNS presence source used by the pipeline.
type DNSResolver interface {
	Resolve(ctx context.Context, domain string, whitelisted bool) model.DNSInfo
	Cached(domain string) (model.DNSInfo, bool)
}

// HistoryRecorder persists verdicts for later inspection.
type HistoryRecorder interface {
	AddScanHistory(ctx context.Context, res model.ScanResult) error
}

type ScannerConfig struct {
	Whitelist  *WhitelistStore
	DNS        DNSResolver
	Classifier Classifier
	History    HistoryRecorder
	Schema     Schema
	Lexicon    Lexicon

	DefaultThreshold float64
	URLTimeout       time.Duration
	MaxBatch         int
	Workers          int
}

// Scanner runs the per-URL decision pipeline: normalize, whitelist,
// extract, resolve, assemble, classify, decide.
type Scanner struct {
	Whitelist  *WhitelistStore
	DNS        DNSResolver
	Classifier Classifier
	History    HistoryRecorder
	Extractor  *Extractor
	Assembler  *Assembler

	DefaultThreshold float64
	URLTimeout       time.Duration
	MaxBatch         int
	Workers          int
}

func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	if cfg.Whitelist == nil || cfg.DNS == nil {
		return nil, errors.New("scanner requires a whitelist store and a dns resolver")
	}
	if len(cfg.Schema.Names) == 0 {
		cfg.Schema = CanonicalSchema
	}
	asm, err := NewAssembler(cfg.Schema)
	if err != nil {
		return nil, err
	}
	if cfg.Classifier != nil {
		if err := checkSchema(cfg.Classifier.FeatureNames(), cfg.Schema); err != nil {
			return nil, err
		}
	}
	if cfg.Lexicon.Keywords == nil {
		cfg.Lexicon = DefaultLexicon()
	}
	if cfg.URLTimeout <= 0 {
		cfg.URLTimeout = 3 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	def := cfg.DefaultThreshold
	if !validThreshold(def) {
		def = 0.5
	}

	return &Scanner{
		Whitelist:        cfg.Whitelist,
		DNS:              cfg.DNS,
		Classifier:       cfg.Classifier,
		History:          cfg.History,
		Extractor:        NewExtractor(cfg.Lexicon),
		Assembler:        asm,
		DefaultThreshold: def,
		URLTimeout:       cfg.URLTimeout,
		MaxBatch:         cfg.MaxBatch,
		Workers:          cfg.Workers,
	}, nil
}

func (s *Scanner) ModelLoaded() bool { return s.Classifier != nil }

func validThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 1
}

// ResolveThreshold falls back to the default for a missing or out of range value.
func (s *Scanner) ResolveThreshold(t *float64) float64 {
	if t == nil || !validThreshold(*t) {
		return s.DefaultThreshold
	}
	return *t
}

// Check classifies one URL. Every failure is reported in the result; the
// verdict then defaults to benign with zero confidence.
func (s *Scanner) Check(ctx context.Context, rawURL string, threshold *float64) model.ScanResult {
	th := s.ResolveThreshold(threshold)

	ctx, cancel := context.WithTimeout(ctx, s.URLTimeout)
	defer cancel()

	res := s.check(ctx, rawURL, th)

	verdictsTotal.WithLabelValues(string(res.Status), strconv.FormatBool(res.IsMalicious)).Inc()
	switch {
	case res.Status == model.StatusError:
		utils.Log.Warn("scan failed", utils.Field("url", rawURL), utils.Field("reason", res.Reason), utils.Field("message", res.Message))
	case res.IsMalicious:
		utils.Log.Warn("malicious url", utils.Field("url", rawURL), utils.Field("confidence", res.Confidence))
	default:
		utils.Log.Info("benign url", utils.Field("url", rawURL), utils.Field("status", string(res.Status)), utils.Field("confidence", res.Confidence))
	}

	if s.History != nil {
		hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		if err := s.History.AddScanHistory(hctx, res); err != nil {
			utils.Log.Debug("failed to record scan history", utils.Field("error", err.Error()))
		}
		hcancel()
	}
	return res
}

func (s *Scanner) check(ctx context.Context, rawURL string, threshold float64) (res model.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			utils.Log.Error("scan panicked", utils.Field("url", rawURL), utils.Field("panic", fmt.Sprint(r)))
			res = errorResult(rawURL, fmt.Errorf("panic: %v", r))
		}
	}()

	n := Normalize(rawURL)
	if s.Whitelist.IsWhitelisted(n.Domain, MainDomain(n.Domain)) {
		return model.ScanResult{
			URL:     rawURL,
			Status:  model.StatusWhitelisted,
			Message: "Domain is whitelisted - trusted",
		}
	}

	feats, err := s.Extractor.Extract(n, false)
	if err != nil {
		return errorResult(rawURL, err)
	}

	dnsInfo := s.DNS.Resolve(ctx, n.Domain, false)

	vec, err := s.Assembler.Assemble(feats, dnsInfo)
	if err != nil {
		return errorResult(rawURL, err)
	}

	p, err := s.predict(vec)
	if err != nil {
		return errorResult(rawURL, err)
	}
	confidenceHistogram.Observe(p)

	malicious := p >= threshold
	label := "Benign"
	if malicious {
		label = "Malicious"
	}
	return model.ScanResult{
		URL:         rawURL,
		IsMalicious: malicious,
		Confidence:  p,
		Status:      model.StatusAnalyzed,
		Message:     fmt.Sprintf("%s (%.2f%% confidence)", label, p*100),
	}
}

func (s *Scanner) predict(vec FeatureVector) (float64, error) {
	if s.Classifier == nil {
		return 0, fmt.Errorf("%w: no model loaded", ErrClassifierUnavailable)
	}
	p, err := s.Classifier.Predict(vec.Values)
	if err != nil {
		if !errors.Is(err, ErrClassifierUnavailable) {
			err = fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		}
		return 0, err
	}
	if !validThreshold(p) {
		return 0, fmt.Errorf("%w: probability %v outside [0,1]", ErrClassifierUnavailable, p)
	}
	return p, nil
}

func errorResult(rawURL string, err error) model.ScanResult {
	reason := reasonFor(err)
	var msg string
	switch reason {
	case ReasonFeatureExtraction:
		msg = "Feature extraction failed"
	case ReasonInvalidFeatures:
		msg = "Invalid features detected"
	case ReasonClassifierUnavailable:
		msg = "Prediction failed: " + err.Error()
	default:
		msg = "Internal error"
	}
	return model.ScanResult{
		URL:     rawURL,
		Status:  model.StatusError,
		Message: msg,
		Reason:  reason,
	}
}

// WhitelistCheck reports how the whitelist sees rawURL, without classifying it.
func (s *Scanner) WhitelistCheck(rawURL string) model.WhitelistCheck {
	n := Normalize(rawURL)
	main := MainDomain(n.Domain)
	wl := s.Whitelist.Get()
	return model.WhitelistCheck{
		URL:           rawURL,
		Domain:        n.Domain,
		MainDomain:    main,
		IsWhitelisted: wl.Match(n.Domain, main),
		WhitelistSize: wl.Len(),
	}
}

// Explanation is the full feature breakdown of a URL.
type Explanation struct {
	URL         string              `json:"url"`
	Normalized  model.NormalizedURL `json:"normalized"`
	MainDomain  string              `json:"main_domain"`
	Whitelisted bool                `json:"is_whitelisted"`
	Features    *Features           `json:"features,omitempty"`
	DNS         model.DNSInfo       `json:"dns"`
	DNSCached   bool                `json:"dns_cached"`
	Vector      *FeatureVector      `json:"vector,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Explain computes every feature of rawURL without any network access. DNS
// features come from the cache and read as absent when nothing is cached.
func (s *Scanner) Explain(rawURL string) Explanation {
	n := Normalize(rawURL)
	ex := Explanation{URL: rawURL, Normalized: n, MainDomain: MainDomain(n.Domain)}
	ex.Whitelisted = s.Whitelist.IsWhitelisted(n.Domain, ex.MainDomain)

	feats, err := s.Extractor.Extract(n, ex.Whitelisted)
	if err != nil {
		ex.Error = err.Error()
		return ex
	}
	ex.Features = &feats

	if ex.Whitelisted {
		ex.DNS, ex.DNSCached = TrustedDNSInfo, true
	} else {
		ex.DNS, ex.DNSCached = s.DNS.Cached(n.Domain)
	}

	vec, err := s.Assembler.Assemble(feats, ex.DNS)
	if err != nil {
		ex.Error = err.Error()
		return ex
	}
	ex.Vector = &vec
	return ex
}
