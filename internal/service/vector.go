package service

import (
	"fmt"
	"math"

	"urlscan/internal/model"
)

// Schema names the classifier inputs in training order.
type Schema struct {
	Version string
	Names   []string
}

// CanonicalSchema is the feature layout the served model is trained on.
var CanonicalSchema = Schema{
	Version: "v2",
	Names: []string{
		"url_length", "dot_count", "hyphen_count", "has_ip",
		"suspicious_word_score", "subdomain_count", "tld_length",
		"url_entropy", "has_a", "has_mx", "has_ns", "ip_count",
	},
}

type featureFunc func(Features, model.DNSInfo) float64

var featureTable = map[string]featureFunc{
	"url_length":              func(f Features, _ model.DNSInfo) float64 { return float64(f.URLLength) },
	"domain_length":           func(f Features, _ model.DNSInfo) float64 { return float64(f.DomainLength) },
	"dot_count":               func(f Features, _ model.DNSInfo) float64 { return float64(f.DotCount) },
	"hyphen_count":            func(f Features, _ model.DNSInfo) float64 { return float64(f.HyphenCount) },
	"avg_token_length":        func(f Features, _ model.DNSInfo) float64 { return f.URLTokens.AvgLength },
	"token_count":             func(f Features, _ model.DNSInfo) float64 { return float64(f.URLTokens.Count) },
	"largest_token":           func(f Features, _ model.DNSInfo) float64 { return float64(f.URLTokens.Longest) },
	"avg_domain_token_length": func(f Features, _ model.DNSInfo) float64 { return f.DomainTokens.AvgLength },
	"domain_token_count":      func(f Features, _ model.DNSInfo) float64 { return float64(f.DomainTokens.Count) },
	"largest_domain":          func(f Features, _ model.DNSInfo) float64 { return float64(f.DomainTokens.Longest) },
	"avg_path_token":          func(f Features, _ model.DNSInfo) float64 { return f.PathTokens.AvgLength },
	"path_token_count":        func(f Features, _ model.DNSInfo) float64 { return float64(f.PathTokens.Count) },
	"largest_path":            func(f Features, _ model.DNSInfo) float64 { return float64(f.PathTokens.Longest) },
	"has_ip":                  func(f Features, _ model.DNSInfo) float64 { return boolFloat(f.HasIP) },
	"suspicious_word_score":   func(f Features, _ model.DNSInfo) float64 { return f.SuspiciousWordScore },
	"subdomain_count":         func(f Features, _ model.DNSInfo) float64 { return float64(f.SubdomainCount) },
	"tld_length":              func(f Features, _ model.DNSInfo) float64 { return float64(f.TLDLength) },
	"url_entropy":             func(f Features, _ model.DNSInfo) float64 { return f.URLEntropy },
	"exe_in_url":              func(f Features, _ model.DNSInfo) float64 { return boolFloat(f.ExeInURL) },
	"has_a":                   func(_ Features, d model.DNSInfo) float64 { return boolFloat(d.HasA) },
	"has_mx":                  func(_ Features, d model.DNSInfo) float64 { return boolFloat(d.HasMX) },
	"has_ns":                  func(_ Features, d model.DNSInfo) float64 { return boolFloat(d.HasNS) },
	"ip_count":                func(_ Features, d model.DNSInfo) float64 { return float64(d.IPCount) },
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// FeatureVector is an assembled classifier input.
type FeatureVector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

type Assembler struct {
	schema Schema
	funcs  []featureFunc
}

// NewAssembler binds schema to the feature table. An unknown or duplicate
// name is a configuration error.
func NewAssembler(schema Schema) (*Assembler, error) {
	if len(schema.Names) == 0 {
		return nil, fmt.Errorf("schema %q has no features", schema.Version)
	}
	a := &Assembler{schema: schema, funcs: make([]featureFunc, len(schema.Names))}
	seen := make(map[string]bool, len(schema.Names))
	for i, name := range schema.Names {
		fn, ok := featureTable[name]
		if !ok {
			return nil, fmt.Errorf("schema %q: unknown feature %q", schema.Version, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("schema %q: duplicate feature %q", schema.Version, name)
		}
		seen[name] = true
		a.funcs[i] = fn
	}
	return a, nil
}

func (a *Assembler) Schema() Schema { return a.schema }

// Assemble orders the features by schema. Non-finite values are rejected.
func (a *Assembler) Assemble(f Features, dns model.DNSInfo) (FeatureVector, error) {
	values := make([]float64, len(a.funcs))
	for i, fn := range a.funcs {
		v := fn(f, dns)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FeatureVector{}, fmt.Errorf("%w: %s=%v", ErrInvalidFeature, a.schema.Names[i], v)
		}
		values[i] = v
	}
	return FeatureVector{Names: a.schema.Names, Values: values}, nil
}
