package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"urlscan/internal/model"
)

var (
	tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	dottedQuad = regexp.MustCompile(`\d{1,3}(\.\d{1,3}){3}`)
)

// TokenStats summarises one token stream.
type TokenStats struct {
	AvgLength float64 `json:"avg_length"`
	Count     int     `json:"count"`
	Longest   int     `json:"longest"`
}

// Features holds every lexical measurement of a URL. Only a subset is fed
// to the classifier; the rest is reported by the debug endpoint.
type Features struct {
	URLLength           int        `json:"url_length"`
	DomainLength        int        `json:"domain_length"`
	DotCount            int        `json:"dot_count"`
	HyphenCount         int        `json:"hyphen_count"`
	URLTokens           TokenStats `json:"url_tokens"`
	DomainTokens        TokenStats `json:"domain_tokens"`
	PathTokens          TokenStats `json:"path_tokens"`
	HasIP               bool       `json:"has_ip"`
	SuspiciousWordScore float64    `json:"suspicious_word_score"`
	SubdomainCount      int        `json:"subdomain_count"`
	TLDLength           int        `json:"tld_length"`
	URLEntropy          float64    `json:"url_entropy"`
	ExeInURL            bool       `json:"exe_in_url"`
}

// Lexicon is the keyword configuration behind SuspiciousWordScore.
type Lexicon struct {
	Keywords []string
	Weight   float64
}

func DefaultLexicon() Lexicon {
	return Lexicon{
		Keywords: []string{"login", "secure", "account", "bank", "confirm", "signin", "money", "free", "verify"},
		Weight:   2,
	}
}

type Extractor struct {
	lexicon Lexicon
}

func NewExtractor(lex Lexicon) *Extractor {
	kws := make([]string, 0, len(lex.Keywords))
	for _, kw := range lex.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			kws = append(kws, kw)
		}
	}
	return &Extractor{lexicon: Lexicon{Keywords: kws, Weight: lex.Weight}}
}

// Extract computes the lexical features of n. It performs no I/O and fails
// only when n carries no usable domain.
func (e *Extractor) Extract(n model.NormalizedURL, whitelisted bool) (Features, error) {
	if err := validateDomain(n.Domain); err != nil {
		return Features{}, err
	}

	url := n.Raw
	lower := strings.ToLower(url)

	f := Features{
		URLLength:      utf8.RuneCountInString(url),
		DomainLength:   utf8.RuneCountInString(n.Domain),
		DotCount:       strings.Count(url, "."),
		HyphenCount:    strings.Count(url, "-"),
		URLTokens:      tokenStats(url),
		DomainTokens:   tokenStats(n.Domain),
		PathTokens:     tokenStats(n.Path),
		HasIP:          dottedQuad.MatchString(url),
		SubdomainCount: subdomainCount(n.Domain),
		TLDLength:      tldLength(n.Domain),
		URLEntropy:     ShannonEntropy(url),
		ExeInURL:       strings.Contains(lower, ".exe"),
	}
	if !whitelisted {
		f.SuspiciousWordScore = e.suspiciousScore(lower)
	}
	return f, nil
}

func (e *Extractor) suspiciousScore(lower string) float64 {
	hits := 0
	for _, kw := range e.lexicon.Keywords {
		hits += strings.Count(lower, kw)
	}
	return float64(hits) * e.lexicon.Weight
}

func validateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrFeatureExtraction)
	}
	for _, r := range domain {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == utf8.RuneError {
			return fmt.Errorf("%w: invalid character %q in domain", ErrFeatureExtraction, r)
		}
	}
	return nil
}

func tokenStats(s string) TokenStats {
	var st TokenStats
	total := 0
	for _, tok := range tokenSplit.Split(s, -1) {
		if tok == "" {
			continue
		}
		l := utf8.RuneCountInString(tok)
		st.Count++
		total += l
		if l > st.Longest {
			st.Longest = l
		}
	}
	if st.Count > 0 {
		st.AvgLength = float64(total) / float64(st.Count)
	}
	return st
}

func subdomainCount(domain string) int {
	labels := strings.Count(domain, ".") + 1
	if labels <= 2 {
		return 0
	}
	return labels - 2
}

func tldLength(domain string) int {
	return utf8.RuneCountInString(domain[strings.LastIndexByte(domain, '.')+1:])
}

// ShannonEntropy returns the entropy in bits of the rune distribution of s.
// s must not be empty.
func ShannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}
