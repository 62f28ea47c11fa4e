package service

import (
	"strings"
	"unicode/utf8"

	"urlscan/internal/model"

	"golang.org/x/net/idna"
)

const defaultScheme = "http"

// Normalize converts a raw URL, as found in an e-mail or typed by a user,
// into its canonical form. It never fails: input without a scheme is treated
// as http and input without a host yields an empty Domain.
func Normalize(raw string) model.NormalizedURL {
	raw = strings.TrimSpace(raw)

	scheme := defaultScheme
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 && !strings.ContainsAny(raw[:i], "/?#") {
		if isScheme(raw[:i]) {
			scheme = strings.ToLower(raw[:i])
		}
		rest = raw[i+3:]
	} else if strings.HasPrefix(raw, "//") {
		rest = raw[2:]
	}

	hostport := rest
	remainder := ""
	if end := strings.IndexAny(rest, "/?#"); end != -1 {
		hostport = rest[:end]
		remainder = rest[end:]
	}

	n := model.NormalizedURL{
		Scheme: scheme,
		Domain: normalizeHost(hostport),
	}

	if i := strings.IndexByte(remainder, '#'); i != -1 {
		n.Fragment = remainder[i+1:]
		remainder = remainder[:i]
	}
	if i := strings.IndexByte(remainder, '?'); i != -1 {
		n.Query = remainder[i+1:]
		remainder = remainder[:i]
	}
	n.Path = remainder
	if n.Path == "/" {
		n.Path = ""
	}

	n.Raw = assemble(n)
	return n
}

// NormalizeDomain applies only the domain rule of Normalize.
func NormalizeDomain(s string) string {
	return Normalize(s).Domain
}

// MainDomain returns the last two labels of domain.
func MainDomain(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func assemble(n model.NormalizedURL) string {
	var b strings.Builder
	b.WriteString(n.Scheme)
	b.WriteString("://")
	if strings.Contains(n.Domain, ":") {
		// IPv6 literal; brackets keep the colon from being read as a port.
		b.WriteByte('[')
		b.WriteString(n.Domain)
		b.WriteByte(']')
	} else {
		b.WriteString(n.Domain)
	}
	b.WriteString(n.Path)
	if n.Query != "" {
		b.WriteByte('?')
		b.WriteString(n.Query)
	}
	if n.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(n.Fragment)
	}
	return b.String()
}

func normalizeHost(hostport string) string {
	host := hostport

	// Strip userinfo if present: user:pass@host
	if at := strings.LastIndexByte(host, '@'); at != -1 {
		host = host[at+1:]
	}

	if strings.HasPrefix(host, "[") {
		if end := strings.IndexByte(host, ']'); end != -1 {
			host = host[1:end]
		} else {
			host = host[1:]
		}
	} else if colon := strings.IndexByte(host, ':'); colon != -1 {
		host = host[:colon]
	}

	host = strings.ToLower(strings.NewReplacer("[", "", "]", "").Replace(host))

	// IDNA maps ideographic full stops to '.', so trailing dots are trimmed after it.
	if !isASCII(host) {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil {
			host = strings.ToLower(ascii)
		}
	}
	host = strings.TrimRight(host, ".")

	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

func isScheme(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
