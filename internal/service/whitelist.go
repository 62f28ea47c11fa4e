package service

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"urlscan/internal/utils"
)

// TrustedSubdomainPrefixes are infrastructure labels that keep the trust of
// their whitelisted parent domain.
var TrustedSubdomainPrefixes = map[string]struct{}{
	"www": {}, "mail": {}, "docs": {}, "drive": {}, "accounts": {},
	"support": {}, "help": {}, "admin": {}, "api": {}, "cdn": {},
	"m": {}, "mobile": {}, "app": {},
}

// Whitelist is an immutable set of canonical domains.
type Whitelist struct {
	domains  map[string]struct{}
	LoadedAt time.Time
}

func NewWhitelist(domains ...string) *Whitelist {
	w := &Whitelist{domains: make(map[string]struct{}, len(domains)), LoadedAt: time.Now()}
	for _, d := range domains {
		if d = NormalizeDomain(d); d != "" {
			w.domains[d] = struct{}{}
		}
	}
	return w
}

func (w *Whitelist) Len() int { return len(w.domains) }

func (w *Whitelist) Contains(domain string) bool {
	_, ok := w.domains[domain]
	return ok
}

// Match reports whether domain is trusted: exact entry, whitelisted main
// domain, or a whitelisted suffix reached by dropping only a trusted prefix.
func (w *Whitelist) Match(domain, mainDomain string) bool {
	if domain == "" {
		return false
	}
	if w.Contains(domain) {
		return true
	}
	if mainDomain != "" && w.Contains(mainDomain) {
		return true
	}

	for i := 0; i < len(domain); i++ {
		if domain[i] != '.' {
			continue
		}
		if !w.Contains(domain[i+1:]) {
			continue
		}
		if _, ok := TrustedSubdomainPrefixes[domain[:i]]; ok {
			return true
		}
	}
	return false
}

// LoadWhitelist reads a [rank, domain] CSV, keeping at most max data rows.
// A header row is recognised by a non-numeric first column. Malformed rows
// are skipped.
func LoadWhitelist(path string, max int) (*Whitelist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigLoadError{Component: "whitelist", Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	w := &Whitelist{domains: make(map[string]struct{}), LoadedAt: time.Now()}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	line, rows, skipped := 0, 0, 0
	for max <= 0 || rows < max {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				utils.Log.Debug("skipping malformed whitelist row", utils.Field("line", line), utils.Field("error", err.Error()))
				continue
			}
			return nil, &ConfigLoadError{Component: "whitelist", Path: path, Err: err}
		}

		// Spreadsheet exports may prefix the first cell with a byte order mark.
		if line == 1 && len(record) > 0 && !isNumeric(strings.TrimPrefix(record[0], "\ufeff")) {
			continue
		}
		rows++

		if len(record) < 2 {
			skipped++
			utils.Log.Debug("skipping short whitelist row", utils.Field("line", line))
			continue
		}
		domain := NormalizeDomain(strings.TrimSpace(record[1]))
		if domain == "" {
			skipped++
			continue
		}
		w.domains[domain] = struct{}{}
	}

	utils.Log.Info("whitelist loaded",
		utils.Field("path", path),
		utils.Field("domains", len(w.domains)),
		utils.Field("skipped", skipped),
	)
	return w, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// WhitelistStore holds the current whitelist for concurrent readers and
// swaps it atomically on reload.
type WhitelistStore struct {
	Path string
	Max  int

	value    atomic.Pointer[Whitelist]
	reloadMu sync.Mutex
}

func NewWhitelistStore(path string, max int) *WhitelistStore {
	s := &WhitelistStore{Path: path, Max: max}
	s.Set(NewWhitelist())
	return s
}

func (s *WhitelistStore) Get() *Whitelist {
	return s.value.Load()
}

func (s *WhitelistStore) Set(w *Whitelist) {
	s.value.Store(w)
	whitelistSize.Set(float64(w.Len()))
}

// Reload re-reads the source. On failure the previous whitelist stays in
// place and the error is returned.
func (s *WhitelistStore) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	w, err := LoadWhitelist(s.Path, s.Max)
	if err != nil {
		return err
	}
	s.Set(w)
	return nil
}

func (s *WhitelistStore) IsWhitelisted(domain, mainDomain string) bool {
	return s.Get().Match(domain, mainDomain)
}

func (s *WhitelistStore) Size() int {
	return s.Get().Len()
}
