package model

import "time"

type Status string

const (
	StatusWhitelisted Status = "whitelisted"
	StatusAnalyzed    Status = "analyzed"
	StatusError       Status = "error"
)

// NormalizedURL is the canonical form of a scanned URL. Raw is the
// re-assembled string the lexical features are computed from.
type NormalizedURL struct {
	Scheme   string `json:"scheme"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Query    string `json:"query,omitempty"`
	Fragment string `json:"fragment,omitempty"`
	Raw      string `json:"raw"`
}

type DNSInfo struct {
	HasA    bool `json:"has_a"`
	HasMX   bool `json:"has_mx"`
	HasNS   bool `json:"has_ns"`
	IPCount int  `json:"ip_count"`
}

type ScanResult struct {
	URL         string  `json:"url"`
	IsMalicious bool    `json:"is_malicious"`
	Confidence  float64 `json:"confidence"`
	Status      Status  `json:"status"`
	Message     string  `json:"message"`
	Reason      string  `json:"reason,omitempty"`
}

type BatchResult struct {
	Results          []ScanResult `json:"results"`
	TotalChecked     int          `json:"total_checked"`
	WhitelistedCount int          `json:"whitelisted_count"`
	MaliciousCount   int          `json:"malicious_count"`
	AnalyzedCount    int          `json:"analyzed_count"`
}

type HealthResponse struct {
	Status        string   `json:"status"`
	ModelLoaded   bool     `json:"model_loaded"`
	WhitelistSize int      `json:"whitelist_size"`
	FeaturesCount int      `json:"features_count"`
	Features      []string `json:"features"`
	SchemaVersion string   `json:"schema_version"`
}

type WhitelistCheck struct {
	URL           string `json:"url"`
	Domain        string `json:"domain"`
	MainDomain    string `json:"main_domain"`
	IsWhitelisted bool   `json:"is_whitelisted"`
	WhitelistSize int    `json:"whitelist_size"`
}

// HistoryEntry is one verdict in the scan history list.
type HistoryEntry struct {
	Timestamp string     `json:"timestamp"`
	Result    ScanResult `json:"result"`
}

type WhitelistReload struct {
	WhitelistSize int       `json:"whitelist_size"`
	LoadedAt      time.Time `json:"loaded_at"`
}
