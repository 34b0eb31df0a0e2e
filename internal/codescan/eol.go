package codescan

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// RuntimeStatus is the end-of-life verdict for one runtime version.
type RuntimeStatus struct {
	Product        string `json:"product"`
	Version        string `json:"version"`
	MatchedVersion string `json:"matched_version,omitempty"`
	SupportStatus  string `json:"support_status"`
	EOLDate        string `json:"eol_date,omitempty"`
	IsEOL          bool   `json:"is_eol"`
}

type eolEntry struct {
	EOL           string `json:"eol"`
	SupportStatus string `json:"support_status"`
}

type eolData struct {
	Version  string                         `json:"version"`
	Products map[string]map[string]eolEntry `json:"products"`
}

// fallbackEOLProducts is the built-in table used when no data file is
// configured. Dates are upstream end-of-support dates.
var fallbackEOLProducts = map[string]map[string]eolEntry{
	"python": {
		"2.7":  {EOL: "2020-01-01", SupportStatus: "eol"},
		"3.7":  {EOL: "2023-06-27", SupportStatus: "eol"},
		"3.8":  {EOL: "2024-10-07", SupportStatus: "eol"},
		"3.9":  {EOL: "2025-10-05", SupportStatus: "security"},
		"3.10": {EOL: "2026-10-04", SupportStatus: "security"},
		"3.11": {EOL: "2027-10-24", SupportStatus: "security"},
		"3.12": {EOL: "2028-10-02", SupportStatus: "active"},
	},
	"node": {
		"12": {EOL: "2022-04-30", SupportStatus: "eol"},
		"14": {EOL: "2023-04-30", SupportStatus: "eol"},
		"16": {EOL: "2023-09-11", SupportStatus: "eol"},
		"18": {EOL: "2025-04-30", SupportStatus: "lts"},
		"20": {EOL: "2026-04-30", SupportStatus: "lts"},
		"22": {EOL: "2027-04-30", SupportStatus: "active"},
	},
	"java": {
		"8":  {EOL: "2030-12-31", SupportStatus: "lts"},
		"11": {EOL: "2026-09-30", SupportStatus: "lts"},
		"17": {EOL: "2029-09-30", SupportStatus: "lts"},
		"21": {EOL: "2031-09-30", SupportStatus: "lts"},
	},
	"go": {
		"1.18": {EOL: "2023-08-08", SupportStatus: "eol"},
		"1.19": {EOL: "2024-02-06", SupportStatus: "eol"},
		"1.20": {EOL: "2024-08-13", SupportStatus: "eol"},
		"1.21": {EOL: "2025-02-11", SupportStatus: "eol"},
		"1.22": {EOL: "2025-08-12", SupportStatus: "security"},
	},
	"ruby": {
		"2.6": {EOL: "2022-04-12", SupportStatus: "eol"},
		"2.7": {EOL: "2023-03-31", SupportStatus: "eol"},
		"3.0": {EOL: "2024-04-23", SupportStatus: "eol"},
		"3.1": {EOL: "2025-03-31", SupportStatus: "security"},
		"3.2": {EOL: "2026-03-31", SupportStatus: "security"},
		"3.3": {EOL: "2027-03-31", SupportStatus: "active"},
	},
	"dotnet": {
		"5.0": {EOL: "2022-05-10", SupportStatus: "eol"},
		"6.0": {EOL: "2024-11-12", SupportStatus: "eol"},
		"7.0": {EOL: "2024-05-14", SupportStatus: "eol"},
		"8.0": {EOL: "2026-11-10", SupportStatus: "lts"},
	},
	"php": {
		"7.4": {EOL: "2022-11-28", SupportStatus: "eol"},
		"8.0": {EOL: "2023-11-26", SupportStatus: "eol"},
		"8.1": {EOL: "2025-12-31", SupportStatus: "security"},
		"8.2": {EOL: "2026-12-31", SupportStatus: "security"},
		"8.3": {EOL: "2027-12-31", SupportStatus: "active"},
	},
}

// EOLChecker resolves runtime versions against an end-of-life table.
type EOLChecker struct {
	products map[string]map[string]eolEntry
	now      func() time.Time
}

// NewEOLChecker uses the built-in fallback table.
func NewEOLChecker() *EOLChecker {
	return &EOLChecker{products: fallbackEOLProducts, now: time.Now}
}

// NewEOLCheckerFromFile loads the table from a JSON data file of the
// shape {"version": ..., "products": {name: {version: {eol, support_status}}}}.
func NewEOLCheckerFromFile(path string) (*EOLChecker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read eol data: %w", err)
	}
	var parsed eolData
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse eol data: %w", err)
	}
	if len(parsed.Products) == 0 {
		return nil, fmt.Errorf("eol data %s lists no products", path)
	}
	return &EOLChecker{products: parsed.Products, now: time.Now}, nil
}

// Check matches a runtime version against the table: exact version
// first, then major.minor, then major. Unknown products or versions
// report support_status "unknown".
func (c *EOLChecker) Check(product, version string) RuntimeStatus {
	status := RuntimeStatus{
		Product:       strings.ToLower(product),
		Version:       version,
		SupportStatus: "unknown",
	}
	versions, ok := c.products[status.Product]
	if !ok {
		return status
	}

	normalized := normalizeVersion(version)
	for _, candidate := range []string{normalized, majorMinor(normalized), major(normalized)} {
		if candidate == "" {
			continue
		}
		if entry, ok := versions[candidate]; ok {
			status.MatchedVersion = candidate
			status.SupportStatus = entry.SupportStatus
			status.EOLDate = entry.EOL
			if eolDate, err := time.Parse("2006-01-02", entry.EOL); err == nil {
				status.IsEOL = eolDate.Before(c.now())
			}
			return status
		}
	}
	return status
}

// normalizeVersion strips range operators and pre-release suffixes:
// "^3.12.1" -> "3.12.1", "1.0.0-beta" -> "1.0.0", "18.x" stays "18.x"
// and falls through to the major match.
func normalizeVersion(version string) string {
	v := strings.TrimLeft(strings.TrimSpace(version), "^~><=v ")
	cut := len(v)
	for _, sep := range []string{"-", "+", "a", "b", "rc"} {
		if idx := strings.Index(v, sep); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return v[:cut]
}

func majorMinor(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

func major(version string) string {
	part, _, _ := strings.Cut(version, ".")
	return part
}
