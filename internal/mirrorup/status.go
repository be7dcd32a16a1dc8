package mirrorup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const userAgent = "pacman-mirrorup (https://github.com/bpetlert/pacman-mirrorup)"

// MirrorsStatus is the mirror status document published by the Arch Linux
// mirror monitor.
type MirrorsStatus struct {
	Cutoff         int            `json:"cutoff"`
	LastCheck      string         `json:"last_check"`
	NumChecks      int            `json:"num_checks"`
	CheckFrequency int            `json:"check_frequency"`
	URLs           []MirrorRecord `json:"urls"`
	Version        int            `json:"version"`
}

// MirrorRecord is one raw entry of the status document. Pointer fields may
// be null in the source data; records with missing required fields are
// dropped during normalization.
type MirrorRecord struct {
	URL            string   `json:"url"`
	Protocol       string   `json:"protocol"`
	LastSync       string   `json:"last_sync"`
	CompletionPct  *float64 `json:"completion_pct"`
	Delay          *int     `json:"delay"`
	DurationAvg    *float64 `json:"duration_avg"`
	DurationStddev *float64 `json:"duration_stddev"`
	Score          *float64 `json:"score"`
	Active         bool     `json:"active"`
	Country        string   `json:"country"`
	CountryCode    string   `json:"country_code"`
	ISOs           bool     `json:"isos"`
	IPv4           bool     `json:"ipv4"`
	IPv6           bool     `json:"ipv6"`
	Details        string   `json:"details"`
}

// Candidate is a normalized mirror that is structurally complete and can
// take part in selection. All fields are set by construction.
type Candidate struct {
	URL         string
	Country     string
	CountryCode string
	Protocol    string
	Completion  float64
	Delay       int
	Score       float64
}

// Host returns the lower-cased host part of the candidate URL.
func (c *Candidate) Host() string {
	parsedURL, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsedURL.Hostname())
}

// FetchStatus retrieves and decodes the mirror status document.
func FetchStatus(ctx context.Context, sourceURL string) (*MirrorsStatus, error) {
	client := &http.Client{
		Transport: clonedTransport(),
		Timeout:   30 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build status request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch mirrors status")
	}
	defer closeRespBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d for %s", resp.StatusCode, sourceURL)
	}

	status := new(MirrorsStatus)
	if err := json.NewDecoder(resp.Body).Decode(status); err != nil {
		return nil, errors.Wrap(err, "decode mirrors status")
	}

	slog.Debug("mirrors status fetched", "source", sourceURL, "mirrors", len(status.URLs), "last_check", status.LastCheck)
	return status, nil
}

// Normalize converts raw records into candidates, silently dropping
// inactive mirrors and records with missing required fields or an
// unsupported protocol.
func (s *MirrorsStatus) Normalize() []Candidate {
	candidates := make([]Candidate, 0, len(s.URLs))
	for _, record := range s.URLs {
		if !record.Active {
			continue
		}
		if record.URL == "" {
			continue
		}
		if record.Protocol != "http" && record.Protocol != "https" {
			continue
		}
		if record.CompletionPct == nil || record.Delay == nil || record.Score == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:         record.URL,
			Country:     record.Country,
			CountryCode: record.CountryCode,
			Protocol:    record.Protocol,
			Completion:  *record.CompletionPct,
			Delay:       *record.Delay,
			Score:       *record.Score,
		})
	}
	return candidates
}

// closeRespBody closes an HTTP response body.
func closeRespBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// clonedTransport creates an HTTP transport with pooled connections shared
// by the status fetch and the speed prober.
func clonedTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second
	return tr
}
