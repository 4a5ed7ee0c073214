package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"maison/api/models"
)

// Locator resolves an IP address to an approximate location. It returns
// nil when the lookup fails.
type Locator interface {
	Locate(ctx context.Context, ip string) *models.Location
}

// DefaultIPAPIBase is the public ipapi.co endpoint.
const DefaultIPAPIBase = "https://ipapi.co"

// IPAPILocator queries an ipapi-compatible JSON endpoint
// (GET {base}/{ip}/json/) and caches answers per IP.
type IPAPILocator struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.Mutex
	cache map[string]*models.Location
}

func NewIPAPILocator(baseURL string) *IPAPILocator {
	if baseURL == "" {
		baseURL = DefaultIPAPIBase
	}
	return &IPAPILocator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: defaultTimeout},
		cache:   make(map[string]*models.Location),
	}
}

type ipapiResponse struct {
	City        string  `json:"city"`
	CountryName string  `json:"country_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
}

func (l *IPAPILocator) Locate(ctx context.Context, ip string) *models.Location {
	l.mu.Lock()
	if loc, ok := l.cache[ip]; ok {
		l.mu.Unlock()
		return copyLocation(loc)
	}
	l.mu.Unlock()

	loc, err := l.lookup(ctx, ip)
	if err != nil {
		log.Printf("capture: locate %s: %v", ip, err)
		return nil
	}

	l.mu.Lock()
	l.cache[ip] = loc
	l.mu.Unlock()
	return copyLocation(loc)
}

func (l *IPAPILocator) lookup(ctx context.Context, ip string) (*models.Location, error) {
	endpoint := fmt.Sprintf("%s/%s/json/", l.BaseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Error {
		return nil, fmt.Errorf("lookup refused: %s", body.Reason)
	}
	return &models.Location{
		City:          body.City,
		Country:       body.CountryName,
		Lat:           body.Latitude,
		Lon:           body.Longitude,
		AccuracyLevel: "ip",
	}, nil
}

func copyLocation(loc *models.Location) *models.Location {
	c := *loc
	return &c
}
