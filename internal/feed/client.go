package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.marketplace.example/v2"

// Client is a rate-limited HTTP client for the marketplace feed.
type Client struct {
	http    *http.Client
	baseURL string
	sem     chan struct{}

	snapCache snapshotCache

	catalogMu   sync.RWMutex
	catalog     map[string]ProductMeta
	catalogTime time.Time
}

// NewClient creates a feed client with rate limiting.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		sem:     make(chan struct{}, 10),
	}
}

// HealthCheck pings the feed to verify connectivity.
func (c *Client) HealthCheck() bool {
	req, err := http.NewRequest("GET", c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", "bazaar-radar/1.0 (github.com)")
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == 200
}

// FetchSnapshot fetches the full product snapshot, using the TTL cache when fresh.
// Concurrent callers are coalesced onto a single upstream request.
func (c *Client) FetchSnapshot() (*Snapshot, error) {
	return c.snapCache.get(func() (*Snapshot, error) {
		return c.fetchSnapshotDirect()
	})
}

func (c *Client) fetchSnapshotDirect() (*Snapshot, error) {
	var payload struct {
		Success     bool               `json:"success"`
		LastUpdated int64              `json:"lastUpdated"`
		Products    map[string]Product `json:"products"`
	}
	if err := c.GetJSON(c.baseURL+"/products", &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("feed reported failure")
	}

	snap := &Snapshot{
		Products:  payload.Products,
		FetchedAt: time.Now().UTC(),
	}
	if payload.LastUpdated > 0 {
		snap.FetchedAt = time.UnixMilli(payload.LastUpdated).UTC()
	}
	// The feed keys products in the map; make sure each Product carries its key.
	for key, p := range snap.Products {
		if p.Key == "" {
			p.Key = key
			snap.Products[key] = p
		}
	}
	return snap, nil
}

// Catalog returns product metadata (friendly names, tiers), cached for 24h.
func (c *Client) Catalog() (map[string]ProductMeta, error) {
	c.catalogMu.RLock()
	if c.catalog != nil && time.Since(c.catalogTime) < 24*time.Hour {
		defer c.catalogMu.RUnlock()
		return c.catalog, nil
	}
	c.catalogMu.RUnlock()

	var payload struct {
		Items []ProductMeta `json:"items"`
	}
	if err := c.GetJSON(c.baseURL+"/items", &payload); err != nil {
		return nil, err
	}

	catalog := make(map[string]ProductMeta, len(payload.Items))
	for _, m := range payload.Items {
		catalog[m.Key] = m
	}

	c.catalogMu.Lock()
	c.catalog = catalog
	c.catalogTime = time.Now()
	c.catalogMu.Unlock()
	return catalog, nil
}

// ProductName resolves a product key to its friendly name, falling back to the key.
func (c *Client) ProductName(key string) string {
	catalog, err := c.Catalog()
	if err != nil {
		return key
	}
	if m, ok := catalog[key]; ok && m.Name != "" {
		return m.Name
	}
	return key
}

// GetJSON fetches a URL and decodes JSON into dst.
func (c *Client) GetJSON(url string, dst interface{}) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "bazaar-radar/1.0 (github.com)")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("feed %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(dst)
}
