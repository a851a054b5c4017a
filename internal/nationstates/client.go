// Package nationstates is a small client for the NationStates public API.
package nationstates

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sunsreach/nerris/internal/models"
	"golang.org/x/time/rate"
)

const (
	defaultEndpoint  = "https://www.nationstates.net/cgi-bin/api.cgi"
	defaultVerifyURL = "https://www.nationstates.net/page=settings"
	serviceName      = "nationstates"

	// NationStates allows 50 requests per 30 seconds; stay under it.
	defaultRateLimit = 45
	ratePeriod       = 30 * time.Second
)

// Nation is the subset of a nation profile the bot reads.
type Nation struct {
	ID     string `xml:"id,attr"`
	Name   string `xml:"NAME"`
	Region string `xml:"REGION"`
	Motto  string `xml:"MOTTO"`
}

// CanonicalRegion returns the region id of the nation.
func (n *Nation) CanonicalRegion() string {
	return ID(n.Region)
}

// Region is the subset of a region profile the bot reads.
type Region struct {
	ID         string `xml:"id,attr"`
	Name       string `xml:"NAME"`
	NumNations int    `xml:"NUMNATIONS"`
}

// Observer receives one call per API request. Used for metrics.
type Observer interface {
	ObserveRequest(shard string, statusCode int, latency time.Duration)
}

// API is the client surface consumers depend on; *Client implements it.
type API interface {
	GetNation(ctx context.Context, name string) (*Nation, error)
	GetRegion(ctx context.Context, name string) (*Region, error)
	VerificationURL() string
}

type Options struct {
	Endpoint   string
	VerifyURL  string
	UserAgent  string
	RateLimit  int
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
}

type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	observer   Observer
	endpoint   string
	verifyURL  string
	userAgent  string
}

func NewClient(opts Options) *Client {
	c := &Client{
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		observer:   opts.Observer,
		endpoint:   opts.Endpoint,
		verifyURL:  opts.VerifyURL,
		userAgent:  opts.UserAgent,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.endpoint == "" {
		c.endpoint = defaultEndpoint
	}
	if c.verifyURL == "" {
		c.verifyURL = defaultVerifyURL
	}
	limit := opts.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	c.limiter = rate.NewLimiter(rate.Every(ratePeriod/time.Duration(limit)), limit)
	return c
}

// UserAgent builds the identifying User-Agent NationStates requires.
func UserAgent(product, version, contact, nation, region string) string {
	parts := []string{"contact: " + contact}
	if nation != "" {
		parts = append(parts, "nation: "+nation)
	}
	if region != "" {
		parts = append(parts, "region: "+region)
	}
	return fmt.Sprintf("%s/%s (%s)", product, version, strings.Join(parts, "; "))
}

// ID converts a display name into the canonical NationStates id.
func ID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// VerificationURL is the page where a player edits the profile field that
// carries the verification code.
func (c *Client) VerificationURL() string {
	return c.verifyURL
}

func (c *Client) GetNation(ctx context.Context, name string) (*Nation, error) {
	id := ID(name)
	var nation Nation
	status, err := c.get(ctx, "nation", url.Values{"nation": {id}, "q": {"name+region+motto"}}, &nation)
	if status == http.StatusNotFound {
		return nil, &models.NoNationError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	if nation.ID == "" {
		nation.ID = id
	}
	nation.ID = ID(nation.ID)
	return &nation, nil
}

func (c *Client) GetRegion(ctx context.Context, name string) (*Region, error) {
	id := ID(name)
	var region Region
	status, err := c.get(ctx, "region", url.Values{"region": {id}, "q": {"name+numnations"}}, &region)
	if status == http.StatusNotFound {
		return nil, &models.NoRegionError{Name: name}
	}
	if err != nil {
		return nil, err
	}
	if region.ID == "" {
		region.ID = id
	}
	region.ID = ID(region.ID)
	return &region, nil
}

func (c *Client) get(ctx context.Context, shard string, query url.Values, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, &models.ExternalServiceError{Service: serviceName, Op: shard, Err: err}
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to parse endpoint: %w", err)
	}
	// NationStates separates shards with '+' and rejects the %2B encoding.
	reqURL.RawQuery = strings.ReplaceAll(query.Encode(), "%2B", "+")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(shard, 0, start)
		c.logger.Error("nationstates request failed", "shard", shard, "error", err)
		return 0, &models.ExternalServiceError{Service: serviceName, Op: shard, Err: err}
	}
	defer resp.Body.Close()
	c.observe(shard, resp.StatusCode, start)

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("nationstates returned error status", "shard", shard, "http_status", resp.StatusCode)
		return resp.StatusCode, &models.ExternalServiceError{Service: serviceName, Op: shard, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, &models.ExternalServiceError{Service: serviceName, Op: shard, Err: err}
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return resp.StatusCode, &models.ExternalServiceError{
			Service: serviceName, Op: shard, Err: fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) observe(shard string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(shard, status, time.Since(start))
	}
}
