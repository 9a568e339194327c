package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/anatolykoptev/go_iwara/internal/engine"
)

// iwara.tv gateway: login, listings, metadata lookup and file resolution.
// Every API call waits on the pacer first; byte transfers of the resolved
// assets happen in the download package and are not paced.

var (
	// ErrAuthFailed means the login request was rejected or returned no token.
	ErrAuthFailed = errors.New("iwara: authentication failed")
	// ErrNoSourceVariant means file resolution returned no "Source" quality.
	ErrNoSourceVariant = errors.New("iwara: no Source variant")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("iwara %s: status %d", e.Endpoint, e.Code)
}

// NotFound reports whether the resource is gone for good.
func (e *StatusError) NotFound() bool {
	return e.Code == http.StatusNotFound || e.Code == http.StatusGone
}

// ClientConfig wires a Client. Zero-value fields get defaults.
type ClientConfig struct {
	APIURL     string
	FileURL    string
	Email      string
	Password   string
	SignSuffix string

	HTTPClient *http.Client
	Pacer      *engine.Pacer
	Cache      *engine.Cache
}

// Client talks to the iwara API. Not safe for concurrent use; the pipeline
// is sequential.
type Client struct {
	apiURL   string
	fileURL  string
	email    string
	password string

	http  *http.Client
	pacer *engine.Pacer
	cache *engine.Cache

	// Signer computes the X-Version header for file resolution.
	Signer Signer

	token     string
	userAgent string
}

// NewClient builds a gateway client.
func NewClient(cfg ClientConfig) *Client {
	def := engine.DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = def.IwaraAPIURL
	}
	if cfg.FileURL == "" {
		cfg.FileURL = def.IwaraFileURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = engine.NewHTTPClient(def.RequestTimeout)
	}
	return &Client{
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		fileURL:   strings.TrimRight(cfg.FileURL, "/"),
		email:     cfg.Email,
		password:  cfg.Password,
		http:      cfg.HTTPClient,
		pacer:     cfg.Pacer,
		cache:     cfg.Cache,
		Signer:    NewSigner(cfg.SignSuffix),
		userAgent: engine.RandomUserAgent(),
	}
}

// FileURL is the base of the static file host.
func (c *Client) FileURL() string { return c.fileURL }

// Authenticated reports whether Login obtained a token.
func (c *Client) Authenticated() bool { return c.token != "" }

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return err
	}
	var out struct {
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, "login", http.MethodPost, c.apiURL+"/user/login", bytes.NewReader(body), nil, &out); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if out.Token == "" {
		return fmt.Errorf("%w: %s", ErrAuthFailed, strings.TrimSpace("no token "+out.Message))
	}
	c.token = out.Token
	slog.Info("iwara: login ok")
	return nil
}

// ListOptions are the query parameters of /videos.
type ListOptions struct {
	Sort       string // date, trending, popularity, views, likes
	Rating     engine.Rating
	Page       int
	Limit      int
	Subscribed bool
}

// ListVideos fetches one listing page.
func (c *Client) ListVideos(ctx context.Context, opts ListOptions) (*engine.VideoPage, error) {
	if opts.Sort == "" {
		opts.Sort = "date"
	}
	if opts.Rating == "" {
		opts.Rating = engine.RatingAll
	}
	if opts.Limit <= 0 {
		opts.Limit = 32
	}
	q := url.Values{}
	q.Set("sort", opts.Sort)
	q.Set("rating", string(opts.Rating))
	q.Set("page", strconv.Itoa(opts.Page))
	q.Set("limit", strconv.Itoa(opts.Limit))
	q.Set("subscribed", strconv.FormatBool(opts.Subscribed))

	var page engine.VideoPage
	if err := c.do(ctx, "videos", http.MethodGet, c.apiURL+"/videos?"+q.Encode(), nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetVideo returns the metadata of one video, cached for the life of the
// client (and in Redis across runs when configured).
func (c *Client) GetVideo(ctx context.Context, id string) (*engine.Video, error) {
	key := engine.CacheKey("video", id)
	if v, ok := engine.CacheLoadJSON[engine.Video](ctx, c.cache, key); ok {
		slog.Debug("iwara: video from cache", slog.String("id", id))
		return &v, nil
	}
	return c.RefreshVideo(ctx, id)
}

// RefreshVideo fetches metadata bypassing the cache and writes the fresh copy
// back to it.
func (c *Client) RefreshVideo(ctx context.Context, id string) (*engine.Video, error) {
	var v engine.Video
	if err := c.do(ctx, "video", http.MethodGet, c.apiURL+"/video/"+url.PathEscape(id), nil, nil, &v); err != nil {
		return nil, err
	}
	if v.ID == "" {
		v.ID = id
	}
	engine.CacheStoreJSON(ctx, c.cache, engine.CacheKey("video", id), v)
	return &v, nil
}

// do runs one paced API request and decodes a JSON answer into out.
func (c *Client) do(ctx context.Context, endpoint, method, rawURL string, body *bytes.Reader, header http.Header, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	engine.IncrAPIRequest(endpoint)

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, rawURL, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		engine.IncrAPIError(endpoint)
		return fmt.Errorf("iwara %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := engine.ReadResponseBody(resp)
	if err != nil {
		engine.IncrAPIError(endpoint)
		return fmt.Errorf("iwara %s: read body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		engine.IncrAPIError(endpoint)
		slog.Debug("iwara: bad status",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.String("body", engine.TruncateRunes(string(data), 200, "...")),
		)
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}
	if err := json.Unmarshal(data, out); err != nil {
		engine.IncrAPIError(endpoint)
		return fmt.Errorf("iwara %s: decode: %w", endpoint, err)
	}
	return nil
}
