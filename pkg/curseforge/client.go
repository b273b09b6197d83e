// Package curseforge is a client for the CurseForge Core API.
//
// Requests are paced by a token-bucket limiter so that bulk scans respect
// the mandatory delay between calls. Non-2xx responses surface as
// *APIError; 404s additionally match ErrNotFound.
package curseforge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CurseForgeCommunity/CFLookup/internal/metrics"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.curseforge.com"

// API is the subset of remote operations the rest of the module uses.
// Client and BreakerClient both implement it.
type API interface {
	GetModsByIDs(ctx context.Context, ids []int64, filterPCOnly bool) ([]Mod, error)
	GetFilesByIDs(ctx context.Context, ids []int64) ([]File, error)
	GetMod(ctx context.Context, modID int64) (*Mod, error)
	GetModFile(ctx context.Context, modID, fileID int64) (*File, error)
	GetModFileChangelog(ctx context.Context, modID, fileID int64) (string, error)
	GetGames(ctx context.Context) ([]Game, error)
	GetGame(ctx context.Context, gameID int64) (*Game, error)
	GetCategories(ctx context.Context, gameID int64, classesOnly bool) ([]Category, error)
	SearchModsBySlug(ctx context.Context, gameID, classID int64, slug string) ([]Mod, error)
	SearchMods(ctx context.Context, q SearchQuery) ([]Mod, *Pagination, error)
	GetGameVersionTypes(ctx context.Context, gameID int64) ([]GameVersionType, error)
	GetGameVersions(ctx context.Context, gameID int64) ([]GameVersions, error)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root. Default: DefaultBaseURL
	BaseURL string

	// APIKey is sent as the x-api-key header.
	APIKey string

	// RequestDelay is the minimum spacing between requests.
	// A negative value disables pacing. Default: 50ms
	RequestDelay time.Duration

	// Timeout bounds each request. Default: 5m
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		RequestDelay: 50 * time.Millisecond,
		Timeout:      5 * time.Minute,
		UserAgent:    "cflookup",
	}
}

// Client talks to the CurseForge API over HTTP.
type Client struct {
	base      *url.URL
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New creates a client. Zero-valued Config fields take their defaults,
// except RequestDelay: a negative delay disables pacing.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = def.RequestDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		logger:    logger,
	}
	if cfg.RequestDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}
	return c, nil
}

type modsRequest struct {
	ModIDs       []int64 `json:"modIds"`
	FilterPCOnly bool    `json:"filterPcOnly"`
}

type filesRequest struct {
	FileIDs []int64 `json:"fileIds"`
}

// GetModsByIDs fetches every existing project in ids. Missing IDs are
// simply absent from the result.
func (c *Client) GetModsByIDs(ctx context.Context, ids []int64, filterPCOnly bool) ([]Mod, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out envelope[[]Mod]
	body := modsRequest{ModIDs: ids, FilterPCOnly: filterPCOnly}
	if err := c.do(ctx, http.MethodPost, "mods", "/v1/mods", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetFilesByIDs fetches every existing file in ids.
func (c *Client) GetFilesByIDs(ctx context.Context, ids []int64) ([]File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out envelope[[]File]
	if err := c.do(ctx, http.MethodPost, "files", "/v1/mods/files", nil, filesRequest{FileIDs: ids}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetMod(ctx context.Context, modID int64) (*Mod, error) {
	var out envelope[Mod]
	if err := c.do(ctx, http.MethodGet, "mod", "/v1/mods/"+itoa(modID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) GetModFile(ctx context.Context, modID, fileID int64) (*File, error) {
	var out envelope[File]
	path := "/v1/mods/" + itoa(modID) + "/files/" + itoa(fileID)
	if err := c.do(ctx, http.MethodGet, "mod_file", path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) GetModFileChangelog(ctx context.Context, modID, fileID int64) (string, error) {
	var out envelope[string]
	path := "/v1/mods/" + itoa(modID) + "/files/" + itoa(fileID) + "/changelog"
	if err := c.do(ctx, http.MethodGet, "changelog", path, nil, nil, &out); err != nil {
		return "", err
	}
	return out.Data, nil
}

// GetGames walks every page of the games listing.
func (c *Client) GetGames(ctx context.Context) ([]Game, error) {
	const pageSize = 50

	var games []Game
	for index := 0; ; {
		q := url.Values{}
		q.Set("index", strconv.Itoa(index))
		q.Set("pageSize", strconv.Itoa(pageSize))

		var page envelope[[]Game]
		if err := c.do(ctx, http.MethodGet, "games", "/v1/games", q, nil, &page); err != nil {
			return nil, err
		}
		games = append(games, page.Data...)

		if page.Pagination == nil || len(page.Data) == 0 {
			break
		}
		index += page.Pagination.ResultCount
		if index >= page.Pagination.TotalCount || page.Pagination.ResultCount == 0 {
			break
		}
	}
	return games, nil
}

func (c *Client) GetGame(ctx context.Context, gameID int64) (*Game, error) {
	var out envelope[Game]
	if err := c.do(ctx, http.MethodGet, "game", "/v1/games/"+itoa(gameID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) GetCategories(ctx context.Context, gameID int64, classesOnly bool) ([]Category, error) {
	q := url.Values{}
	q.Set("gameId", itoa(gameID))
	if classesOnly {
		q.Set("classesOnly", "true")
	}
	var out envelope[[]Category]
	if err := c.do(ctx, http.MethodGet, "categories", "/v1/categories", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// SearchModsBySlug finds projects by exact slug within a game and class.
func (c *Client) SearchModsBySlug(ctx context.Context, gameID, classID int64, slug string) ([]Mod, error) {
	mods, _, err := c.SearchMods(ctx, SearchQuery{GameID: gameID, ClassID: classID, Slug: slug})
	return mods, err
}

// SearchMods runs one page of a project search. The pagination totals
// are what the stats jobs count with, so callers usually ask for a single
// result.
func (c *Client) SearchMods(ctx context.Context, sq SearchQuery) ([]Mod, *Pagination, error) {
	q := url.Values{}
	q.Set("gameId", itoa(sq.GameID))
	if sq.ClassID > 0 {
		q.Set("classId", itoa(sq.ClassID))
	}
	if sq.GameVersion != "" {
		q.Set("gameVersion", sq.GameVersion)
	}
	if sq.ModLoader != ModLoaderAny {
		q.Set("modLoaderType", strconv.Itoa(int(sq.ModLoader)))
	}
	if sq.Slug != "" {
		q.Set("slug", sq.Slug)
	}
	if sq.SortField > 0 {
		q.Set("sortField", strconv.Itoa(int(sq.SortField)))
		if sq.Descending {
			q.Set("sortOrder", "desc")
		} else {
			q.Set("sortOrder", "asc")
		}
	}
	if sq.Index > 0 {
		q.Set("index", strconv.Itoa(sq.Index))
	}
	if sq.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(sq.PageSize))
	}

	var out envelope[[]Mod]
	if err := c.do(ctx, http.MethodGet, "search", "/v1/mods/search", q, nil, &out); err != nil {
		return nil, nil, err
	}
	return out.Data, out.Pagination, nil
}

func (c *Client) GetGameVersionTypes(ctx context.Context, gameID int64) ([]GameVersionType, error) {
	var out envelope[[]GameVersionType]
	if err := c.do(ctx, http.MethodGet, "version_types", "/v1/games/"+itoa(gameID)+"/version-types", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) GetGameVersions(ctx context.Context, gameID int64) ([]GameVersions, error) {
	var out envelope[[]GameVersions]
	if err := c.do(ctx, http.MethodGet, "versions", "/v1/games/"+itoa(gameID)+"/versions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) do(ctx context.Context, method, endpoint, path string, query url.Values, in, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.waitForRateLimit(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Message: errorMessage(raw)}
		if resp.StatusCode != http.StatusNotFound {
			c.logger.Debug("CurseForge API error",
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode),
				zap.String("message", apiErr.Message))
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	const limit = 256
	if len(raw) > limit {
		raw = raw[:limit]
	}
	return string(raw)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

var _ API = (*Client)(nil)
