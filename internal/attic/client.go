package attic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"atticqueue/internal/artifact"
	"atticqueue/internal/config"
)

const (
	missingPathsEndpoint = "/_api/v1/get-missing-paths"
	uploadPathEndpoint   = "/_api/v1/upload-path"

	narInfoHeader         = "X-Attic-Nar-Info"
	narInfoPreambleHeader = "X-Attic-Nar-Info-Preamble-Size"
	// Larger NAR info documents travel at the start of the body instead of
	// in a header.
	maxNarInfoHeaderSize = 4 * 1024
	maxErrorBody         = 4 * 1024
)

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NARSource streams the NAR serialization of a store path.
type NARSource interface {
	NAR(ctx context.Context, path artifact.Path) (io.ReadCloser, error)
}

// Client is an Attic API client bound to one cache.
type Client struct {
	endpoint       string
	token          string
	cache          string
	client         HTTPDoer
	nars           NARSource
	requestTimeout time.Duration
}

// New constructs a client. A nil doer uses http.DefaultClient.
func New(endpoint, token, cache string, nars NARSource, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:    strings.TrimSpace(token),
		cache:    strings.TrimSpace(cache),
		client:   doer,
		nars:     nars,
	}
}

// NewFromConfig builds a client from the [cache] section. Endpoint and token
// left empty there are read from the attic client config file.
func NewFromConfig(cfg *config.Config, nars NARSource) (*Client, error) {
	endpoint, token := cfg.Cache.Endpoint, cfg.Cache.Token
	if endpoint == "" || token == "" {
		server, err := LoadServer(cfg.Cache.AtticConfig, cfg.Cache.Server)
		if err != nil && endpoint == "" {
			return nil, err
		}
		if endpoint == "" {
			endpoint = server.Endpoint
		}
		if token == "" {
			token = server.Token
		}
	}
	if endpoint == "" {
		return nil, errors.New("attic endpoint not configured (set cache.endpoint or ATTIC_ENDPOINT)")
	}
	client := New(endpoint, token, cfg.Cache.Name, nars, &http.Client{})
	client.requestTimeout = time.Duration(cfg.Cache.RequestTimeout) * time.Second
	return client, nil
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Token returns the bearer token, if any.
func (c *Client) Token() string {
	return c.token
}

// Cache returns the cache uploads go to.
func (c *Client) Cache() string {
	return c.cache
}

type missingPathsRequest struct {
	Cache           string          `json:"cache"`
	StorePathHashes []artifact.Hash `json:"store_path_hashes"`
}

type missingPathsResponse struct {
	MissingPaths []artifact.Hash `json:"missing_paths"`
}

// GetMissingPaths returns the subset of hashes the cache does not hold. An
// empty cache name selects the client's cache.
func (c *Client) GetMissingPaths(ctx context.Context, cache string, hashes []artifact.Hash) ([]artifact.Hash, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	if cache == "" {
		cache = c.cache
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(missingPathsRequest{Cache: cache, StorePathHashes: hashes})
	if err != nil {
		return nil, fmt.Errorf("encode missing paths request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+missingPathsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build missing paths request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query missing paths: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse("get-missing-paths", resp); err != nil {
		return nil, err
	}

	var decoded missingPathsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode missing paths response: %w", err)
	}
	return decoded.MissingPaths, nil
}

// narInfo is the upload metadata document.
type narInfo struct {
	Cache         string        `json:"cache"`
	StorePathHash artifact.Hash `json:"store_path_hash"`
	StorePath     string        `json:"store_path"`
	References    []string      `json:"references"`
	System        *string       `json:"system"`
	Deriver       *string       `json:"deriver"`
	Sigs          []string      `json:"sigs"`
	CA            *string       `json:"ca"`
	NarHash       string        `json:"nar_hash"`
	NarSize       int64         `json:"nar_size"`
}

// UploadResult is the server's account of an upload.
type UploadResult struct {
	Kind             string  `json:"kind"`
	FileSize         int64   `json:"file_size"`
	FracDeduplicated float64 `json:"frac_deduplicated"`
}

func newNarInfo(cache string, meta artifact.Metadata) narInfo {
	info := narInfo{
		Cache:         cache,
		StorePathHash: meta.Path.Hash(),
		StorePath:     meta.Path.String(),
		References:    make([]string, 0, len(meta.References)),
		Sigs:          append([]string{}, meta.Signatures...),
		NarHash:       meta.NarHash,
		NarSize:       meta.NarSize,
	}
	for _, ref := range meta.References {
		info.References = append(info.References, ref.String())
	}
	if meta.Deriver != "" {
		deriver := meta.Deriver
		info.Deriver = &deriver
	}
	if meta.CA != "" {
		ca := meta.CA
		info.CA = &ca
	}
	return info
}

// UploadPath streams the NAR of meta.Path into the client's cache.
func (c *Client) UploadPath(ctx context.Context, meta artifact.Metadata) error {
	_, err := c.Upload(ctx, meta)
	return err
}

// Upload streams the NAR of meta.Path and returns the server's result.
func (c *Client) Upload(ctx context.Context, meta artifact.Metadata) (UploadResult, error) {
	if c.nars == nil {
		return UploadResult{}, errors.New("attic upload: no NAR source configured")
	}
	info, err := json.Marshal(newNarInfo(c.cache, meta))
	if err != nil {
		return UploadResult{}, fmt.Errorf("encode nar info: %w", err)
	}

	nar, err := c.nars.NAR(ctx, meta.Path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("dump %s: %w", meta.Path, err)
	}

	var body io.Reader = nar
	preamble := len(info) > maxNarInfoHeaderSize
	if preamble {
		body = io.MultiReader(bytes.NewReader(info), nar)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+uploadPathEndpoint, body)
	if err != nil {
		_ = nar.Close()
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-nix-nar")
	if preamble {
		req.Header.Set(narInfoPreambleHeader, strconv.Itoa(len(info)))
	} else {
		req.Header.Set(narInfoHeader, string(info))
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	dumpErr := nar.Close()
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", meta.Path, err)
	}
	defer resp.Body.Close()
	if err := checkResponse("upload-path", resp); err != nil {
		return UploadResult{}, err
	}
	if dumpErr != nil {
		return UploadResult{}, fmt.Errorf("dump %s: %w", meta.Path, dumpErr)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && !errors.Is(err, io.EOF) {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return result, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
