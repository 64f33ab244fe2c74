package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/humblevault/humblevault/pkg/library/helpers/httpclient"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL    = "https://www.humblebundle.com"
	sessionCookieName = "_simpleauth_sess"
	libraryDataID     = "#user-home-json-data"
	maxCatalogPages   = 500
)

var (
	ErrUnauthorized  = errors.New("storefront rejected the session credential")
	ErrNoCredential  = errors.New("storefront session credential is empty")
	ErrNoTroveAccess = errors.New("account has no Humble Trove access")
)

// Catalog is the read side of the storefront used by the indexer.
type Catalog interface {
	PurchaseKeys(ctx context.Context) ([]string, error)
	Order(ctx context.Context, gameKey string) (*Order, error)
	LookupProduct(ctx context.Context, slug string) (map[string]any, error)
}

// TroveCatalog lists the Humble Trove and signs its download paths.
type TroveCatalog interface {
	TroveProducts(ctx context.Context) ([]TroveProduct, error)
	SignTroveDownload(ctx context.Context, machineName, fileName string) (string, error)
}

// Fetcher opens a download body. The caller closes the response body.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*http.Response, error)
}

type Config struct {
	BaseURL    string
	Credential string
}

type Option func(*Client)

// WithHTTPClient replaces the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.api = c }
}

// WithTransferClient replaces the client used for file downloads.
func WithTransferClient(c *http.Client) Option {
	return func(cl *Client) { cl.transfer = c }
}

type Client struct {
	baseURL    string
	credential string
	api        *http.Client
	transfer   *http.Client
	lookups    singleflight.Group
}

func NewClient(cfg Config, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		baseURL:    base,
		credential: strings.TrimSpace(cfg.Credential),
		api:        httpclient.HTTPClient,
		transfer:   httpclient.TransferClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PurchaseKeys lists the order keys of the account. The JSON endpoint is
// tried first; the library page is scraped when it yields nothing.
func (c *Client) PurchaseKeys(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	err := c.getJSON(ctx, "/api/v1/user/order", &raw)
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoCredential) {
		return nil, err
	}
	if err == nil {
		if keys := parseKeys(raw); len(keys) > 0 {
			return keys, nil
		}
	}

	keys, scrapeErr := c.scrapeLibraryKeys(ctx)
	if scrapeErr != nil {
		if err != nil {
			return nil, fmt.Errorf("purchase keys: %w (library page: %v)", err, scrapeErr)
		}
		return nil, fmt.Errorf("purchase keys: %w", scrapeErr)
	}
	return keys, nil
}

// parseKeys accepts both [{"gamekey": ...}] and {"gamekeys": [...]}.
func parseKeys(raw json.RawMessage) []string {
	var list []struct {
		GameKey string `json:"gamekey"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, o := range list {
			if o.GameKey != "" {
				out = append(out, o.GameKey)
			}
		}
		return dedupe(out)
	}
	var obj struct {
		GameKeys []string `json:"gamekeys"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return dedupe(obj.GameKeys)
	}
	return nil
}

func (c *Client) scrapeLibraryKeys(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, c.api, c.baseURL+"/home/library", "text/html")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse library page: %w", err)
	}
	node := doc.Find(libraryDataID).First()
	if node.Length() == 0 {
		return nil, fmt.Errorf("library page has no %s block", libraryDataID)
	}
	keys := parseKeys(json.RawMessage(strings.TrimSpace(node.Text())))
	if len(keys) == 0 {
		return nil, errors.New("library page lists no purchases")
	}
	return keys, nil
}

func (c *Client) Order(ctx context.Context, gameKey string) (*Order, error) {
	var o Order
	path := "/api/v1/order/" + url.PathEscape(gameKey) + "?all_tpkds=true"
	if err := c.getJSON(ctx, path, &o); err != nil {
		return nil, fmt.Errorf("order %s: %w", gameKey, err)
	}
	if o.GameKey == "" {
		o.GameKey = gameKey
	}
	return &o, nil
}

// TroveProducts walks the paged catalog until the storefront returns an
// empty page.
func (c *Client) TroveProducts(ctx context.Context) ([]TroveProduct, error) {
	var out []TroveProduct
	for idx := 0; idx < maxCatalogPages; idx++ {
		var page []TroveProduct
		if err := c.getJSON(ctx, "/client/catalog?index="+strconv.Itoa(idx), &page); err != nil {
			return nil, fmt.Errorf("trove catalog page %d: %w", idx, err)
		}
		if len(page) == 0 {
			return out, nil
		}
		out = append(out, page...)
	}
	return nil, fmt.Errorf("trove catalog: more than %d pages", maxCatalogPages)
}

// SignTroveDownload exchanges a Trove storage path for a short-lived URL.
func (c *Client) SignTroveDownload(ctx context.Context, machineName, fileName string) (string, error) {
	form := url.Values{"machine_name": {machineName}, "filename": {fileName}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/user/download/sign", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := c.send(c.api, req)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	var body struct {
		SignedURL string `json:"signed_url"`
		Errors    any    `json:"_errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode sign response: %w", err)
	}
	if e, ok := body.Errors.(string); ok && strings.EqualFold(e, "Unauthorized") {
		return "", ErrNoTroveAccess
	}
	if body.SignedURL == "" {
		return "", fmt.Errorf("sign %s: response has no signed_url", fileName)
	}
	return body.SignedURL, nil
}

// LookupProduct returns the store payload for a product slug, or nil when the
// store does not know it. Concurrent lookups of one slug share a request.
func (c *Client) LookupProduct(ctx context.Context, slug string) (map[string]any, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, nil
	}
	v, err, _ := c.lookups.Do(slug, func() (any, error) {
		var body struct {
			Result []map[string]any `json:"result"`
		}
		path := "/api/v1/store/lookup?products[]=" + url.QueryEscape(slug) + "&request=1"
		if err := c.getJSON(ctx, path, &body); err != nil {
			return nil, fmt.Errorf("lookup %s: %w", slug, err)
		}
		if len(body.Result) == 0 {
			return map[string]any(nil), nil
		}
		return body.Result[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Fetch starts a download. The session cookie is only sent to the storefront
// host itself, never to CDN hosts.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.sameHost(req.URL) && c.credential != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.credential})
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: HTTP %d", req.URL.Host, resp.StatusCode)
	}
	return resp, nil
}

func (c *Client) sameHost(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, u.Host)
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	resp, err := c.do(ctx, c.api, c.baseURL+path, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, client *http.Client, target, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	return c.send(client, req)
}

// send attaches the session cookie and maps auth failures to ErrUnauthorized.
func (c *Client) send(client *http.Client, req *http.Request) (*http.Response, error) {
	if c.credential == "" {
		return nil, ErrNoCredential
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.credential})

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
