package typesense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/humblevault/humblevault/pkg/library/helpers/httpclient"
	"github.com/humblevault/humblevault/pkg/library/models"
)

const (
	defaultCollection    = "humblevault"
	defaultDetailBaseURL = "http://localhost:1337/v1/assets"
	defaultLanguage      = "en"
	defaultItemPriority  = 1
)

// ErrDisabled is returned when Typesense configuration is missing.
var ErrDisabled = errors.New("typesense indexing disabled: missing endpoint, api key or collection name")

type config struct {
	endpoint       string
	apiKey         string
	collection     string
	detailBaseURL  string
	language       string
	itemPriority   int
	defaultTags    []string
	featureEnabled bool
}

func loadConfigFromEnv() config {
	endpoint := strings.TrimSpace(os.Getenv("TYPESENSE_ENDPOINT"))
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("TYPESENSE_BASE_URL"))
	}

	collection := strings.TrimSpace(os.Getenv("TYPESENSE_COLLECTION"))
	if collection == "" {
		collection = defaultCollection
	}

	detailBase := strings.TrimSpace(os.Getenv("TYPESENSE_DETAIL_BASE_URL"))
	if detailBase == "" {
		detailBase = defaultDetailBaseURL
	}

	language := strings.TrimSpace(os.Getenv("TYPESENSE_LANGUAGE"))
	if language == "" {
		language = defaultLanguage
	}

	itemPriority := defaultItemPriority
	if raw := strings.TrimSpace(os.Getenv("TYPESENSE_ITEM_PRIORITY")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			itemPriority = v
		}
	}

	return config{
		endpoint:       endpoint,
		apiKey:         strings.TrimSpace(os.Getenv("TYPESENSE_API_KEY")),
		collection:     collection,
		detailBaseURL:  detailBase,
		language:       language,
		itemPriority:   itemPriority,
		defaultTags:    parseDefaultTags(),
		featureEnabled: isFeatureEnabled(),
	}
}

func (c config) enabled() bool {
	return c.featureEnabled && c.endpoint != "" && c.apiKey != "" && c.collection != ""
}

func isFeatureEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_TYPESENSE"))) {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

// Enabled reports whether Typesense indexing is active based on env vars.
func Enabled() bool {
	return loadConfigFromEnv().enabled()
}

func parseDefaultTags() []string {
	fallback := []string{"humblevault", "library"}
	raw := os.Getenv("TYPESENSE_DEFAULT_TAGS")
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// PublishAsset upserts the asset as a search document.
func PublishAsset(ctx context.Context, asset *models.Asset) error {
	if asset == nil {
		return fmt.Errorf("typesense: asset is nil")
	}

	cfg := loadConfigFromEnv()
	if !cfg.enabled() {
		return ErrDisabled
	}

	payload, err := json.Marshal(buildDocument(cfg, asset))
	if err != nil {
		return fmt.Errorf("typesense: marshal payload: %w", err)
	}

	base := strings.TrimRight(cfg.endpoint, "/")
	target := fmt.Sprintf("%s/collections/%s/documents?action=upsert", base, url.PathEscape(cfg.collection))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("typesense: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TYPESENSE-API-KEY", cfg.apiKey)

	resp, err := httpclient.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("typesense: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("typesense: indexing failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func buildDocument(cfg config, a *models.Asset) map[string]any {
	id := strconv.FormatUint(uint64(a.ID), 10)
	doc := map[string]any{
		"id":            id,
		"type":          "doc",
		"language":      cfg.language,
		"item_priority": cfg.itemPriority,
	}

	if detailBase := strings.TrimRight(cfg.detailBaseURL, "/"); detailBase != "" {
		detailURL := detailBase + "/" + id
		doc["url"] = detailURL
		doc["url_without_anchor"] = detailURL
		doc["anchor"] = nil
	}

	levels := []string{a.ProductTitle, a.BundleTitle, a.Category, a.Platform, a.FileName}
	for i, v := range levels {
		if v = strings.TrimSpace(v); v != "" {
			doc[fmt.Sprintf("hierarchy.lvl%d", i)] = v
		}
	}
	if img := strings.TrimSpace(a.ImageURL); img != "" {
		doc["image"] = img
	}
	doc["content"] = buildContent(a)
	doc["tags"] = buildTags(cfg, a)
	return doc
}

func buildContent(a *models.Asset) string {
	parts := make([]string, 0, 4)
	if desc := strings.TrimSpace(a.Description); desc != "" {
		parts = append(parts, desc)
	}
	if a.BundleTitle != "" {
		parts = append(parts, "Bundle: "+a.BundleTitle)
	}
	if a.FileName != "" {
		parts = append(parts, fmt.Sprintf("File: %s (%s)", a.FileName, a.Platform))
	}
	if len(parts) == 0 {
		return strings.TrimSpace(a.ProductTitle)
	}
	return strings.Join(parts, "\n\n")
}

func buildTags(cfg config, a *models.Asset) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(cfg.defaultTags)+len(a.Tags)+4)
	for _, tag := range cfg.defaultTags {
		out = appendUnique(out, tag, seen)
	}
	out = appendUnique(out, a.Category, seen)
	if a.Ext != "" {
		out = appendUnique(out, "ext:"+a.Ext, seen)
	}
	if a.Downloaded {
		out = appendUnique(out, "downloaded", seen)
	}
	for _, t := range a.TagNames() {
		out = appendUnique(out, t, seen)
	}
	return out
}

func appendUnique(tags []string, value string, seen map[string]struct{}) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return tags
	}
	if _, ok := seen[value]; ok {
		return tags
	}
	seen[value] = struct{}{}
	return append(tags, value)
}
