package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidSetting wraps every validation failure of Store.Update.
var ErrInvalidSetting = errors.New("invalid setting")

const (
	keySessionCookie   = "session_cookie"
	keyLibraryPath     = "library_path"
	keyStorefrontURL   = "storefront_url"
	keyPlatforms       = "platforms"
	keyIncludeExt      = "include_ext"
	keyExcludeExt      = "exclude_ext"
	keyAIURL           = "ai_url"
	keyAIModel         = "ai_model"
	keyAIAPIKey        = "ai_api_key"
	keyAITimeout       = "ai_timeout"
	keyDownloadWorkers = "download_workers"
	keyTrove           = "trove"
	keyAuthHeaderName  = "auth_header_name"
	keyAuthHeaderValue = "auth_header_value"
)

// Persister stores setting overrides as plain key/value pairs.
type Persister interface {
	All(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, values map[string]string) error
}

// Patch is a partial settings update; nil fields are left untouched.
type Patch struct {
	SessionCookie   *string   `json:"sessionCookie,omitempty"`
	LibraryPath     *string   `json:"libraryPath,omitempty"`
	StorefrontURL   *string   `json:"storefrontUrl,omitempty"`
	Platforms       *[]string `json:"platforms,omitempty"`
	IncludeExt      *[]string `json:"includeExt,omitempty"`
	ExcludeExt      *[]string `json:"excludeExt,omitempty"`
	AIURL           *string   `json:"aiUrl,omitempty"`
	AIModel         *string   `json:"aiModel,omitempty"`
	AIAPIKey        *string   `json:"aiApiKey,omitempty"`
	AITimeoutSecs   *int      `json:"aiTimeoutSeconds,omitempty"`
	DownloadWorkers *int      `json:"downloadWorkers,omitempty"`
	Trove           *bool     `json:"trove,omitempty"`
	AuthHeaderName  *string   `json:"authHeaderName,omitempty"`
	AuthHeaderValue *string   `json:"authHeaderValue,omitempty"`
}

// View is the read-back form of Settings with secrets masked.
type View struct {
	SessionCookie    string   `json:"sessionCookie"`
	LibraryPath      string   `json:"libraryPath"`
	StorefrontURL    string   `json:"storefrontUrl"`
	Platforms        []string `json:"platforms"`
	IncludeExt       []string `json:"includeExt"`
	ExcludeExt       []string `json:"excludeExt"`
	AIURL            string   `json:"aiUrl"`
	AIModel          string   `json:"aiModel"`
	AIAPIKey         string   `json:"aiApiKey"`
	AITimeoutSecs    int      `json:"aiTimeoutSeconds"`
	DownloadWorkers  int      `json:"downloadWorkers"`
	Trove            bool     `json:"trove"`
	AuthHeaderName   string   `json:"authHeaderName"`
	AuthHeaderSet    bool     `json:"authHeaderSet"`
	Ready            bool     `json:"ready"`
	AIClassification bool     `json:"aiClassification"`
}

// Store holds the live settings. Components call Get at the start of each
// operation so updates apply from the next pass on.
type Store struct {
	mu      sync.RWMutex
	current Settings
	repo    Persister
}

func NewStore(base Settings, repo Persister) *Store {
	return &Store{current: base.normalized(), repo: repo}
}

// Load applies the persisted overrides on top of the environment values.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	values, err := s.repo.All(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := apply(s.current, values)
	if err != nil {
		return err
	}
	s.current = next
	return nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.current
	cur.Platforms = append([]string(nil), cur.Platforms...)
	cur.IncludeExt = append([]string(nil), cur.IncludeExt...)
	cur.ExcludeExt = append([]string(nil), cur.ExcludeExt...)
	return cur
}

// Update validates the patch, persists it and swaps the live settings.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	values, err := p.values()
	if err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := apply(s.current, values)
	if err != nil {
		return Settings{}, err
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, values); err != nil {
			return Settings{}, fmt.Errorf("save settings: %w", err)
		}
	}
	s.current = next
	return next, nil
}

func (p Patch) values() (map[string]string, error) {
	out := map[string]string{}
	setStr := func(key string, v *string) {
		if v != nil {
			out[key] = strings.TrimSpace(*v)
		}
	}
	setList := func(key string, v *[]string) {
		if v != nil {
			out[key] = strings.Join(*v, ",")
		}
	}
	setStr(keySessionCookie, p.SessionCookie)
	setStr(keyLibraryPath, p.LibraryPath)
	setStr(keyStorefrontURL, p.StorefrontURL)
	setList(keyPlatforms, p.Platforms)
	setList(keyIncludeExt, p.IncludeExt)
	setList(keyExcludeExt, p.ExcludeExt)
	setStr(keyAIURL, p.AIURL)
	setStr(keyAIModel, p.AIModel)
	setStr(keyAIAPIKey, p.AIAPIKey)
	if p.AITimeoutSecs != nil {
		if *p.AITimeoutSecs < 1 || *p.AITimeoutSecs > 120 {
			return nil, fmt.Errorf("%w: aiTimeoutSeconds must be between 1 and 120", ErrInvalidSetting)
		}
		out[keyAITimeout] = (time.Duration(*p.AITimeoutSecs) * time.Second).String()
	}
	if p.DownloadWorkers != nil {
		if *p.DownloadWorkers < 1 || *p.DownloadWorkers > 32 {
			return nil, fmt.Errorf("%w: downloadWorkers must be between 1 and 32", ErrInvalidSetting)
		}
		out[keyDownloadWorkers] = strconv.Itoa(*p.DownloadWorkers)
	}
	if p.Trove != nil {
		out[keyTrove] = strconv.FormatBool(*p.Trove)
	}
	setStr(keyAuthHeaderName, p.AuthHeaderName)
	setStr(keyAuthHeaderValue, p.AuthHeaderValue)
	return out, nil
}

func apply(base Settings, values map[string]string) (Settings, error) {
	next := base
	for key, raw := range values {
		switch key {
		case keySessionCookie:
			next.SessionCookie = raw
		case keyLibraryPath:
			next.LibraryPath = raw
		case keyStorefrontURL:
			if raw != "" && !strings.HasPrefix(raw, "http") {
				return Settings{}, fmt.Errorf("%w: storefrontUrl must be an http(s) URL", ErrInvalidSetting)
			}
			if raw != "" {
				next.StorefrontURL = raw
			}
		case keyPlatforms:
			next.Platforms = splitList(raw)
		case keyIncludeExt:
			next.IncludeExt = splitList(raw)
		case keyExcludeExt:
			next.ExcludeExt = splitList(raw)
		case keyAIURL:
			next.AIURL = raw
		case keyAIModel:
			next.AIModel = raw
		case keyAIAPIKey:
			next.AIAPIKey = raw
		case keyAITimeout:
			d, err := time.ParseDuration(raw)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: ai_timeout: %v", ErrInvalidSetting, err)
			}
			next.AITimeout = d
		case keyDownloadWorkers:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: download_workers: %v", ErrInvalidSetting, err)
			}
			next.DownloadWorkers = n
		case keyTrove:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return Settings{}, fmt.Errorf("%w: trove: %v", ErrInvalidSetting, err)
			}
			next.Trove = b
		case keyAuthHeaderName:
			next.AuthHeaderName = raw
		case keyAuthHeaderValue:
			next.AuthHeaderValue = raw
		}
	}
	return next.normalized(), nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Masked returns the settings with credentials reduced to a hint.
func (s Settings) Masked() View {
	return View{
		SessionCookie:    mask(s.SessionCookie),
		LibraryPath:      s.LibraryPath,
		StorefrontURL:    s.StorefrontURL,
		Platforms:        nonNil(s.Platforms),
		IncludeExt:       nonNil(s.IncludeExt),
		ExcludeExt:       nonNil(s.ExcludeExt),
		AIURL:            s.AIURL,
		AIModel:          s.AIModel,
		AIAPIKey:         mask(s.AIAPIKey),
		AITimeoutSecs:    int(s.AITimeout / time.Second),
		DownloadWorkers:  s.DownloadWorkers,
		Trove:            s.Trove,
		AuthHeaderName:   s.AuthHeaderName,
		AuthHeaderSet:    s.AuthHeaderValue != "",
		Ready:            s.Ready(),
		AIClassification: s.AIEnabled(),
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
