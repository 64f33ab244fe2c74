package models

import (
	"strings"
	"unicode/utf8"
)

const (
	SortRecent = "recent"
	SortAlpha  = "alpha"
	SortBundle = "bundle"
)

type ListAssetsParams struct {
	Page       int     `query:"page"`
	PerPage    int     `query:"perPage"`
	Bundle     *string `query:"bundle"`
	Category   *string `query:"category"`
	Platform   *string `query:"platform"`
	Ext        *string `query:"ext"`
	Q          *string `query:"q"`
	Downloaded *bool   `query:"downloaded"`
	Sort       string  `query:"sort"`
	BaseURL    string  `json:"-"` // set in handler
}

// Search returns the lower-cased free-text query, or "" when absent.
func (p *ListAssetsParams) Search() string {
	if p.Q == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*p.Q))
}

// Normalize clamps paging and falls back to the default sort order.
func (p *ListAssetsParams) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 50
	}
	if p.PerPage > 500 {
		p.PerPage = 500
	}
	switch p.Sort {
	case SortRecent, SortAlpha, SortBundle:
	default:
		p.Sort = SortRecent
	}
}

type AssetParams struct {
	Id uint `path:"id" binding:"required"`
}

type HighlightParams struct {
	LimitPerCategory int `query:"limitPerCategory" default:"12"`
	MaxCategories    int `query:"maxCategories" default:"6"`
}

type FacetParams struct {
	Downloaded bool `query:"downloaded"`
}

type BundleParams struct {
	Limit int `query:"limit" default:"500"`
}

type PurchaseParams struct {
	Limit int `query:"limit" default:"500"`
}

type OrderParams struct {
	OrderId string `path:"orderId" binding:"required"`
}

type SyncInput struct {
	Update bool `json:"update"`
}

type TagsInput struct {
	Id   uint     `path:"id" binding:"required"`
	Tags []string `json:"tags"`
}

type ReclassifyInput struct {
	AssetIDs []uint `json:"assetIds"`
}

// MaxTagLength is the width of the tag column, in characters.
const MaxTagLength = 128

// LongTags returns the normalized tags that exceed MaxTagLength.
func LongTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if utf8.RuneCountInString(t) > MaxTagLength {
			out = append(out, t)
		}
	}
	return out
}

// NormalizeTags trims, lower-cases and de-duplicates tags, dropping empties
// and tags longer than MaxTagLength.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || utf8.RuneCountInString(t) > MaxTagLength {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
