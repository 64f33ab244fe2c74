package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AIDescribedTag marks assets whose description was written by the classifier.
const AIDescribedTag = "ai-described"

const (
	TroveOrderID = "trove"
	TroveBundle  = "Humble Trove"
)

// Asset is one downloadable file (or key-only entitlement) of a purchased product.
type Asset struct {
	ID            uint                        `gorm:"primaryKey" json:"id"`
	OrderID       string                      `gorm:"not null;uniqueIndex:idx_asset_identity,priority:1" json:"orderId"`
	FileName      string                      `gorm:"not null;uniqueIndex:idx_asset_identity,priority:2" json:"fileName"`
	Platform      string                      `gorm:"not null;uniqueIndex:idx_asset_identity,priority:3" json:"platform"`
	BundleTitle   string                      `gorm:"index" json:"bundleTitle"`
	ProductTitle  string                      `json:"productTitle"`
	ProductSlug   string                      `json:"productSlug,omitempty"`
	Ext           string                      `gorm:"index" json:"ext"`
	SizeBytes     int64                       `json:"sizeBytes"`
	DiskBytes     int64                       `json:"diskBytes,omitempty"`
	MD5           string                      `gorm:"column:md5" json:"md5,omitempty"`
	DownloadURLs  datatypes.JSONSlice[string] `gorm:"column:download_urls" json:"downloadUrls"`
	ImageURL      string                      `json:"imageUrl,omitempty"`
	Description   string                      `json:"description,omitempty"`
	Category      string                      `gorm:"index" json:"category"`
	Downloaded    bool                        `gorm:"index;not null;default:false" json:"downloaded"`
	DownloadError *string                     `json:"downloadError,omitempty"`
	ActivationKey *string                     `json:"activationKey,omitempty"`
	Trove         bool                        `gorm:"not null;default:false" json:"trove"`
	// SignName is the machine name the Trove signing endpoint expects.
	SignName      string                      `json:"-"`
	EnrichedAt    *time.Time                  `gorm:"index" json:"enrichedAt,omitempty"`
	CreatedAt     time.Time                   `json:"createdAt"`
	UpdatedAt     time.Time                   `json:"updatedAt"`
	Tags          []AssetTag                  `gorm:"foreignKey:AssetID;constraint:OnDelete:CASCADE" json:"-"`
}

// AssetTag associates a free-form tag with an asset. The composite key keeps
// tags unique per asset.
type AssetTag struct {
	AssetID uint   `gorm:"primaryKey;autoIncrement:false"`
	Tag     string `gorm:"primaryKey;size:128"`
}

// Key returns the natural identity of the asset.
func (a *Asset) Key() string {
	return AssetKey(a.OrderID, a.FileName, a.Platform)
}

// AssetKey joins the natural identity columns into a single lock key.
func AssetKey(orderID, fileName, platform string) string {
	return orderID + "|" + fileName + "|" + platform
}

// HasDownloadURL reports whether the asset has at least one usable URL.
func (a *Asset) HasDownloadURL() bool {
	for _, u := range a.DownloadURLs {
		if strings.TrimSpace(u) != "" {
			return true
		}
	}
	return false
}

// TagNames flattens the preloaded tag rows.
func (a *Asset) TagNames() []string {
	out := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		out = append(out, t.Tag)
	}
	return out
}

// FileDescriptor holds the remote-owned columns that every sync refreshes.
type FileDescriptor struct {
	BundleTitle   string
	ProductTitle  string
	ProductSlug   string
	Ext           string
	SizeBytes     int64
	MD5           string
	DownloadURLs  []string
	ActivationKey *string
	SignName      string
}

// Descriptor extracts the current file descriptor of a stored asset.
func (a *Asset) Descriptor() FileDescriptor {
	return FileDescriptor{
		BundleTitle:   a.BundleTitle,
		ProductTitle:  a.ProductTitle,
		ProductSlug:   a.ProductSlug,
		Ext:           a.Ext,
		SizeBytes:     a.SizeBytes,
		MD5:           a.MD5,
		DownloadURLs:  []string(a.DownloadURLs),
		ActivationKey: a.ActivationKey,
		SignName:      a.SignName,
	}
}

// Equal compares two descriptors field by field.
func (d FileDescriptor) Equal(o FileDescriptor) bool {
	if d.BundleTitle != o.BundleTitle || d.ProductTitle != o.ProductTitle || d.ProductSlug != o.ProductSlug ||
		d.Ext != o.Ext || d.SizeBytes != o.SizeBytes || d.MD5 != o.MD5 || d.SignName != o.SignName {
		return false
	}
	if len(d.DownloadURLs) != len(o.DownloadURLs) {
		return false
	}
	for i := range d.DownloadURLs {
		if d.DownloadURLs[i] != o.DownloadURLs[i] {
			return false
		}
	}
	switch {
	case d.ActivationKey == nil && o.ActivationKey == nil:
		return true
	case d.ActivationKey == nil || o.ActivationKey == nil:
		return false
	default:
		return *d.ActivationKey == *o.ActivationKey
	}
}

// Metadata is the enrichment field-set written as one unit.
type Metadata struct {
	ImageURL    string
	Description string
	Category    string
}
