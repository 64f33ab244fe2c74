package models

import "time"

type Link struct {
	Href string `json:"href"`
}

type Links struct {
	Self *Link `json:"self"`
}

type Pagination struct {
	Next           *int `json:"next,omitempty"`
	Previous       *int `json:"previous,omitempty"`
	CurrentPage    int  `json:"currentPage"`
	RecordsPerPage int  `json:"recordsPerPage"`
	TotalPages     int  `json:"totalPages"`
	TotalRecords   int  `json:"totalRecords"`
}

// AssetSummary is the list view of an asset.
type AssetSummary struct {
	Id            uint     `json:"id"`
	OrderId       string   `json:"orderId"`
	BundleTitle   string   `json:"bundleTitle"`
	ProductTitle  string   `json:"productTitle"`
	FileName      string   `json:"fileName"`
	Platform      string   `json:"platform"`
	Ext           string   `json:"ext"`
	SizeBytes     int64    `json:"sizeBytes"`
	Category      string   `json:"category"`
	ImageUrl      string   `json:"imageUrl,omitempty"`
	Downloaded    bool     `json:"downloaded"`
	DownloadError *string  `json:"downloadError,omitempty"`
	KeyOnly       bool     `json:"keyOnly"`
	Tags          []string `json:"tags"`
	Links         *Links   `json:"_links,omitempty"`
}

// AssetDetail adds the heavier fields to the summary.
type AssetDetail struct {
	AssetSummary
	Description   string     `json:"description,omitempty"`
	DownloadUrls  []string   `json:"downloadUrls"`
	Md5           string     `json:"md5,omitempty"`
	ActivationKey *string    `json:"activationKey,omitempty"`
	Trove         bool       `json:"trove"`
	Exists        bool       `json:"exists"`
	DiskBytes     int64      `json:"diskBytes,omitempty"`
	EnrichedAt    *time.Time `json:"enrichedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Highlight groups downloaded assets of one category.
type Highlight struct {
	Category string         `json:"category"`
	Count    int            `json:"count"`
	Items    []AssetSummary `json:"items"`
}

type CategoryCount struct {
	Category   string `json:"category"`
	Count      int    `json:"count"`
	Downloaded int    `json:"downloaded"`
}

type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Facets lists the distinct filter values with their asset counts.
type Facets struct {
	Categories []FacetCount `json:"categories"`
	Platforms  []FacetCount `json:"platforms"`
	Exts       []FacetCount `json:"exts"`
	Bundles    []FacetCount `json:"bundles"`
}

type BundleSummary struct {
	OrderId     string `json:"orderId"`
	BundleTitle string `json:"bundleTitle"`
	Assets      int    `json:"assets"`
	Downloaded  int    `json:"downloaded"`
	SizeBytes   int64  `json:"sizeBytes"`
	ImageUrl    string `json:"imageUrl,omitempty"`
}

// PurchaseSummary is one order as recorded by the last syncs.
type PurchaseSummary struct {
	OrderId     string `json:"orderId"`
	BundleTitle string `json:"bundleTitle"`
	FileCount   int    `json:"files"`
	KeyCount    int    `json:"keys"`
	Downloaded  int    `json:"downloaded"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// OrderView is a live order from the storefront, joined with the local rows.
type OrderView struct {
	OrderId     string         `json:"orderId"`
	BundleTitle string         `json:"bundleTitle"`
	Products    []OrderProduct `json:"products"`
	Keys        []OrderKey     `json:"keys"`
}

type OrderProduct struct {
	Title string      `json:"title"`
	Slug  string      `json:"slug,omitempty"`
	Files []OrderFile `json:"files"`
}

type OrderFile struct {
	FileName   string   `json:"fileName"`
	Platform   string   `json:"platform"`
	SizeBytes  int64    `json:"sizeBytes"`
	Md5        string   `json:"md5,omitempty"`
	Urls       []string `json:"urls"`
	AssetId    *uint    `json:"assetId,omitempty"`
	Downloaded bool     `json:"downloaded"`
}

type OrderKey struct {
	Name     string `json:"name"`
	KeyType  string `json:"keyType"`
	Redeemed bool   `json:"redeemed"`
	AssetId  *uint  `json:"assetId,omitempty"`
}

type LibraryStats struct {
	Assets         int   `json:"assets"`
	Downloaded     int   `json:"downloaded"`
	Failed         int   `json:"failed"`
	KeyOnly        int   `json:"keyOnly"`
	Bundles        int   `json:"bundles"`
	TotalBytes     int64 `json:"totalBytes"`
	DownloadedSize int64 `json:"downloadedBytes"`
}

const (
	ModeIncremental = "incremental"
	ModeForced      = "forced"
)

// PassSummary reports the outcome of one indexing pass.
type PassSummary struct {
	Id           string         `json:"id"`
	Mode         string         `json:"mode"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   time.Time      `json:"finishedAt"`
	Orders       int            `json:"orders"`
	FailedOrders int            `json:"failedOrders"`
	TroveItems   int            `json:"troveItems,omitempty"`
	Processed    int            `json:"processed"`
	Created      int            `json:"created"`
	Updated      int            `json:"updated"`
	Overwritten  int            `json:"overwritten"`
	Categories   map[string]int `json:"categories"`
	Reconciled   int            `json:"reconciled"`
	Errors       []string       `json:"errors,omitempty"`
}

type ReconcileResult struct {
	Checked     int `json:"checked"`
	MarkedTrue  int `json:"markedDownloaded"`
	MarkedFalse int `json:"markedMissing"`
	WriteFailed int `json:"writeFailed"`
}

// Changed is the number of assets whose flag was corrected.
func (r ReconcileResult) Changed() int { return r.MarkedTrue + r.MarkedFalse }

type DownloadResult struct {
	Queued     int `json:"queued"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type ReclassifyResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type Status struct {
	Syncing     bool         `json:"syncing"`
	Downloading bool         `json:"downloading"`
	Configured  bool         `json:"configured"`
	LastPass    *PassSummary `json:"lastPass,omitempty"`
	Stats       LibraryStats `json:"stats"`
}

type Accepted struct {
	Started bool   `json:"started"`
	Action  string `json:"action"`
	Update  bool   `json:"update,omitempty"`
}

type LogLines struct {
	Lines []string `json:"lines"`
}
