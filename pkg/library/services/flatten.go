package services

import (
	"sort"
	"strings"

	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/storefront"
)

// Record is one asset as seen in a remote order. Asset carries the identity
// and file descriptor; Payload is the raw product used for metadata.
type Record struct {
	Asset     models.Asset
	Payload   map[string]any
	SignedURL string
}

func (r *Record) Key() string { return r.Asset.Key() }

// IsKey reports a key-only entitlement.
func (r *Record) IsKey() bool { return r.Asset.ActivationKey != nil && !r.Asset.HasDownloadURL() }

// FlattenOrder expands an order into one record per downloadable file and
// one per third-party key. Platform and extension filters apply to files.
func FlattenOrder(o *storefront.Order, s config.Settings) []Record {
	if o == nil {
		return nil
	}
	bundle := CleanName(o.Product.HumanName)
	seen := make(map[string]bool)
	var out []Record
	add := func(r Record) {
		if seen[r.Key()] {
			return
		}
		seen[r.Key()] = true
		out = append(out, r)
	}

	for _, sp := range o.Subproducts {
		product := CleanName(sp.HumanName)
		for _, d := range sp.Downloads {
			for _, fv := range d.DownloadStruct {
				web := strings.TrimSpace(fv.URL.Web)
				if web == "" {
					continue
				}
				platform := strings.ToLower(strings.TrimSpace(firstNonEmpty(fv.Platform, d.Platform)))
				if !s.PlatformAllowed(platform) {
					continue
				}
				fileName := FileNameFromURL(web)
				if fileName == "" {
					continue
				}
				ext := ExtOf(fileName)
				if !s.FileAllowed(ext) {
					continue
				}
				urls := []string{StripQuery(web)}
				if bt := strings.TrimSpace(fv.URL.BitTorrent); bt != "" {
					urls = append(urls, StripQuery(bt))
				}
				add(Record{
					Asset: models.Asset{
						OrderID:      o.GameKey,
						BundleTitle:  bundle,
						ProductTitle: product,
						ProductSlug:  sp.MachineName,
						FileName:     fileName,
						Platform:     platform,
						Ext:          ext,
						SizeBytes:    int64(fv.FileSize),
						MD5:          strings.TrimSpace(fv.MD5),
						DownloadURLs: urls,
					},
					Payload:   sp.Raw,
					SignedURL: web,
				})
			}
		}
	}

	for _, tpk := range o.TpkdDict.AllTpks {
		name := strings.TrimSpace(tpk.MachineName)
		if name == "" {
			name = CleanName(tpk.HumanName)
		}
		if name == "" {
			continue
		}
		platform := strings.ToLower(strings.TrimSpace(tpk.KeyType))
		if platform == "" {
			platform = "key"
		}
		key := ""
		if tpk.RedeemedKeyVal != nil {
			key = strings.TrimSpace(*tpk.RedeemedKeyVal)
		}
		add(Record{
			Asset: models.Asset{
				OrderID:       o.GameKey,
				BundleTitle:   bundle,
				ProductTitle:  CleanName(firstNonEmpty(tpk.HumanName, tpk.MachineName)),
				ProductSlug:   tpk.MachineName,
				FileName:      name,
				Platform:      platform,
				DownloadURLs:  []string{},
				ActivationKey: &key,
				Category:      models.CategoryKey,
			},
		})
	}
	return out
}

// FlattenTrove expands the Trove catalog into records under the synthetic
// "trove" order. DownloadURLs holds the storage path; the downloader signs it
// with SignName before fetching.
func FlattenTrove(products []storefront.TroveProduct, s config.Settings) []Record {
	seen := make(map[string]bool)
	var out []Record
	for _, p := range products {
		product := CleanName(firstNonEmpty(p.HumanName, p.MachineName))
		platforms := make([]string, 0, len(p.Downloads))
		for platform := range p.Downloads {
			platforms = append(platforms, platform)
		}
		sort.Strings(platforms)
		for _, platform := range platforms {
			d := p.Downloads[platform]
			web := strings.TrimSpace(d.URL.Web)
			platform = strings.ToLower(strings.TrimSpace(platform))
			if web == "" || !s.PlatformAllowed(platform) {
				continue
			}
			fileName := FileNameFromURL(web)
			if fileName == "" {
				continue
			}
			ext := ExtOf(fileName)
			if !s.FileAllowed(ext) {
				continue
			}
			r := Record{
				Asset: models.Asset{
					OrderID:      models.TroveOrderID,
					BundleTitle:  models.TroveBundle,
					ProductTitle: product,
					ProductSlug:  p.MachineName,
					FileName:     fileName,
					Platform:     platform,
					Ext:          ext,
					SizeBytes:    int64(d.FileSize),
					MD5:          strings.TrimSpace(d.MD5),
					DownloadURLs: []string{StripQuery(web)},
					Trove:        true,
					SignName:     d.MachineName,
				},
				Payload: p.Raw,
			}
			if seen[r.Key()] {
				continue
			}
			seen[r.Key()] = true
			out = append(out, r)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
