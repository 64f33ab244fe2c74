package util

import (
	"fmt"

	"github.com/humblevault/humblevault/pkg/library/models"
)

func ToAssetSummary(a *models.Asset) models.AssetSummary {
	return models.AssetSummary{
		Id:            a.ID,
		OrderId:       a.OrderID,
		BundleTitle:   a.BundleTitle,
		ProductTitle:  a.ProductTitle,
		FileName:      a.FileName,
		Platform:      a.Platform,
		Ext:           a.Ext,
		SizeBytes:     a.SizeBytes,
		Category:      a.Category,
		ImageUrl:      a.ImageURL,
		Downloaded:    a.Downloaded,
		DownloadError: a.DownloadError,
		KeyOnly:       a.ActivationKey != nil && !a.HasDownloadURL(),
		Tags:          a.TagNames(),
		Links: &models.Links{
			Self: &models.Link{Href: fmt.Sprintf("/v1/assets/%d", a.ID)},
		},
	}
}

func ToAssetSummaries(assets []models.Asset) []models.AssetSummary {
	out := make([]models.AssetSummary, len(assets))
	for i := range assets {
		out[i] = ToAssetSummary(&assets[i])
	}
	return out
}

func ToAssetDetail(a *models.Asset) *models.AssetDetail {
	urls := []string(a.DownloadURLs)
	if urls == nil {
		urls = []string{}
	}
	return &models.AssetDetail{
		AssetSummary:  ToAssetSummary(a),
		Description:   a.Description,
		DownloadUrls:  urls,
		Md5:           a.MD5,
		ActivationKey: a.ActivationKey,
		Trove:         a.Trove,
		DiskBytes:     a.DiskBytes,
		EnrichedAt:    a.EnrichedAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
