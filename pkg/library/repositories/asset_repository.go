package repositories

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/humblevault/humblevault/pkg/library/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// likeEscaper makes user input match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

type AssetRepository interface {
	FindByKey(ctx context.Context, orderID, fileName, platform string) (*models.Asset, error)
	GetByID(ctx context.Context, id uint) (*models.Asset, error)
	Create(ctx context.Context, asset *models.Asset) (bool, error)
	UpdateDescriptor(ctx context.Context, id uint, d models.FileDescriptor) error
	FillMetadata(ctx context.Context, id uint, m models.Metadata) error
	OverwriteMetadata(ctx context.Context, id uint, m models.Metadata, enrichedAt time.Time) error
	SetCategory(ctx context.Context, id uint, category string) error
	AddTags(ctx context.Context, id uint, tags ...string) error
	ReplaceTags(ctx context.Context, id uint, tags []string) error
	ListForReenrichment(ctx context.Context, limit int) ([]uint, error)
	ListWithURLs(ctx context.Context) ([]models.Asset, error)
	ListMissing(ctx context.Context) ([]models.Asset, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.Asset, error)
	SetDownloaded(ctx context.Context, id uint, downloaded bool) error
	MarkDownloaded(ctx context.Context, id uint, diskBytes int64) error
	SetDownloadError(ctx context.Context, id uint, reason string) error
	ListAssets(ctx context.Context, p *models.ListAssetsParams) ([]models.Asset, models.Pagination, error)
	TopCategories(ctx context.Context, limit int) ([]models.CategoryCount, error)
	RecentDownloaded(ctx context.Context, category string, limit int) ([]models.Asset, error)
	CategoryCounts(ctx context.Context) ([]models.CategoryCount, error)
	Facets(ctx context.Context, downloadedOnly bool) (models.Facets, error)
	Bundles(ctx context.Context, limit int) ([]models.BundleSummary, error)
	Purchases(ctx context.Context, limit int) ([]models.PurchaseSummary, error)
	Stats(ctx context.Context) (models.LibraryStats, error)
}

var identityColumns = []clause.Column{{Name: "order_id"}, {Name: "file_name"}, {Name: "platform"}}

type assetRepository struct {
	db *gorm.DB
}

func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) FindByKey(ctx context.Context, orderID, fileName, platform string) (*models.Asset, error) {
	var a models.Asset
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND file_name = ? AND platform = ?", orderID, fileName, platform).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assetRepository) GetByID(ctx context.Context, id uint) (*models.Asset, error) {
	var a models.Asset
	err := r.db.WithContext(ctx).Preload("Tags").First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts the asset unless a row with the same natural key exists.
// It reports false when the insert was absorbed by the conflict clause.
func (r *assetRepository) Create(ctx context.Context, asset *models.Asset) (bool, error) {
	if asset.DownloadURLs == nil {
		asset.DownloadURLs = datatypes.JSONSlice[string]{}
	}
	res := r.db.WithContext(ctx).
		Omit("Tags").
		Clauses(clause.OnConflict{Columns: identityColumns, DoNothing: true}).
		Create(asset)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *assetRepository) UpdateDescriptor(ctx context.Context, id uint, d models.FileDescriptor) error {
	urls := datatypes.JSONSlice[string](d.DownloadURLs)
	if urls == nil {
		urls = datatypes.JSONSlice[string]{}
	}
	return r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Updates(map[string]any{
		"bundle_title":   d.BundleTitle,
		"product_title":  d.ProductTitle,
		"product_slug":   d.ProductSlug,
		"ext":            d.Ext,
		"size_bytes":     d.SizeBytes,
		"md5":            d.MD5,
		"download_urls":  urls,
		"activation_key": d.ActivationKey,
		"sign_name":      d.SignName,
	}).Error
}

// FillMetadata writes each non-empty field only where the stored value is empty.
func (r *assetRepository) FillMetadata(ctx context.Context, id uint, m models.Metadata) error {
	fields := []struct {
		column string
		value  string
	}{
		{"image_url", m.ImageURL},
		{"description", m.Description},
		{"category", m.Category},
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range fields {
			if f.value == "" {
				continue
			}
			err := tx.Model(&models.Asset{}).
				Where("id = ? AND ("+f.column+" = '' OR "+f.column+" IS NULL)", id).
				Update(f.column, f.value).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// OverwriteMetadata replaces the whole enrichment field-set in one statement.
func (r *assetRepository) OverwriteMetadata(ctx context.Context, id uint, m models.Metadata, enrichedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Updates(map[string]any{
		"image_url":   m.ImageURL,
		"description": m.Description,
		"category":    m.Category,
		"enriched_at": enrichedAt,
	}).Error
}

func (r *assetRepository) SetCategory(ctx context.Context, id uint, category string) error {
	return r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Update("category", category).Error
}

func (r *assetRepository) AddTags(ctx context.Context, id uint, tags ...string) error {
	tags = models.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	rows := make([]models.AssetTag, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, models.AssetTag{AssetID: id, Tag: t})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *assetRepository) ReplaceTags(ctx context.Context, id uint, tags []string) error {
	tags = models.NormalizeTags(tags)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", id).Delete(&models.AssetTag{}).Error; err != nil {
			return err
		}
		if len(tags) == 0 {
			return nil
		}
		rows := make([]models.AssetTag, 0, len(tags))
		for _, t := range tags {
			rows = append(rows, models.AssetTag{AssetID: id, Tag: t})
		}
		return tx.Create(&rows).Error
	})
}

// ListForReenrichment returns up to limit ids, never-enriched first, then
// oldest enrichment, ties broken by id.
func (r *assetRepository) ListForReenrichment(ctx context.Context, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Order("CASE WHEN enriched_at IS NULL THEN 0 ELSE 1 END, enriched_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *assetRepository) ListWithURLs(ctx context.Context) ([]models.Asset, error) {
	var all []models.Asset
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&all).Error; err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.HasDownloadURL() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *assetRepository) ListMissing(ctx context.Context) ([]models.Asset, error) {
	var all []models.Asset
	if err := r.db.WithContext(ctx).Where("downloaded = ?", false).Order("id ASC").Find(&all).Error; err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.HasDownloadURL() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *assetRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.Asset, error) {
	var out []models.Asset
	q := r.db.WithContext(ctx).Order("id ASC")
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *assetRepository) SetDownloaded(ctx context.Context, id uint, downloaded bool) error {
	return r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Update("downloaded", downloaded).Error
}

// MarkDownloaded records a present file. diskBytes is kept apart from the
// remote size_bytes so the next sync sees an unchanged descriptor.
func (r *assetRepository) MarkDownloaded(ctx context.Context, id uint, diskBytes int64) error {
	updates := map[string]any{
		"downloaded":     true,
		"download_error": nil,
	}
	if diskBytes > 0 {
		updates["disk_bytes"] = diskBytes
	}
	return r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Updates(updates).Error
}

func (r *assetRepository) SetDownloadError(ctx context.Context, id uint, reason string) error {
	return r.db.WithContext(ctx).Model(&models.Asset{}).Where("id = ?", id).Updates(map[string]any{
		"download_error": reason,
		"downloaded":     false,
	}).Error
}

func (r *assetRepository) ListAssets(ctx context.Context, p *models.ListAssetsParams) ([]models.Asset, models.Pagination, error) {
	p.Normalize()
	q := r.db.WithContext(ctx).Model(&models.Asset{})

	if p.Bundle != nil && strings.TrimSpace(*p.Bundle) != "" {
		b := strings.TrimSpace(*p.Bundle)
		q = q.Where("bundle_title = ? OR order_id = ?", b, b)
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) != "" {
		c := strings.ToLower(strings.TrimSpace(*p.Category))
		q = q.Where("category = ? OR EXISTS (SELECT 1 FROM asset_tags t WHERE t.asset_id = assets.id AND t.tag = ?)", c, c)
	}
	if p.Platform != nil && strings.TrimSpace(*p.Platform) != "" {
		q = q.Where("platform = ?", strings.ToLower(strings.TrimSpace(*p.Platform)))
	}
	if p.Ext != nil && strings.TrimSpace(*p.Ext) != "" {
		q = q.Where("ext = ?", strings.ToLower(strings.TrimPrefix(strings.TrimSpace(*p.Ext), ".")))
	}
	if s := p.Search(); s != "" {
		like := "%" + likeEscaper.Replace(s) + "%"
		q = q.Where(`LOWER(file_name) LIKE ? ESCAPE '\' OR LOWER(product_title) LIKE ? ESCAPE '\' OR LOWER(bundle_title) LIKE ? ESCAPE '\'`, like, like, like)
	}
	if p.Downloaded != nil {
		q = q.Where("downloaded = ?", *p.Downloaded)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, models.Pagination{}, err
	}

	switch p.Sort {
	case models.SortAlpha:
		q = q.Order("product_title ASC, file_name ASC, id ASC")
	case models.SortBundle:
		q = q.Order("bundle_title ASC, product_title ASC, file_name ASC, id ASC")
	default:
		q = q.Order("created_at DESC, id DESC")
	}

	var assets []models.Asset
	offset := (p.Page - 1) * p.PerPage
	if err := q.Preload("Tags").Offset(offset).Limit(p.PerPage).Find(&assets).Error; err != nil {
		return nil, models.Pagination{}, err
	}

	return assets, paginate(p.Page, p.PerPage, int(total)), nil
}

func paginate(page, perPage, totalRecords int) models.Pagination {
	totalPages := int(math.Ceil(float64(totalRecords) / float64(perPage)))
	pagination := models.Pagination{
		CurrentPage:    page,
		RecordsPerPage: perPage,
		TotalPages:     totalPages,
		TotalRecords:   totalRecords,
	}
	if page < totalPages {
		next := page + 1
		pagination.Next = &next
	}
	if page > 1 {
		prev := page - 1
		pagination.Previous = &prev
	}
	return pagination
}

func (r *assetRepository) TopCategories(ctx context.Context, limit int) ([]models.CategoryCount, error) {
	var out []models.CategoryCount
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Select("category, COUNT(*) AS count, COUNT(*) AS downloaded").
		Where("downloaded = ?", true).
		Group("category").
		Order("count DESC, category ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *assetRepository) RecentDownloaded(ctx context.Context, category string, limit int) ([]models.Asset, error) {
	var out []models.Asset
	err := r.db.WithContext(ctx).Preload("Tags").
		Where("downloaded = ? AND category = ?", true, category).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *assetRepository) CategoryCounts(ctx context.Context) ([]models.CategoryCount, error) {
	var out []models.CategoryCount
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Select("category, COUNT(*) AS count, COALESCE(SUM(CASE WHEN downloaded THEN 1 ELSE 0 END), 0) AS downloaded").
		Group("category").
		Order("count DESC, category ASC").
		Scan(&out).Error
	return out, err
}

func (r *assetRepository) Facets(ctx context.Context, downloadedOnly bool) (models.Facets, error) {
	var f models.Facets
	targets := []struct {
		column string
		dst    *[]models.FacetCount
	}{
		{"category", &f.Categories},
		{"platform", &f.Platforms},
		{"ext", &f.Exts},
		{"bundle_title", &f.Bundles},
	}
	for _, t := range targets {
		q := r.db.WithContext(ctx).Model(&models.Asset{}).
			Select(t.column + " AS value, COUNT(*) AS count").
			Where(t.column + " <> ''")
		if downloadedOnly {
			q = q.Where("downloaded = ?", true)
		}
		if err := q.Group(t.column).Order("count DESC, value ASC").Scan(t.dst).Error; err != nil {
			return models.Facets{}, err
		}
	}
	return f, nil
}

func (r *assetRepository) Bundles(ctx context.Context, limit int) ([]models.BundleSummary, error) {
	var out []models.BundleSummary
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Select("order_id, bundle_title, COUNT(*) AS assets, " +
			"COALESCE(SUM(CASE WHEN downloaded THEN 1 ELSE 0 END), 0) AS downloaded, " +
			"COALESCE(SUM(size_bytes), 0) AS size_bytes, MAX(image_url) AS image_url").
		Group("order_id, bundle_title").
		Order("bundle_title ASC, order_id ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// Purchases summarises each order, most recently indexed first. Trove rows
// are not purchases and are left out.
func (r *assetRepository) Purchases(ctx context.Context, limit int) ([]models.PurchaseSummary, error) {
	var out []models.PurchaseSummary
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Select("order_id, MAX(bundle_title) AS bundle_title, " +
			"COALESCE(SUM(CASE WHEN activation_key IS NULL THEN 1 ELSE 0 END), 0) AS file_count, " +
			"COALESCE(SUM(CASE WHEN activation_key IS NOT NULL THEN 1 ELSE 0 END), 0) AS key_count, " +
			"COALESCE(SUM(CASE WHEN downloaded THEN 1 ELSE 0 END), 0) AS downloaded, " +
			"COALESCE(SUM(size_bytes), 0) AS size_bytes").
		Where("trove = ?", false).
		Group("order_id").
		Order("MIN(id) DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (r *assetRepository) Stats(ctx context.Context) (models.LibraryStats, error) {
	var s models.LibraryStats
	err := r.db.WithContext(ctx).Model(&models.Asset{}).
		Select("COUNT(*) AS assets, " +
			"COALESCE(SUM(CASE WHEN downloaded THEN 1 ELSE 0 END), 0) AS downloaded, " +
			"COALESCE(SUM(CASE WHEN download_error IS NOT NULL THEN 1 ELSE 0 END), 0) AS failed, " +
			"COALESCE(SUM(CASE WHEN activation_key IS NOT NULL THEN 1 ELSE 0 END), 0) AS key_only, " +
			"COUNT(DISTINCT order_id) AS bundles, " +
			"COALESCE(SUM(size_bytes), 0) AS total_bytes, " +
			"COALESCE(SUM(CASE WHEN downloaded THEN COALESCE(NULLIF(disk_bytes, 0), size_bytes) ELSE 0 END), 0) AS downloaded_size").
		Scan(&s).Error
	return s, err
}
