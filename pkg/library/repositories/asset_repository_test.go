package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/humblevault/humblevault/pkg/library/database"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	return db
}

func seed(t *testing.T, repo repositories.AssetRepository, a models.Asset) models.Asset {
	t.Helper()
	created, err := repo.Create(context.Background(), &a)
	require.NoError(t, err)
	require.True(t, created)
	return a
}

func TestAssetRepository_CreateIsIdempotentOnNaturalKey(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))

	first := seed(t, repo, models.Asset{OrderID: "o1", FileName: "book.pdf", Platform: "ebook", ProductTitle: "Book"})
	assert.NotZero(t, first.ID)

	dup := models.Asset{OrderID: "o1", FileName: "book.pdf", Platform: "ebook", ProductTitle: "Other"}
	created, err := repo.Create(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.FindByKey(ctx, "o1", "book.pdf", "ebook")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Book", got.ProductTitle)
	assert.NotNil(t, got.DownloadURLs)

	missing, err := repo.FindByKey(ctx, "o1", "book.pdf", "windows")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAssetRepository_FillMetadataOnlyTouchesEmptyFields(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	a := seed(t, repo, models.Asset{OrderID: "o1", FileName: "a.zip", Platform: "windows", Description: "kept"})

	require.NoError(t, repo.FillMetadata(ctx, a.ID, models.Metadata{
		ImageURL:    "https://img/a.png",
		Description: "replacement",
		Category:    "game",
	}))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/a.png", got.ImageURL)
	assert.Equal(t, "kept", got.Description)
	assert.Equal(t, "game", got.Category)
}

func TestAssetRepository_OverwriteMetadataReplacesFieldSet(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	a := seed(t, repo, models.Asset{OrderID: "o1", FileName: "a.zip", Platform: "windows", Description: "old", Category: "other"})

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.OverwriteMetadata(ctx, a.ID, models.Metadata{Description: "new", Category: "game"}, now))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, "game", got.Category)
	assert.Equal(t, "", got.ImageURL)
	require.NotNil(t, got.EnrichedAt)
	assert.True(t, got.EnrichedAt.Equal(now))
}

func TestAssetRepository_TagsAreUniquePerAsset(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	a := seed(t, repo, models.Asset{OrderID: "o1", FileName: "a.pdf", Platform: "ebook"})

	require.NoError(t, repo.AddTags(ctx, a.ID, "ebook", " Ebook ", models.AIDescribedTag))
	require.NoError(t, repo.AddTags(ctx, a.ID, "ebook"))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ebook", models.AIDescribedTag}, got.TagNames())

	require.NoError(t, repo.ReplaceTags(ctx, a.ID, []string{"favourite"}))
	got, err = repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"favourite"}, got.TagNames())
}

func TestAssetRepository_ListForReenrichmentOrdering(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := repositories.NewAssetRepository(db)

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := seed(t, repo, models.Asset{OrderID: "o", FileName: "a", Platform: "p", EnrichedAt: &newer})
	b := seed(t, repo, models.Asset{OrderID: "o", FileName: "b", Platform: "p"})
	c := seed(t, repo, models.Asset{OrderID: "o", FileName: "c", Platform: "p", EnrichedAt: &old})
	d := seed(t, repo, models.Asset{OrderID: "o", FileName: "d", Platform: "p", EnrichedAt: &old})
	e := seed(t, repo, models.Asset{OrderID: "o", FileName: "e", Platform: "p"})

	ids, err := repo.ListForReenrichment(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID, e.ID, c.ID, d.ID, a.ID}, ids)

	ids, err = repo.ListForReenrichment(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID, e.ID, c.ID}, ids)
}

func TestAssetRepository_ListAssetsFilters(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	book := seed(t, repo, models.Asset{OrderID: "o1", BundleTitle: "Book Bundle", ProductTitle: "Zebra Tales", FileName: "zebra.epub", Platform: "ebook", Ext: "epub", Category: "ebook"})
	game := seed(t, repo, models.Asset{OrderID: "o2", BundleTitle: "Game Bundle", ProductTitle: "Alpha Quest", FileName: "alpha.exe", Platform: "windows", Ext: "exe", Category: "game", Downloaded: true})
	require.NoError(t, repo.AddTags(ctx, book.ID, "rpg"))

	str := func(s string) *string { return &s }
	yes := true

	got, pag, err := repo.ListAssets(ctx, &models.ListAssetsParams{Category: str("rpg")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, book.ID, got[0].ID)
	assert.Equal(t, 1, pag.TotalRecords)

	got, _, err = repo.ListAssets(ctx, &models.ListAssetsParams{Q: str("QUEST")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, game.ID, got[0].ID)

	got, _, err = repo.ListAssets(ctx, &models.ListAssetsParams{Downloaded: &yes})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, game.ID, got[0].ID)

	got, _, err = repo.ListAssets(ctx, &models.ListAssetsParams{Ext: str(".EPUB"), Bundle: str("Book Bundle")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, book.ID, got[0].ID)

	got, _, err = repo.ListAssets(ctx, &models.ListAssetsParams{Sort: models.SortAlpha})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alpha Quest", got[0].ProductTitle)

	got, pag, err = repo.ListAssets(ctx, &models.ListAssetsParams{Page: 2, PerPage: 1, Sort: models.SortAlpha})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Zebra Tales", got[0].ProductTitle)
	assert.Equal(t, 2, pag.TotalPages)
	require.NotNil(t, pag.Previous)
	assert.Nil(t, pag.Next)
}

func TestAssetRepository_SearchMatchesWildcardsLiterally(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	sale := seed(t, repo, models.Asset{OrderID: "o1", ProductTitle: "100% Orange Juice", FileName: "juice.zip", Platform: "windows"})
	snake := seed(t, repo, models.Asset{OrderID: "o1", ProductTitle: "Snake", FileName: "snake_case.pdf", Platform: "ebook"})
	seed(t, repo, models.Asset{OrderID: "o1", ProductTitle: "Plain", FileName: "snakeXcase.pdf", Platform: "ebook"})
	seed(t, repo, models.Asset{OrderID: "o1", ProductTitle: "1000 Orange", FileName: "orange.zip", Platform: "windows"})

	str := func(s string) *string { return &s }

	got, _, err := repo.ListAssets(ctx, &models.ListAssetsParams{Q: str("100%")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sale.ID, got[0].ID)

	got, _, err = repo.ListAssets(ctx, &models.ListAssetsParams{Q: str("snake_case")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, snake.ID, got[0].ID)

	got, _, err = repo.ListAssets(ctx, &models.ListAssetsParams{Q: str(`\`)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAssetRepository_HighlightQueries(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	for i, name := range []string{"a", "b", "c"} {
		seed(t, repo, models.Asset{OrderID: "o", FileName: name, Platform: "ebook", Category: "ebook", Downloaded: i < 2})
	}
	seed(t, repo, models.Asset{OrderID: "o", FileName: "g", Platform: "windows", Category: "game", Downloaded: true})

	top, err := repo.TopCategories(ctx, 6)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "ebook", top[0].Category)
	assert.Equal(t, 2, top[0].Count)
	assert.Equal(t, "game", top[1].Category)

	recent, err := repo.RecentDownloaded(ctx, "ebook", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	counts, err := repo.CategoryCounts(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, models.CategoryCount{Category: "ebook", Count: 3, Downloaded: 2}, counts[0])
}

func TestAssetRepository_DownloadState(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	a := seed(t, repo, models.Asset{OrderID: "o", FileName: "f.zip", Platform: "windows", DownloadURLs: []string{"https://cdn/f.zip"}})
	seed(t, repo, models.Asset{OrderID: "o", FileName: "key", Platform: "steam"})

	missing, err := repo.ListMissing(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, a.ID, missing[0].ID)

	require.NoError(t, repo.SetDownloadError(ctx, a.ID, "boom"))
	got, _ := repo.GetByID(ctx, a.ID)
	require.NotNil(t, got.DownloadError)
	assert.Equal(t, "boom", *got.DownloadError)

	require.NoError(t, repo.MarkDownloaded(ctx, a.ID, 42))
	got, _ = repo.GetByID(ctx, a.ID)
	assert.True(t, got.Downloaded)
	assert.Nil(t, got.DownloadError)
	assert.Equal(t, int64(42), got.DiskBytes)
	assert.Zero(t, got.SizeBytes, "remote size is left alone")

	missing, err = repo.ListMissing(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestAssetRepository_Purchases(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	key := "K"
	seed(t, repo, models.Asset{OrderID: "old", BundleTitle: "Old Bundle", FileName: "a.pdf", Platform: "ebook", SizeBytes: 10, Downloaded: true})
	seed(t, repo, models.Asset{OrderID: "old", BundleTitle: "Old Bundle", FileName: "b.pdf", Platform: "ebook", SizeBytes: 5})
	seed(t, repo, models.Asset{OrderID: "old", BundleTitle: "Old Bundle", FileName: "game_steam", Platform: "steam", ActivationKey: &key})
	seed(t, repo, models.Asset{OrderID: "new", BundleTitle: "New Bundle", FileName: "c.zip", Platform: "windows", SizeBytes: 7})
	seed(t, repo, models.Asset{OrderID: models.TroveOrderID, BundleTitle: models.TroveBundle, FileName: "t.zip", Platform: "windows", Trove: true})

	got, err := repo.Purchases(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.PurchaseSummary{
		{OrderId: "new", BundleTitle: "New Bundle", FileCount: 1, SizeBytes: 7},
		{OrderId: "old", BundleTitle: "Old Bundle", FileCount: 2, KeyCount: 1, Downloaded: 1, SizeBytes: 15},
	}, got)

	got, err = repo.Purchases(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].OrderId)
}

func TestAssetRepository_StatsPreferDiskSize(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewAssetRepository(setupDB(t))
	a := seed(t, repo, models.Asset{OrderID: "o", FileName: "a.zip", Platform: "windows", SizeBytes: 100})
	seed(t, repo, models.Asset{OrderID: "o", FileName: "b.zip", Platform: "windows", SizeBytes: 50, Downloaded: true})
	require.NoError(t, repo.MarkDownloaded(ctx, a.ID, 120))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 150, stats.TotalBytes)
	assert.EqualValues(t, 170, stats.DownloadedSize)
}

func TestAssetRepository_StatsOnEmptyStore(t *testing.T) {
	repo := repositories.NewAssetRepository(setupDB(t))
	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.LibraryStats{}, stats)
}

func TestSettingsRepository_SaveUpserts(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewSettingsRepository(setupDB(t))

	require.NoError(t, repo.Save(ctx, map[string]string{"library_path": "/a", "ai_model": "m"}))
	require.NoError(t, repo.Save(ctx, map[string]string{"library_path": "/b"}))

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"library_path": "/b", "ai_model": "m"}, all)
}
