package services_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func downloadable(order, file string) models.Asset {
	return models.Asset{
		OrderID:      order,
		FileName:     file,
		Platform:     "ebook",
		BundleTitle:  "Bundle: One",
		ProductTitle: "Product+",
		DownloadURLs: []string{"https://dl.test/" + file},
	}
}

func TestAssetPath(t *testing.T) {
	a := downloadable("o1", "book.pdf")
	assert.Equal(t, filepath.Join("/lib", "Bundle - One", "Product_", "book.pdf"), services.AssetPath("/lib", &a))
	assert.Equal(t, filepath.Join("/lib", "Product_", "book.pdf"), services.LegacyAssetPath("/lib", &a))

	untitled := models.Asset{FileName: "x.bin"}
	assert.Equal(t, filepath.Join("/lib", "_", "_", "x.bin"), services.AssetPath("/lib", &untitled))
}

func TestReconciler_CorrectsBothDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	onDisk := f.seed(t, downloadable("o1", "present.pdf"))
	gone := downloadable("o1", "gone.pdf")
	gone.Downloaded = true
	gone = f.seed(t, gone)
	keyOnly := f.seed(t, models.Asset{OrderID: "o1", FileName: "game_steam", Platform: "steam", Downloaded: true, ActivationKey: strPtr("")})
	f.writeFile(t, &onDisk, "content")

	res, err := f.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked, "assets without URLs are not considered")
	assert.Equal(t, 1, res.MarkedTrue)
	assert.Equal(t, 1, res.MarkedFalse)
	assert.Equal(t, 2, res.Changed())

	assert.True(t, f.get(t, onDisk.ID).Downloaded)
	assert.False(t, f.get(t, gone.ID).Downloaded)
	assert.True(t, f.get(t, keyOnly.ID).Downloaded)

	again, err := f.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Changed())
}

func TestReconciler_LegacyPathAndEmptyFiles(t *testing.T) {
	f := newFixture(t)
	legacy := f.seed(t, downloadable("o1", "legacy.pdf"))
	empty := f.seed(t, downloadable("o1", "empty.pdf"))

	p := services.LegacyAssetPath(f.root, &legacy)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	f.writeFile(t, &empty, "")

	dir := services.AssetPath(f.root, &models.Asset{BundleTitle: "Bundle: One", ProductTitle: "Product+", FileName: "dir.pdf"})
	require.NoError(t, os.MkdirAll(dir, 0o755))
	asDir := f.seed(t, downloadable("o1", "dir.pdf"))

	_, err := f.reconciler().Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, f.get(t, legacy.ID).Downloaded)
	assert.False(t, f.get(t, empty.ID).Downloaded)
	assert.False(t, f.get(t, asDir.ID).Downloaded)

	assert.True(t, f.reconciler().Exists(&legacy))
	assert.False(t, f.reconciler().Exists(&empty))
}

func TestReconciler_RequiresLibraryPath(t *testing.T) {
	f := newFixture(t)
	f.store = config.NewStore(config.Settings{SessionCookie: "x"}, nil)
	_, err := f.reconciler().Reconcile(context.Background())
	assert.ErrorIs(t, err, services.ErrNotConfigured)
}

func TestReconciler_HonoursCancellation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, downloadable("o1", "a.pdf"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.reconciler().Reconcile(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
