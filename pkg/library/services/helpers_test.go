package services_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Humble Book Bundle - Go_", services.CleanName("Humble Book Bundle: Go+"))
	assert.Equal(t, "Café [Deluxe]", services.CleanName("Café [Deluxe]!?"))
	assert.Equal(t, "Volume 1", services.CleanName("  Volume 1...  "))
	assert.Equal(t, "", services.CleanName("???"))
}

func TestFileNameHelpers(t *testing.T) {
	assert.Equal(t, "book.pdf", services.FileNameFromURL("https://dl.test/a/book.pdf?ttl=1&t=abc"))
	assert.Equal(t, "my book.epub", services.FileNameFromURL("https://dl.test/my%20book.epub"))
	assert.Equal(t, "", services.FileNameFromURL(""))
	assert.Equal(t, "100%25 done.zip", services.FileNameFromURL("https://dl.test/100%2525%20done.zip"))
	assert.Equal(t, "https://dl.test/a/book.pdf", services.StripQuery("https://dl.test/a/book.pdf?ttl=1#x"))
	assert.Equal(t, "https://dl.test/a/book.pdf", services.StripQuery(services.StripQuery("https://dl.test/a/book.pdf?ttl=1")))
	assert.Equal(t, "pdf", services.ExtOf("Book.PDF"))
	assert.Equal(t, "", services.ExtOf("README"))
}

func TestExtractImage(t *testing.T) {
	t.Run("tile image wins", func(t *testing.T) {
		got := services.ExtractImage(map[string]any{
			"icon":       "https://img.test/icon.png",
			"tile_image": "https://img.test/tile.png",
		})
		assert.Equal(t, "https://img.test/tile.png", got)
	})
	t.Run("archives and torrents are rejected", func(t *testing.T) {
		got := services.ExtractImage(map[string]any{
			"tile_image": "https://dl.test/game.zip",
			"icon":       "https://dl.test/torrent/game.png",
			"image":      "https://dl.test/game.pdf.torrent",
			"cover":      "https://img.test/cover.jpg",
		})
		assert.Equal(t, "https://img.test/cover.jpg", got)
	})
	t.Run("relative values are skipped", func(t *testing.T) {
		assert.Equal(t, "", services.ExtractImage(map[string]any{"icon": "/static/icon.png"}))
	})
	t.Run("visuals map is scanned in descending key order", func(t *testing.T) {
		got := services.ExtractImage(map[string]any{
			"visuals": map[string]any{
				"a_small": "https://img.test/small.png",
				"b_large": "https://img.test/large.png",
			},
		})
		assert.Equal(t, "https://img.test/large.png", got)
	})
	t.Run("lists", func(t *testing.T) {
		got := services.ExtractImage(map[string]any{"thumbnail": []any{"", 3, "https://img.test/t.png"}})
		assert.Equal(t, "https://img.test/t.png", got)
	})
	assert.Equal(t, "", services.ExtractImage(nil))
}

func TestIsRejectedImage(t *testing.T) {
	for _, u := range []string{
		"https://dl.test/a.zip", "https://dl.test/a.RAR", "https://dl.test/a.tar.gz",
		"https://dl.test/a.7z?x=1", "https://dl.test/a.torrent", "https://dl.test/torrents/a.png",
	} {
		assert.True(t, services.IsRejectedImage(u), u)
	}
	assert.False(t, services.IsRejectedImage("https://img.test/a.png?size=zip"))
}

func TestExtractDescription(t *testing.T) {
	assert.Equal(t, "Body text", services.ExtractDescription(map[string]any{"description": "  ", "body": " Body text "}))
	assert.Equal(t, "Long", services.ExtractDescription(map[string]any{"long_description": "Long", "x": "y"}))
	assert.Equal(t, "", services.ExtractDescription(map[string]any{"description": 5}))
	assert.Equal(t, "", services.ExtractDescription(nil))
}

func TestHeuristicCategory(t *testing.T) {
	cases := []struct {
		name string
		in   services.HeuristicInput
		want string
		ok   bool
	}{
		{"extension", services.HeuristicInput{Ext: "EPUB", Platform: "windows"}, models.CategoryEbook, true},
		{"platform", services.HeuristicInput{Ext: "zip", Platform: "Windows"}, models.CategoryGame, true},
		{"key platform", services.HeuristicInput{Platform: "steam"}, models.CategoryKey, true},
		{"rpg maker before rpg", services.HeuristicInput{Title: "RPG Maker MZ tiles", Ext: "zip"}, models.CategoryRPGMaker, true},
		{"rpg", services.HeuristicInput{Title: "Fantasy RPG Starter", Ext: "zip"}, models.CategoryRPG, true},
		{"soundtrack", services.HeuristicInput{Title: "Original Soundtrack", Ext: "zip"}, models.CategoryAudio, true},
		{"word boundary", services.HeuristicInput{Title: "Bookkeeping Pro", Ext: "zip"}, "", false},
		{"nothing", services.HeuristicInput{Title: "Mystery", Ext: "bin"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := services.HeuristicCategory(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKeyLocks_SerializesSameKeyAndCleansUp(t *testing.T) {
	locks := services.NewKeyLocks()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("o1|a.pdf|ebook")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.Len())
}

func TestKeyLocks_DifferentKeysDoNotBlock(t *testing.T) {
	locks := services.NewKeyLocks()
	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
	assert.Equal(t, 1, locks.Len())
	unlockA()
	assert.Equal(t, 0, locks.Len())
}

func TestFlattenOrder(t *testing.T) {
	o := order("ORDER1", "Humble Book Bundle: Go+",
		subproduct("Go in Practice", "goinpractice", "ebook", map[string]any{"tile_image": "https://img.test/go.png"},
			"https://dl.test/go_in_practice.pdf?ttl=1", "https://dl.test/go_in_practice.epub?ttl=1"),
		subproduct("Go in Practice", "goinpractice", "ebook", nil, "https://dl.test/go_in_practice.pdf?ttl=2"),
	)
	o.Subproducts[0].Downloads[0].DownloadStruct[0].URL.BitTorrent = "https://dl.test/go_in_practice.pdf.torrent?ttl=1"
	o.TpkdDict.AllTpks = []storefront.Tpk{
		{MachineName: "game_steam", HumanName: "Game", KeyType: "Steam", RedeemedKeyVal: strPtr("AAAA-BBBB")},
		{HumanName: "Other Game", KeyType: ""},
	}

	records := services.FlattenOrder(o, config.Settings{})
	require.Len(t, records, 4)

	pdf := records[0]
	assert.Equal(t, "ORDER1", pdf.Asset.OrderID)
	assert.Equal(t, "Humble Book Bundle - Go_", pdf.Asset.BundleTitle)
	assert.Equal(t, "go_in_practice.pdf", pdf.Asset.FileName)
	assert.Equal(t, "ebook", pdf.Asset.Platform)
	assert.Equal(t, "pdf", pdf.Asset.Ext)
	assert.Equal(t, []string{"https://dl.test/go_in_practice.pdf", "https://dl.test/go_in_practice.pdf.torrent"}, []string(pdf.Asset.DownloadURLs))
	assert.Equal(t, "https://dl.test/go_in_practice.pdf?ttl=1", pdf.SignedURL)
	assert.Equal(t, "https://img.test/go.png", pdf.Payload["tile_image"])
	assert.False(t, pdf.IsKey())

	steam := records[2]
	assert.True(t, steam.IsKey())
	assert.Equal(t, "game_steam", steam.Asset.FileName)
	assert.Equal(t, "steam", steam.Asset.Platform)
	assert.Equal(t, "AAAA-BBBB", *steam.Asset.ActivationKey)
	assert.Empty(t, steam.Asset.DownloadURLs)

	unrevealed := records[3]
	assert.Equal(t, "Other Game", unrevealed.Asset.FileName)
	assert.Equal(t, "key", unrevealed.Asset.Platform)
	require.NotNil(t, unrevealed.Asset.ActivationKey)
	assert.Equal(t, "", *unrevealed.Asset.ActivationKey)
}

func TestFlattenOrder_Filters(t *testing.T) {
	o := order("ORDER1", "Bundle",
		subproduct("Game", "game", "windows", nil, "https://dl.test/game.exe"),
		subproduct("Game", "game", "linux", nil, "https://dl.test/game.tar.gz"),
		subproduct("Book", "book", "ebook", nil, "https://dl.test/book.pdf", "https://dl.test/book.mobi"),
	)
	s := config.Settings{Platforms: []string{"linux", "ebook"}, ExcludeExt: []string{"mobi"}}

	var names []string
	for _, r := range services.FlattenOrder(o, s) {
		names = append(names, r.Asset.FileName)
	}
	assert.Equal(t, []string{"game.tar.gz", "book.pdf"}, names)
	assert.Nil(t, services.FlattenOrder(nil, s))
}

func TestFlattenTrove(t *testing.T) {
	products := []storefront.TroveProduct{
		{
			HumanName:   "Broken Sword 5: the Serpents Curse",
			MachineName: "brokensword5",
			Raw:         map[string]any{"image": "https://img.test/bs5.png"},
			Downloads: map[string]storefront.TroveDownload{
				"windows": {MachineName: "bs5_windows", MD5: "aa", FileSize: 5120, URL: storefront.VariantURL{Web: "revolution/BS5-win32.zip"}},
				"mac":     {MachineName: "bs5_mac", URL: storefront.VariantURL{Web: "revolution/BS5-mac.dmg"}},
				"linux":   {MachineName: "bs5_linux"},
			},
		},
	}

	records := services.FlattenTrove(products, config.Settings{})
	require.Len(t, records, 2)
	mac, win := records[0], records[1]
	assert.Equal(t, "BS5-mac.dmg", mac.Asset.FileName)

	assert.Equal(t, models.TroveOrderID, win.Asset.OrderID)
	assert.Equal(t, models.TroveBundle, win.Asset.BundleTitle)
	assert.Equal(t, "Broken Sword 5 - the Serpents Curse", win.Asset.ProductTitle)
	assert.Equal(t, "BS5-win32.zip", win.Asset.FileName)
	assert.Equal(t, "windows", win.Asset.Platform)
	assert.Equal(t, int64(5120), win.Asset.SizeBytes)
	assert.Equal(t, "bs5_windows", win.Asset.SignName)
	assert.True(t, win.Asset.Trove)
	assert.Equal(t, []string{"revolution/BS5-win32.zip"}, []string(win.Asset.DownloadURLs))
	assert.Empty(t, win.SignedURL)
	assert.Equal(t, "https://img.test/bs5.png", win.Payload["image"])

	root := t.TempDir()
	assert.Equal(t, filepath.Join(root, "Humble Trove", "Broken Sword 5 - the Serpents Curse", "BS5-win32.zip"), services.AssetPath(root, &win.Asset))

	filtered := services.FlattenTrove(products, config.Settings{Platforms: []string{"mac"}})
	require.Len(t, filtered, 1)
	assert.Equal(t, "mac", filtered[0].Asset.Platform)
}
