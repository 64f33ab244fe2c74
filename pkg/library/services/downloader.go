package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/events"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var ErrDownloadRunning = errors.New("a download batch is already running")

// FetcherFactory builds the client that streams files for the current settings.
type FetcherFactory func(s config.Settings) storefront.Fetcher

func DefaultFetcherFactory(s config.Settings) storefront.Fetcher {
	return storefront.NewClient(storefront.Config{BaseURL: s.StorefrontURL, Credential: s.SessionCookie})
}

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeCancelled
)

const defaultProgressInterval = 2 * time.Second

// Downloader fetches every asset that is not on disk yet.
type Downloader struct {
	repo     repositories.AssetRepository
	settings *config.Store
	locks    *KeyLocks
	catalogs CatalogFactory
	fetchers FetcherFactory
	bus      *events.Bus
	log      *logrus.Entry

	progressInterval time.Duration
	running          atomic.Bool
}

func NewDownloader(
	repo repositories.AssetRepository,
	settings *config.Store,
	locks *KeyLocks,
	catalogs CatalogFactory,
	fetchers FetcherFactory,
	bus *events.Bus,
) *Downloader {
	if catalogs == nil {
		catalogs = DefaultCatalogFactory
	}
	if fetchers == nil {
		fetchers = DefaultFetcherFactory
	}
	return &Downloader{
		repo:             repo,
		settings:         settings,
		locks:            locks,
		catalogs:         catalogs,
		fetchers:         fetchers,
		bus:              bus,
		log:              logrus.WithField("component", "downloader"),
		progressInterval: defaultProgressInterval,
	}
}

func (d *Downloader) Running() bool { return d.running.Load() }

// DownloadAll runs one batch over every asset with downloaded=false and a
// URL, using DownloadWorkers goroutines fed from a queue.
func (d *Downloader) DownloadAll(ctx context.Context) (models.DownloadResult, error) {
	var res models.DownloadResult
	if !d.running.CompareAndSwap(false, true) {
		return res, ErrDownloadRunning
	}
	defer d.running.Store(false)

	s := d.settings.Get()
	if !s.Ready() {
		return res, ErrNotConfigured
	}
	assets, err := d.repo.ListMissing(ctx)
	if err != nil {
		return res, err
	}
	res.Queued = len(assets)
	if len(assets) == 0 {
		return res, nil
	}

	b := &batch{
		Downloader: d,
		root:       s.LibraryPath,
		fetcher:    d.fetchers(s),
		resolver:   newURLResolver(d.catalogs(s)),
	}

	workers := s.DownloadWorkers
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan *models.Asset)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				o := b.one(ctx, a)
				mu.Lock()
				switch o {
				case outcomeDownloaded:
					res.Downloaded++
				case outcomeSkipped:
					res.Skipped++
				case outcomeFailed:
					res.Failed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range assets {
		select {
		case jobs <- &assets[i]:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	d.log.WithFields(logrus.Fields{
		"queued":     res.Queued,
		"downloaded": res.Downloaded,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
	}).Info("download batch finished")
	return res, ctx.Err()
}

type batch struct {
	*Downloader
	root     string
	fetcher  storefront.Fetcher
	resolver *urlResolver
}

// one downloads a single asset. The key lock is held while the disk and the
// row are checked and again while the finished file is moved into place, but
// not during the transfer itself.
func (b *batch) one(ctx context.Context, queued *models.Asset) outcome {
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	log := b.log.WithFields(logrus.Fields{"asset": queued.ID, "file": queued.FileName})

	unlock := b.locks.Lock(queued.Key())
	a, skip := b.check(ctx, queued.ID, log)
	unlock()
	if a == nil {
		return skip
	}

	src, err := b.resolver.resolve(ctx, a)
	if err == nil && src == "" {
		err = errors.New("no downloadable URL")
	}
	if err != nil {
		b.withLock(a, func() { b.recordFailure(ctx, log, a, err) })
		return outcomeFailed
	}

	log.WithField(events.Field, events.TypeDownloadStart).Infof("downloading %s", a.FileName)
	tmp, n, err := b.transfer(ctx, src, a)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("download cancelled")
			return outcomeCancelled
		}
		b.withLock(a, func() { b.recordFailure(ctx, log, a, err) })
		return outcomeFailed
	}
	defer os.Remove(tmp)

	unlock = b.locks.Lock(a.Key())
	defer unlock()
	fresh, skip := b.check(ctx, a.ID, log)
	if fresh == nil {
		return skip
	}
	target := AssetPath(b.root, fresh)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		b.recordFailure(ctx, log, fresh, fmt.Errorf("create directory: %w", err))
		return outcomeFailed
	}
	if err := os.Rename(tmp, target); err != nil {
		b.recordFailure(ctx, log, fresh, fmt.Errorf("move into place: %w", err))
		return outcomeFailed
	}
	if err := b.repo.MarkDownloaded(ctx, fresh.ID, n); err != nil {
		log.WithError(err).Warn("downloaded file but could not update the asset")
	}
	log.WithFields(logrus.Fields{events.Field: events.TypeDownloadComplete, "bytes": n}).
		Infof("downloaded %s (%s)", fresh.FileName, humanize.Bytes(uint64(n)))
	return outcomeDownloaded
}

// check re-reads the asset and looks for it on disk. It returns nil with the
// outcome to report when there is nothing to download. Callers hold the key
// lock.
func (b *batch) check(ctx context.Context, id uint, log *logrus.Entry) (*models.Asset, outcome) {
	a, err := b.repo.GetByID(ctx, id)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, outcomeCancelled
	case err != nil:
		log.WithError(err).Warn("could not load asset")
		return nil, outcomeFailed
	case a == nil:
		return nil, outcomeSkipped
	}
	if p, ok := Locate(b.root, a); ok {
		var size int64
		if info, err := os.Stat(p); err == nil {
			size = info.Size()
		}
		if err := b.repo.MarkDownloaded(ctx, a.ID, size); err != nil {
			log.WithError(err).Warn("could not mark existing file as downloaded")
		}
		return nil, outcomeSkipped
	}
	return a, outcomeDownloaded
}

func (b *batch) withLock(a *models.Asset, fn func()) {
	unlock := b.locks.Lock(a.Key())
	defer unlock()
	fn()
}

func (b *batch) recordFailure(ctx context.Context, log *logrus.Entry, a *models.Asset, cause error) {
	if err := b.repo.SetDownloadError(ctx, a.ID, cause.Error()); err != nil {
		log.WithError(err).Warn("could not record download error")
	}
	log.WithError(cause).WithField(events.Field, events.TypeDownloadFailed).Warnf("download of %s failed", a.FileName)
}

// transfer streams src into a hidden temp file under the library root and
// returns its path once the byte count checks out. The caller moves it into
// place.
func (b *batch) transfer(ctx context.Context, src string, a *models.Asset) (string, int64, error) {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return "", 0, fmt.Errorf("create library directory: %w", err)
	}

	resp, err := b.fetcher.Fetch(ctx, src)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(b.root, "."+a.FileName+".*.part")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	keep := false
	defer func() {
		if !keep {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	pr := &progressReader{
		r:        resp.Body,
		total:    resp.ContentLength,
		interval: b.progressInterval,
		emit:     func(done, total int64) { b.progress(a, done, total) },
	}
	n, err := io.Copy(tmp, pr)
	if err != nil {
		return "", n, fmt.Errorf("write %s: %w", a.FileName, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return "", n, fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	if n == 0 {
		return "", 0, errors.New("empty response body")
	}
	if err := tmp.Close(); err != nil {
		return "", n, fmt.Errorf("close temp file: %w", err)
	}
	keep = true
	return tmp.Name(), n, nil
}

func (d *Downloader) progress(a *models.Asset, done, total int64) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.Event{
		Type:    events.TypeDownloadProgress,
		Level:   logrus.InfoLevel.String(),
		Message: a.FileName,
		Data:    map[string]any{"asset": a.ID, "bytes": done, "total": total},
	})
}

type progressReader struct {
	r        io.Reader
	done     int64
	total    int64
	interval time.Duration
	last     time.Time
	emit     func(done, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.done += int64(n)
	if now := time.Now(); now.Sub(p.last) >= p.interval || err == io.EOF {
		p.last = now
		p.emit(p.done, p.total)
	}
	return n, err
}

// urlResolver prefers the freshly signed URL from the live order over the
// stored, query-less one. Orders are fetched once per batch.
type urlResolver struct {
	catalog storefront.Catalog
	group   singleflight.Group

	mu     sync.Mutex
	orders map[string]map[string]string
}

func newURLResolver(catalog storefront.Catalog) *urlResolver {
	return &urlResolver{catalog: catalog, orders: make(map[string]map[string]string)}
}

func (r *urlResolver) resolve(ctx context.Context, a *models.Asset) (string, error) {
	if a.Trove {
		return r.signTrove(ctx, a)
	}
	if signed := r.signed(ctx, a); signed != "" {
		return signed, nil
	}
	for _, u := range a.DownloadURLs {
		if u = strings.TrimSpace(u); u != "" && !isTorrentURL(u) {
			return u, nil
		}
	}
	return "", nil
}

// signTrove asks the storefront for a short-lived URL of a Trove file.
func (r *urlResolver) signTrove(ctx context.Context, a *models.Asset) (string, error) {
	trove, ok := r.catalog.(storefront.TroveCatalog)
	if !ok {
		return "", errors.New("storefront client cannot sign Trove downloads")
	}
	if !a.HasDownloadURL() || a.SignName == "" {
		return "", nil
	}
	return trove.SignTroveDownload(ctx, a.SignName, FileNameFromURL(a.DownloadURLs[0]))
}

func (r *urlResolver) signed(ctx context.Context, a *models.Asset) string {
	if r.catalog == nil || a.OrderID == "" {
		return ""
	}
	r.mu.Lock()
	urls, ok := r.orders[a.OrderID]
	r.mu.Unlock()
	if !ok {
		v, _, _ := r.group.Do(a.OrderID, func() (any, error) {
			m := map[string]string{}
			if o, err := r.catalog.Order(ctx, a.OrderID); err == nil {
				for _, rec := range FlattenOrder(o, config.Settings{}) {
					m[rec.Key()] = rec.SignedURL
				}
			}
			r.mu.Lock()
			r.orders[a.OrderID] = m
			r.mu.Unlock()
			return m, nil
		})
		urls = v.(map[string]string)
	}
	return urls[a.Key()]
}

func isTorrentURL(u string) bool {
	p := strings.ToLower(StripQuery(u))
	return strings.HasSuffix(p, ".torrent") || strings.Contains(p, "/torrent")
}
