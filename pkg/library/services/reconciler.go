package services

import (
	"context"
	"os"
	"path/filepath"

	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/events"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/sirupsen/logrus"
)

// Reconciler makes the downloaded flag follow what is on disk.
type Reconciler struct {
	repo     repositories.AssetRepository
	settings *config.Store
	locks    *KeyLocks
	log      *logrus.Entry
}

func NewReconciler(repo repositories.AssetRepository, settings *config.Store, locks *KeyLocks) *Reconciler {
	return &Reconciler{
		repo:     repo,
		settings: settings,
		locks:    locks,
		log:      logrus.WithField("component", "reconciler"),
	}
}

// AssetPath is where a download of a lands: <root>/<bundle>/<product>/<file>.
func AssetPath(root string, a *models.Asset) string {
	return filepath.Join(root, dirName(a.BundleTitle), dirName(a.ProductTitle), a.FileName)
}

// LegacyAssetPath is the flatter layout of older downloads: <root>/<product>/<file>.
func LegacyAssetPath(root string, a *models.Asset) string {
	return filepath.Join(root, dirName(a.ProductTitle), a.FileName)
}

func dirName(title string) string {
	if n := CleanName(title); n != "" {
		return n
	}
	return "_"
}

// Locate returns the first candidate path holding a non-empty regular file.
func Locate(root string, a *models.Asset) (string, bool) {
	if root == "" || a.FileName == "" {
		return "", false
	}
	for _, p := range []string{AssetPath(root, a), LegacyAssetPath(root, a)} {
		if present(p) {
			return p, true
		}
	}
	return "", false
}

func present(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Exists reports whether the asset's file is on disk under the configured library.
func (rc *Reconciler) Exists(a *models.Asset) bool {
	_, ok := Locate(rc.settings.Get().LibraryPath, a)
	return ok
}

// Reconcile checks every asset that has a download URL and corrects its flag
// in either direction. Each correction happens under the asset's key lock and
// is re-checked there, so it cannot undo a concurrent download.
func (rc *Reconciler) Reconcile(ctx context.Context) (models.ReconcileResult, error) {
	var res models.ReconcileResult
	root := rc.settings.Get().LibraryPath
	if root == "" {
		return res, ErrNotConfigured
	}
	assets, err := rc.repo.ListWithURLs(ctx)
	if err != nil {
		return res, err
	}

	for i := range assets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a := &assets[i]
		res.Checked++
		_, onDisk := Locate(root, a)
		if onDisk == a.Downloaded {
			continue
		}

		changed, err := rc.correct(ctx, root, a)
		if err != nil {
			res.WriteFailed++
			rc.log.WithError(err).WithField("asset", a.ID).Warn("could not update downloaded flag")
			continue
		}
		switch changed {
		case 1:
			res.MarkedTrue++
		case -1:
			res.MarkedFalse++
		}
	}

	rc.log.WithFields(logrus.Fields{
		events.Field:       events.TypeReconcile,
		"checked":          res.Checked,
		"markedDownloaded": res.MarkedTrue,
		"markedMissing":    res.MarkedFalse,
	}).Info("disk reconciliation complete")
	return res, nil
}

// correct re-reads the asset under its lock and writes the disk truth.
// It returns +1 when marked downloaded, -1 when marked missing, 0 otherwise.
func (rc *Reconciler) correct(ctx context.Context, root string, a *models.Asset) (int, error) {
	unlock := rc.locks.Lock(a.Key())
	defer unlock()

	cur, err := rc.repo.GetByID(ctx, a.ID)
	if err != nil || cur == nil {
		return 0, err
	}
	_, onDisk := Locate(root, cur)
	if onDisk == cur.Downloaded {
		return 0, nil
	}
	if err := rc.repo.SetDownloaded(ctx, cur.ID, onDisk); err != nil {
		return 0, err
	}
	if onDisk {
		return 1, nil
	}
	return -1, nil
}
