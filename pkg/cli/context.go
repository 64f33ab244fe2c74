package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/database"
	"github.com/humblevault/humblevault/pkg/library/events"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/sirupsen/logrus"
)

const lockFileName = "humblevault.lock"

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("another humblevault process is using the data directory")

type globalOptions struct {
	envFile  string
	logLevel string
	noColor  bool
}

type commandContext struct {
	opts *globalOptions

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(opts *globalOptions) *commandContext {
	return &commandContext{opts: opts}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		var files []string
		if c.opts != nil && strings.TrimSpace(c.opts.envFile) != "" {
			files = append(files, c.opts.envFile)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			c.configErr = err
			return
		}
		if c.opts != nil && c.opts.logLevel != "" {
			cfg.LogLevel = c.opts.logLevel
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// app is one opened library: database, live settings, event bus and service.
type app struct {
	cfg      config.Config
	bus      *events.Bus
	settings *config.Store
	service  *services.LibraryService
	db       *sql.DB
	lock     *flock.Flock
}

// openApp loads the configuration, takes the data-directory lock and wires
// the library service. ctx is the parent of background work.
func (c *commandContext) openApp(ctx context.Context) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(events.DefaultRingSize)
	if err := setupLogging(cfg.LogLevel, cfg.LogFormat, bus); err != nil {
		return nil, err
	}

	lock, err := acquireLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("database handle: %w", err)
	}
	a := &app{cfg: cfg, bus: bus, db: sqlDB, lock: lock}

	store := config.NewStore(cfg.Settings, repositories.NewSettingsRepository(db))
	if err := store.Load(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	svc := services.NewLibraryService(repositories.NewAssetRepository(db), store, bus, services.Deps{Context: ctx})
	logrus.WithFields(logrus.Fields{
		"component":  "cli",
		"dataDir":    cfg.DataDir,
		"configured": store.Get().Ready(),
	}).Debug("library opened")

	a.settings = store
	a.service = svc
	return a, nil
}

// Close releases the database handle, then the data-directory lock.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}
	if a.lock != nil {
		errs = append(errs, a.lock.Unlock())
		a.lock = nil
	}
	return errors.Join(errs...)
}

// acquireLock takes the advisory lock guarding dataDir.
func acquireLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lockPath := filepath.Join(dataDir, lockFileName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, lockPath)
	}
	return lock, nil
}
