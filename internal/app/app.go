package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bookshelf/pkg/auth"
	"bookshelf/pkg/imagestore"
	"bookshelf/pkg/policy"
	"bookshelf/pkg/storage"
	"bookshelf/pkg/store"
)

const (
	BackendFilesystem = "filesystem"
	BackendMinio      = "minio"
)

// Page sizes of the listings.
const (
	BooksPerPage       = 9
	ReviewsPerPage     = 5
	CollectionsPerPage = 4
	LatestReviews      = 5
)

// Config holds runtime configuration for the core application. Store, Objects,
// Revoker and Policy may be injected; otherwise they are built from the rest.
type Config struct {
	DatabaseDriver string
	DatabaseURL    string
	Store          store.Store

	StorageBackend string
	UploadFolder   string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore

	SessionSecret string
	SessionTTL    time.Duration
	RedisAddr     string
	RedisPassword string
	Revoker       auth.TokenRevoker

	Policy *policy.Engine
}

// App is the core application service wiring together storage, sessions and
// the permission engine.
type App struct {
	store    store.Store
	images   *imagestore.Store
	sessions *auth.Sessions
	policy   *policy.Engine
	validate *validator
	now      func() time.Time
	closers  []io.Closer
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	a := &App{now: func() time.Time { return time.Now().UTC() }}

	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("database URL required")
		}
		gs, err := store.NewGormStore(store.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		dataStore = gs
		a.closers = append(a.closers, gs)
	}

	objects := cfg.Objects
	if objects == nil {
		var err error
		switch cfg.StorageBackend {
		case "", BackendFilesystem:
			objects, err = storage.NewFileStore(cfg.UploadFolder)
		case BackendMinio:
			objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		default:
			err = fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
		}
		if err != nil {
			return nil, fmt.Errorf("init object storage: %w", err)
		}
	}

	revoker := cfg.Revoker
	if revoker == nil {
		if strings.TrimSpace(cfg.RedisAddr) != "" {
			rr := auth.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
			revoker = rr
			a.closers = append(a.closers, rr)
		} else {
			revoker = auth.NewMemoryTokenRevoker()
		}
	}
	sessions, err := auth.NewSessions(cfg.SessionSecret, revoker, auth.SessionOptions{TTL: cfg.SessionTTL})
	if err != nil {
		return nil, fmt.Errorf("init sessions: %w", err)
	}

	engine := cfg.Policy
	if engine == nil {
		engine, err = policy.New()
		if err != nil {
			return nil, fmt.Errorf("init policy: %w", err)
		}
	}

	a.store = dataStore
	a.images = imagestore.New(dataStore, objects)
	a.sessions = sessions
	a.policy = engine
	a.validate = newValidator()
	return a, nil
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionTTL is the lifetime of login tokens.
func (a *App) SessionTTL() time.Duration {
	return a.sessions.TTL()
}

// Can exposes the permission engine to transports that render controls.
func (a *App) Can(who policy.Identity, action policy.Action, target policy.Owned) bool {
	return a.policy.Can(who, action, target)
}

func (a *App) guard(who policy.Identity, action policy.Action, target policy.Owned) error {
	if !a.policy.Can(who, action, target) {
		return ErrForbidden
	}
	return nil
}
