// Package imagestore saves uploaded images by content hash so identical bytes are
// stored once, whatever their file name.
package imagestore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"bookshelf/pkg/domain"
	"bookshelf/pkg/storage"
	"bookshelf/pkg/store"
)

// ErrNotFound is returned when an image id has no descriptor or no blob.
var ErrNotFound = errors.New("image not found")

// DefaultOrphanMinAge is how old an unreferenced blob must be before Reconcile
// reports it. Younger blobs may belong to a save whose row has not committed yet.
const DefaultOrphanMinAge = time.Hour

// ReconcileOptions controls Reconcile.
type ReconcileOptions struct {
	Remove bool
	MinAge time.Duration
}

// Store coordinates image descriptors in the database with blobs in object storage.
type Store struct {
	db      store.Store
	objects storage.ObjectStore
	group   singleflight.Group
	now     func() time.Time
}

// New wires an image store.
func New(db store.Store, objects storage.ObjectStore) *Store {
	return &Store{db: db, objects: objects, now: func() time.Time { return time.Now().UTC() }}
}

// Save returns the descriptor for data, writing a blob and a row only when the
// content hash is new. Concurrent saves of the same bytes inside this process are
// coalesced; across processes the unique hash column decides the winner.
func (s *Store) Save(ctx context.Context, data []byte, filename, mimeType string) (domain.Image, error) {
	if len(data) == 0 {
		return domain.Image{}, errors.New("image is empty")
	}
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	// The shared save outlives any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(hash, func() (any, error) {
		return s.save(shared, data, hash, filename, mimeType)
	})
	if err != nil {
		return domain.Image{}, err
	}
	return v.(domain.Image), nil
}

func (s *Store) save(ctx context.Context, data []byte, hash, filename, mimeType string) (domain.Image, error) {
	existing, ok, err := s.db.GetImageByHash(ctx, hash)
	if err != nil {
		return domain.Image{}, fmt.Errorf("lookup image hash: %w", err)
	}
	if ok {
		return existing, nil
	}

	filename = SanitizeFilename(filename)
	img := domain.Image{
		ID:        uuid.NewString(),
		FileName:  filename,
		MimeType:  detectMimeType(data, filename, mimeType),
		MD5Hash:   hash,
		CreatedAt: s.now(),
	}
	key := img.StorageKey()
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), img.MimeType); err != nil {
		return domain.Image{}, fmt.Errorf("store image blob: %w", err)
	}
	err = s.db.InTx(ctx, func(tx store.Store) error {
		return tx.CreateImage(ctx, img)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Another writer committed the same content first; our blob is unreferenced.
		if delErr := s.objects.Delete(ctx, key); delErr != nil {
			slog.Warn("image race: failed to delete losing blob", "key", key, "err", delErr)
		}
		winner, ok, lookupErr := s.db.GetImageByHash(ctx, hash)
		if lookupErr != nil {
			return domain.Image{}, fmt.Errorf("lookup image hash: %w", lookupErr)
		}
		if !ok {
			return domain.Image{}, fmt.Errorf("image hash %s conflicted but no row found", hash)
		}
		return winner, nil
	}
	if err != nil {
		// The commit outcome is unknown, so the blob is left for reconciliation.
		slog.Warn("image metadata commit failed; blob may be orphaned", "key", key, "err", err)
		return domain.Image{}, fmt.Errorf("save image record: %w", err)
	}
	return img, nil
}

// Open returns the descriptor and a reader over the blob for id.
func (s *Store) Open(ctx context.Context, id string) (domain.Image, io.ReadCloser, error) {
	img, ok, err := s.db.GetImage(ctx, id)
	if err != nil {
		return domain.Image{}, nil, fmt.Errorf("get image: %w", err)
	}
	if !ok {
		return domain.Image{}, nil, ErrNotFound
	}
	rc, err := s.objects.Get(ctx, img.StorageKey())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Image{}, nil, ErrNotFound
	}
	if err != nil {
		return domain.Image{}, nil, err
	}
	return img, rc, nil
}

// RemoveBlob deletes the blob of an image whose row is already gone.
func (s *Store) RemoveBlob(ctx context.Context, img domain.Image) error {
	return s.objects.Delete(ctx, img.StorageKey())
}

// Reconcile lists blobs that no image row references and that are at least
// opts.MinAge old. With opts.Remove set they are deleted as well.
func (s *Store) Reconcile(ctx context.Context, opts ReconcileOptions) ([]string, error) {
	// Blobs are listed before rows so a save that commits in between is seen as known.
	objects, err := s.objects.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	images, err := s.db.ListImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	known := make(map[string]struct{}, len(images))
	for _, img := range images {
		known[img.StorageKey()] = struct{}{}
	}
	cutoff := s.now().Add(-opts.MinAge)
	var orphans []string
	for _, obj := range objects {
		if _, ok := known[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		orphans = append(orphans, obj.Key)
		if opts.Remove {
			if err := s.objects.Delete(ctx, obj.Key); err != nil {
				return orphans, fmt.Errorf("delete orphan %s: %w", obj.Key, err)
			}
		}
	}
	return orphans, nil
}

// SanitizeFilename keeps the base name, drops characters outside [A-Za-z0-9._-]
// and turns spaces into underscores. The extension survives even when the stem
// is emptied.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	ext := filepath.Ext(name)
	stem := strings.Trim(keepSafe(strings.TrimSuffix(name, ext)), "._")
	ext = keepSafe(ext)
	if ext == "." || len(ext) > 10 {
		ext = ""
	}
	if stem == "" {
		stem = "image"
	}
	if len(stem)+len(ext) > 100 {
		stem = stem[:100-len(ext)]
	}
	return stem + ext
}

func keepSafe(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}

func detectMimeType(data []byte, filename, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
