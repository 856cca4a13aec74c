package app

import (
	"context"
	"errors"
	"io"
	"time"

	"bookshelf/pkg/domain"
	"bookshelf/pkg/imagestore"
)

// OpenImage streams an image blob. The caller closes the reader.
func (a *App) OpenImage(ctx context.Context, id string) (domain.Image, io.ReadCloser, error) {
	img, rc, err := a.images.Open(ctx, id)
	if errors.Is(err, imagestore.ErrNotFound) {
		return domain.Image{}, nil, ErrImageNotFound
	}
	return img, rc, err
}

// ReconcileImages lists blobs older than minAge that no image row points at
// and removes them when remove is set.
func (a *App) ReconcileImages(ctx context.Context, remove bool, minAge time.Duration) ([]string, error) {
	return a.images.Reconcile(ctx, imagestore.ReconcileOptions{Remove: remove, MinAge: minAge})
}
