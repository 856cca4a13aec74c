package store

import (
	"context"

	"bookshelf/pkg/domain"
)

// CreateImage inserts an image descriptor. A second row for the same content
// hash yields ErrDuplicate.
func (s *GormStore) CreateImage(ctx context.Context, img domain.Image) error {
	model := imageToModel(img)
	return mapWriteErr(s.conn(ctx).Create(&model).Error)
}

// GetImage returns an image descriptor by id.
func (s *GormStore) GetImage(ctx context.Context, id string) (domain.Image, bool, error) {
	return first(s.conn(ctx).Where("id = ?", id), imageFromModel)
}

// GetImageByHash returns the descriptor stored for an md5 content hash.
func (s *GormStore) GetImageByHash(ctx context.Context, hash string) (domain.Image, bool, error) {
	return first(s.conn(ctx).Where("md5_hash = ?", hash), imageFromModel)
}

// DeleteImage removes an image descriptor.
func (s *GormStore) DeleteImage(ctx context.Context, id string) error {
	return s.conn(ctx).Where("id = ?", id).Delete(&ImageModel{}).Error
}

// ListImages returns every image descriptor, oldest first.
func (s *GormStore) ListImages(ctx context.Context) ([]domain.Image, error) {
	var models []ImageModel
	if err := s.conn(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Image, 0, len(models))
	for _, m := range models {
		res = append(res, imageFromModel(m))
	}
	return res, nil
}
