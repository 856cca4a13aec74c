package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"bookshelf/pkg/domain"
)

// CreateCollection inserts a collection. Names are unique across all owners, so
// a taken name yields ErrDuplicate.
func (s *GormStore) CreateCollection(ctx context.Context, c domain.Collection) error {
	model := collectionToModel(c)
	return mapWriteErr(s.conn(ctx).Omit(clause.Associations).Create(&model).Error)
}

// GetCollection returns a collection with its book count.
func (s *GormStore) GetCollection(ctx context.Context, id string) (domain.Collection, bool, error) {
	c, ok, err := first(s.conn(ctx).Where("id = ?", id), collectionFromModel)
	if err != nil || !ok {
		return c, ok, err
	}
	counts, err := s.collectionBookCounts(ctx, []string{c.ID})
	if err != nil {
		return domain.Collection{}, false, err
	}
	c.BookCount = int(counts[c.ID])
	return c, true, nil
}

// ListCollections returns one page of ownerID's collections, newest first.
func (s *GormStore) ListCollections(ctx context.Context, ownerID string, page, perPage int) (domain.Page[domain.Collection], error) {
	var total int64
	base := s.conn(ctx).Model(&CollectionModel{}).Where("owner_id = ?", ownerID)
	if err := base.Count(&total).Error; err != nil {
		return domain.Page[domain.Collection]{}, fmt.Errorf("count collections: %w", err)
	}
	page, offset := domain.Offset(page, perPage)
	var models []CollectionModel
	err := s.conn(ctx).Where("owner_id = ?", ownerID).
		Order("created_at DESC").Offset(offset).Limit(perPage).
		Find(&models).Error
	if err != nil {
		return domain.Page[domain.Collection]{}, fmt.Errorf("list collections: %w", err)
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	counts, err := s.collectionBookCounts(ctx, ids)
	if err != nil {
		return domain.Page[domain.Collection]{}, err
	}
	items := make([]domain.Collection, 0, len(models))
	for _, m := range models {
		c := collectionFromModel(m)
		c.BookCount = int(counts[c.ID])
		items = append(items, c)
	}
	return domain.NewPage(items, page, perPage, total), nil
}

func (s *GormStore) collectionBookCounts(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		CollectionID string
		Total        int64
	}
	err := s.conn(ctx).Table("collection_books").
		Select("collection_id, COUNT(*) AS total").
		Where("collection_id IN ?", ids).
		Group("collection_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count collection books: %w", err)
	}
	for _, r := range rows {
		out[r.CollectionID] = r.Total
	}
	return out, nil
}

// DeleteCollection removes the collection and its memberships. Books stay.
func (s *GormStore) DeleteCollection(ctx context.Context, id string) error {
	db := s.conn(ctx)
	if err := db.Exec("DELETE FROM collection_books WHERE collection_id = ?", id).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&CollectionModel{}).Error
}

// HasCollectionBook reports whether bookID is already a member.
func (s *GormStore) HasCollectionBook(ctx context.Context, collectionID, bookID string) (bool, error) {
	var count int64
	err := s.conn(ctx).Table("collection_books").
		Where("collection_id = ? AND book_id = ?", collectionID, bookID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddCollectionBook inserts one membership row.
func (s *GormStore) AddCollectionBook(ctx context.Context, collectionID, bookID string) error {
	row := map[string]any{"collection_id": collectionID, "book_id": bookID}
	return mapWriteErr(s.conn(ctx).Table("collection_books").Create(row).Error)
}

// RemoveCollectionBook deletes one membership row if present.
func (s *GormStore) RemoveCollectionBook(ctx context.Context, collectionID, bookID string) error {
	return s.conn(ctx).Exec("DELETE FROM collection_books WHERE collection_id = ? AND book_id = ?", collectionID, bookID).Error
}

// ListCollectionBooks returns the member books in catalog order.
func (s *GormStore) ListCollectionBooks(ctx context.Context, collectionID string) ([]domain.Book, error) {
	var models []BookModel
	err := s.conn(ctx).
		Where("id IN (SELECT book_id FROM collection_books WHERE collection_id = ?)", collectionID).
		Preload("Genres", orderGenres).
		Order(bookOrder).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}
