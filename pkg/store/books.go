package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookshelf/pkg/domain"
)

const bookOrder = "year DESC, created_at DESC"

// BookFilter holds the optional listing criteria. Zero values add no condition.
type BookFilter struct {
	Name       string
	Author     string
	GenreIDs   []string
	VolumeFrom *int
	VolumeTo   *int
	Years      []string
}

// BookQuery is a filtered, unmaterialised view over books. Nothing is read until
// Count, Page or All is called, and each call runs its own statement.
type BookQuery struct {
	base *gorm.DB
}

// FilterBooks builds a lazy query from f, sorted by year tag descending.
func (s *GormStore) FilterBooks(ctx context.Context, f BookFilter) *BookQuery {
	q := s.conn(ctx).Model(&BookModel{})
	if name := strings.TrimSpace(f.Name); name != "" {
		q = q.Where(`name_search LIKE ? ESCAPE '\'`, containsPattern(name))
	}
	if author := strings.TrimSpace(f.Author); author != "" {
		q = q.Where(`author_search LIKE ? ESCAPE '\'`, containsPattern(author))
	}
	if genres := compact(f.GenreIDs); len(genres) > 0 {
		q = q.Where("id IN (SELECT book_id FROM book_genres WHERE genre_id IN ?)", genres)
	}
	if f.VolumeFrom != nil {
		q = q.Where("volume >= ?", *f.VolumeFrom)
	}
	if f.VolumeTo != nil {
		q = q.Where("volume <= ?", *f.VolumeTo)
	}
	if years := compact(f.Years); len(years) > 0 {
		q = q.Where("year IN ?", years)
	}
	return &BookQuery{base: q.Session(&gorm.Session{})}
}

// Count returns the number of matching books.
func (q *BookQuery) Count() (int64, error) {
	var total int64
	if err := q.base.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}

// Page returns one ordered page of matching books.
func (q *BookQuery) Page(page, perPage int) (domain.Page[domain.Book], error) {
	total, err := q.Count()
	if err != nil {
		return domain.Page[domain.Book]{}, err
	}
	page, offset := domain.Offset(page, perPage)
	books, err := q.find(func(db *gorm.DB) *gorm.DB { return db.Offset(offset).Limit(perPage) })
	if err != nil {
		return domain.Page[domain.Book]{}, err
	}
	return domain.NewPage(books, page, perPage, total), nil
}

// All returns every matching book in order.
func (q *BookQuery) All() ([]domain.Book, error) {
	return q.find(func(db *gorm.DB) *gorm.DB { return db })
}

func (q *BookQuery) find(scope func(*gorm.DB) *gorm.DB) ([]domain.Book, error) {
	var models []BookModel
	if err := q.base.Scopes(scope).Preload("Genres", orderGenres).Order(bookOrder).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

func orderGenres(db *gorm.DB) *gorm.DB {
	return db.Order("name ASC")
}

func containsPattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(searchKey(term)) + "%"
}

func searchKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ListYears returns the distinct year tags, newest first.
func (s *GormStore) ListYears(ctx context.Context) ([]string, error) {
	var years []string
	if err := s.conn(ctx).Model(&BookModel{}).Distinct("year").Order("year DESC").Pluck("year", &years).Error; err != nil {
		return nil, err
	}
	return years, nil
}

// CreateBook inserts the book row and its genre links.
func (s *GormStore) CreateBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	db := s.conn(ctx)
	if err := db.Omit(clause.Associations).Create(&model).Error; err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: background image %s", ErrMissingReference, b.BackgroundImageID)
		}
		return mapWriteErr(err)
	}
	return insertBookGenres(db, b.ID, b.GenreIDs())
}

// UpdateBook rewrites the editable fields and replaces the genre links.
// The background image and rating aggregate are left untouched.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) error {
	db := s.conn(ctx)
	res := db.Model(&BookModel{}).Where("id = ?", b.ID).Updates(map[string]any{
		"name":          b.Name,
		"author":        b.Author,
		"name_search":   searchKey(b.Name),
		"author_search": searchKey(b.Author),
		"publisher":     b.Publisher,
		"short_desc":    b.ShortDesc,
		"volume":        b.Volume,
		"year":          b.Year,
		"updated_at":    b.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if err := db.Exec("DELETE FROM book_genres WHERE book_id = ?", b.ID).Error; err != nil {
		return err
	}
	return insertBookGenres(db, b.ID, b.GenreIDs())
}

func insertBookGenres(db *gorm.DB, bookID string, genreIDs []string) error {
	genreIDs = compact(genreIDs)
	if len(genreIDs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(genreIDs))
	seen := make(map[string]struct{}, len(genreIDs))
	for _, id := range genreIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, map[string]any{"book_id": bookID, "genre_id": id})
	}
	return db.Table("book_genres").Create(rows).Error
}

// GetBook returns a book with its genres.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return first(s.conn(ctx).Preload("Genres", orderGenres).Where("id = ?", id), bookFromModel)
}

// DeleteBook removes the book, every review of it, its genre links and its
// collection memberships. The background image is handled by the caller.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	db := s.conn(ctx)
	for _, stmt := range []string{
		"DELETE FROM review_models WHERE book_id = ?",
		"DELETE FROM book_genres WHERE book_id = ?",
		"DELETE FROM collection_books WHERE book_id = ?",
	} {
		if err := db.Exec(stmt, id).Error; err != nil {
			return err
		}
	}
	return db.Where("id = ?", id).Delete(&BookModel{}).Error
}

// CountBooksByImage returns how many books use imageID as background.
func (s *GormStore) CountBooksByImage(ctx context.Context, imageID string) (int64, error) {
	var count int64
	if err := s.conn(ctx).Model(&BookModel{}).Where("background_image_id = ?", imageID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementRating adds one approved rating to the book's aggregate in a single
// statement so concurrent approvals never lose an update.
func (s *GormStore) IncrementRating(ctx context.Context, bookID string, rating int) error {
	res := s.conn(ctx).Model(&BookModel{}).Where("id = ?", bookID).UpdateColumns(map[string]any{
		"rating_num": gorm.Expr("rating_num + ?", 1),
		"rating_sum": gorm.Expr("rating_sum + ?", rating),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("increment rating: book %s not found", bookID)
	}
	return nil
}

// backfillSearchKeys fills the folded search columns of rows written before
// they existed.
func backfillSearchKeys(db *gorm.DB) error {
	var models []BookModel
	if err := db.Select("id", "name", "author").Where("name_search = ''").Find(&models).Error; err != nil {
		return fmt.Errorf("load books for search keys: %w", err)
	}
	for _, m := range models {
		err := db.Model(&BookModel{}).Where("id = ?", m.ID).UpdateColumns(map[string]any{
			"name_search":   searchKey(m.Name),
			"author_search": searchKey(m.Author),
		}).Error
		if err != nil {
			return fmt.Errorf("backfill search keys: %w", err)
		}
	}
	return nil
}
