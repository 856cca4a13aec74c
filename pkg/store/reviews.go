package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bookshelf/pkg/domain"
)

const reviewColumns = "review_models.*, user_models.last_name AS author_last, user_models.first_name AS author_first, book_models.name AS book_name"

func (s *GormStore) reviews(ctx context.Context) *gorm.DB {
	return s.conn(ctx).Model(&ReviewModel{}).
		Select(reviewColumns).
		Joins("LEFT JOIN user_models ON user_models.id = review_models.user_id").
		Joins("LEFT JOIN book_models ON book_models.id = review_models.book_id")
}

func reviewOrder(sort domain.ReviewSort) string {
	switch sort {
	case domain.SortPositive:
		return "review_models.rating DESC, review_models.created_at DESC"
	case domain.SortNegative:
		return "review_models.rating ASC, review_models.created_at DESC"
	default:
		return "review_models.created_at DESC"
	}
}

// CreateReview inserts a review as given; the caller sets the initial status.
func (s *GormStore) CreateReview(ctx context.Context, r domain.Review) error {
	model := reviewToModel(r)
	return mapWriteErr(s.conn(ctx).Omit(clause.Associations).Create(&model).Error)
}

// GetReview returns a review with its author and book names.
func (s *GormStore) GetReview(ctx context.Context, id string) (domain.Review, bool, error) {
	return first(s.reviews(ctx).Where("review_models.id = ?", id), reviewFromModel)
}

// FindUserReview returns the newest review userID wrote for bookID, in any status.
func (s *GormStore) FindUserReview(ctx context.Context, userID, bookID string) (domain.Review, bool, error) {
	q := s.reviews(ctx).
		Where("review_models.user_id = ? AND review_models.book_id = ?", userID, bookID).
		Order("review_models.created_at DESC")
	return first(q, reviewFromModel)
}

// ApprovedReviews is the only book-to-reviews accessor; it never yields pending or
// rejected reviews. Use ListReviews for full history by status.
func (s *GormStore) ApprovedReviews(ctx context.Context, bookID string, sort domain.ReviewSort, page, perPage int) (domain.Page[domain.Review], error) {
	return s.ListReviews(ctx, ReviewQuery{
		BookID:  bookID,
		Status:  domain.ReviewApproved,
		Sort:    sort,
		Page:    page,
		PerPage: perPage,
	})
}

// ListReviews returns one page of reviews matching q.
func (s *GormStore) ListReviews(ctx context.Context, q ReviewQuery) (domain.Page[domain.Review], error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if q.BookID != "" {
			db = db.Where("review_models.book_id = ?", q.BookID)
		}
		if q.UserID != "" {
			db = db.Where("review_models.user_id = ?", q.UserID)
		}
		if q.Status != "" {
			db = db.Where("review_models.status = ?", string(q.Status))
		}
		return db
	}
	var total int64
	if err := s.conn(ctx).Model(&ReviewModel{}).Scopes(scope).Count(&total).Error; err != nil {
		return domain.Page[domain.Review]{}, fmt.Errorf("count reviews: %w", err)
	}
	page, offset := domain.Offset(q.Page, q.PerPage)
	var models []ReviewModel
	if err := s.reviews(ctx).Scopes(scope).Order(reviewOrder(q.Sort)).Offset(offset).Limit(q.PerPage).Find(&models).Error; err != nil {
		return domain.Page[domain.Review]{}, fmt.Errorf("list reviews: %w", err)
	}
	items := make([]domain.Review, 0, len(models))
	for _, m := range models {
		items = append(items, reviewFromModel(m))
	}
	return domain.NewPage(items, page, q.PerPage, total), nil
}

// ApprovedReviewCounts returns the approved review count per book id. Books
// without approved reviews are absent from the map.
func (s *GormStore) ApprovedReviewCounts(ctx context.Context, bookIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(bookIDs))
	if len(bookIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		BookID string
		Total  int64
	}
	err := s.conn(ctx).Model(&ReviewModel{}).
		Select("book_id, COUNT(*) AS total").
		Where("book_id IN ? AND status = ?", bookIDs, string(domain.ReviewApproved)).
		Group("book_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.BookID] = r.Total
	}
	return out, nil
}

// DecideReview moves a pending review to next. The update is conditional on the
// row still being pending, so it reports false when the review is missing or
// another decision already landed.
func (s *GormStore) DecideReview(ctx context.Context, id string, next domain.ReviewStatus, moderatorID string) (bool, error) {
	now := time.Now().UTC()
	res := s.conn(ctx).Model(&ReviewModel{}).
		Where("id = ? AND status = ?", id, string(domain.ReviewPending)).
		Updates(map[string]any{
			"status":     string(next),
			"decided_by": moderatorID,
			"decided_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
