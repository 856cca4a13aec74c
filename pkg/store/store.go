package store

import (
	"context"
	"errors"

	"bookshelf/pkg/domain"
)

// ErrDuplicate is returned when an insert hits a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// ErrMissingReference is returned when a write points at a row that no longer exists.
var ErrMissingReference = errors.New("referenced record missing")

// Store defines persistence operations for the catalog.
//
// InTx runs fn inside one database transaction. The Store handed to fn is bound to
// that transaction; fn must use it, not the outer Store, for every read and write.
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error

	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByLogin(ctx context.Context, login string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	// genres
	CreateGenre(ctx context.Context, g domain.Genre) error
	ListGenres(ctx context.Context) ([]domain.Genre, error)
	GetGenres(ctx context.Context, ids []string) ([]domain.Genre, error)

	// books
	CreateBook(ctx context.Context, b domain.Book) error
	UpdateBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	DeleteBook(ctx context.Context, id string) error
	FilterBooks(ctx context.Context, f BookFilter) *BookQuery
	ListYears(ctx context.Context) ([]string, error)
	CountBooksByImage(ctx context.Context, imageID string) (int64, error)
	IncrementRating(ctx context.Context, bookID string, rating int) error

	// images
	CreateImage(ctx context.Context, img domain.Image) error
	GetImage(ctx context.Context, id string) (domain.Image, bool, error)
	GetImageByHash(ctx context.Context, hash string) (domain.Image, bool, error)
	DeleteImage(ctx context.Context, id string) error
	ListImages(ctx context.Context) ([]domain.Image, error)

	// reviews
	CreateReview(ctx context.Context, r domain.Review) error
	GetReview(ctx context.Context, id string) (domain.Review, bool, error)
	FindUserReview(ctx context.Context, userID, bookID string) (domain.Review, bool, error)
	ApprovedReviews(ctx context.Context, bookID string, sort domain.ReviewSort, page, perPage int) (domain.Page[domain.Review], error)
	ListReviews(ctx context.Context, q ReviewQuery) (domain.Page[domain.Review], error)
	ApprovedReviewCounts(ctx context.Context, bookIDs []string) (map[string]int64, error)
	DecideReview(ctx context.Context, id string, next domain.ReviewStatus, moderatorID string) (bool, error)

	// collections
	CreateCollection(ctx context.Context, c domain.Collection) error
	GetCollection(ctx context.Context, id string) (domain.Collection, bool, error)
	ListCollections(ctx context.Context, ownerID string, page, perPage int) (domain.Page[domain.Collection], error)
	DeleteCollection(ctx context.Context, id string) error
	HasCollectionBook(ctx context.Context, collectionID, bookID string) (bool, error)
	AddCollectionBook(ctx context.Context, collectionID, bookID string) error
	RemoveCollectionBook(ctx context.Context, collectionID, bookID string) error
	ListCollectionBooks(ctx context.Context, collectionID string) ([]domain.Book, error)
}

// ReviewQuery selects reviews by any combination of book, author and status.
// Empty fields are not filtered on.
type ReviewQuery struct {
	BookID  string
	UserID  string
	Status  domain.ReviewStatus
	Sort    domain.ReviewSort
	Page    int
	PerPage int
}
