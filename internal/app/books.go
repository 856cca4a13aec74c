package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bookshelf/internal/util"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/policy"
	"bookshelf/pkg/store"
)

const (
	pickerCollections = 100
	maxImageAttempts  = 2
)

// BookInput is the editable part of a book.
type BookInput struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Author    string   `json:"author" validate:"required,max=100"`
	Publisher string   `json:"publisher" validate:"required,max=100"`
	ShortDesc string   `json:"shortDesc" validate:"required"`
	Volume    int      `json:"volume" validate:"gt=0"`
	Year      string   `json:"year" validate:"required,len=4,numeric"`
	GenreIDs  []string `json:"genreIds" validate:"min=1,dive,required"`
}

func (in *BookInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Author = strings.TrimSpace(in.Author)
	in.Publisher = strings.TrimSpace(in.Publisher)
	in.Year = strings.TrimSpace(in.Year)
	ids := make([]string, 0, len(in.GenreIDs))
	seen := make(map[string]struct{}, len(in.GenreIDs))
	for _, id := range in.GenreIDs {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	in.GenreIDs = ids
}

// ImageUpload is an uploaded background image.
type ImageUpload struct {
	Data     []byte
	FileName string
	MimeType string
}

// BookListing is one page of the catalog plus the data the filter form needs.
type BookListing struct {
	Books        domain.Page[domain.Book] `json:"books"`
	ReviewCounts map[string]int64         `json:"reviewCounts"`
	Years        []string                 `json:"years"`
	Genres       []domain.Genre           `json:"genres"`
}

// BookDetail is a book page. UserReview and Collections are only filled for a
// signed-in viewer.
type BookDetail struct {
	Book          domain.Book         `json:"book"`
	Rating        float64             `json:"rating"`
	LatestReviews []domain.Review     `json:"latestReviews"`
	UserReview    *domain.Review      `json:"userReview,omitempty"`
	Collections   []domain.Collection `json:"collections,omitempty"`
}

// BookForm carries what the create or edit form needs.
type BookForm struct {
	Book   *domain.Book   `json:"book,omitempty"`
	Genres []domain.Genre `json:"genres"`
}

// ListBooks returns one filtered page of the catalog.
func (a *App) ListBooks(ctx context.Context, f store.BookFilter, page int) (BookListing, error) {
	books, err := a.store.FilterBooks(ctx, f).Page(page, BooksPerPage)
	if err != nil {
		return BookListing{}, err
	}
	ids := make([]string, 0, len(books.Items))
	for _, b := range books.Items {
		ids = append(ids, b.ID)
	}
	counts, err := a.store.ApprovedReviewCounts(ctx, ids)
	if err != nil {
		return BookListing{}, fmt.Errorf("count reviews: %w", err)
	}
	years, err := a.store.ListYears(ctx)
	if err != nil {
		return BookListing{}, fmt.Errorf("list years: %w", err)
	}
	genres, err := a.store.ListGenres(ctx)
	if err != nil {
		return BookListing{}, fmt.Errorf("list genres: %w", err)
	}
	return BookListing{Books: books, ReviewCounts: counts, Years: years, Genres: genres}, nil
}

// GetBook returns a book page for any viewer.
func (a *App) GetBook(ctx context.Context, who policy.Identity, id string) (BookDetail, error) {
	book, err := a.loadBook(ctx, a.store, id)
	if err != nil {
		return BookDetail{}, err
	}
	latest, err := a.store.ApprovedReviews(ctx, id, domain.SortRecent, 1, LatestReviews)
	if err != nil {
		return BookDetail{}, fmt.Errorf("latest reviews: %w", err)
	}
	detail := BookDetail{Book: book, Rating: book.Rating(), LatestReviews: latest.Items}
	if !who.Authenticated() {
		return detail, nil
	}
	own, ok, err := a.store.FindUserReview(ctx, who.UserID, id)
	if err != nil {
		return BookDetail{}, fmt.Errorf("own review: %w", err)
	}
	if ok {
		detail.UserReview = &own
	}
	if a.policy.Can(who, policy.ManageCollections, nil) {
		cols, err := a.store.ListCollections(ctx, who.UserID, 1, pickerCollections)
		if err != nil {
			return BookDetail{}, fmt.Errorf("own collections: %w", err)
		}
		detail.Collections = cols.Items
	}
	return detail, nil
}

// NewBookForm returns the genre choices for the create form.
func (a *App) NewBookForm(ctx context.Context, who policy.Identity) (BookForm, error) {
	if err := a.guard(who, policy.CreateBook, nil); err != nil {
		return BookForm{}, err
	}
	genres, err := a.store.ListGenres(ctx)
	if err != nil {
		return BookForm{}, err
	}
	return BookForm{Genres: genres}, nil
}

// EditBookForm returns the book and genre choices for the edit form.
func (a *App) EditBookForm(ctx context.Context, who policy.Identity, id string) (BookForm, error) {
	if err := a.guard(who, policy.UpdateBook, nil); err != nil {
		return BookForm{}, err
	}
	book, err := a.loadBook(ctx, a.store, id)
	if err != nil {
		return BookForm{}, err
	}
	genres, err := a.store.ListGenres(ctx)
	if err != nil {
		return BookForm{}, err
	}
	return BookForm{Book: &book, Genres: genres}, nil
}

// CreateBook validates the input, stores the background image by content and
// inserts the book with its genres in one transaction.
func (a *App) CreateBook(ctx context.Context, who policy.Identity, in BookInput, img *ImageUpload) (domain.Book, error) {
	if err := a.guard(who, policy.CreateBook, nil); err != nil {
		return domain.Book{}, err
	}
	in.normalize()
	verr := a.validate.check(in)
	if img == nil || len(img.Data) == 0 {
		verr = verr.merge(fieldError("image", "is required"))
	}
	desc, genres, moreErr, err := a.prepareBook(ctx, in)
	if err != nil {
		return domain.Book{}, err
	}
	if err := verr.merge(moreErr).orNil(); err != nil {
		return domain.Book{}, err
	}

	now := a.now()
	book := domain.Book{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Author:    in.Author,
		Publisher: in.Publisher,
		ShortDesc: desc,
		Volume:    in.Volume,
		Year:      in.Year,
		Genres:    genres,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// A concurrent delete can drop a deduplicated image row between Save and
	// the insert. Saving again then writes a fresh row.
	for attempt := 1; ; attempt++ {
		image, err := a.images.Save(ctx, img.Data, img.FileName, img.MimeType)
		if err != nil {
			return domain.Book{}, fmt.Errorf("save image: %w", err)
		}
		book.BackgroundImageID = image.ID
		err = a.store.InTx(ctx, func(tx store.Store) error {
			return tx.CreateBook(ctx, book)
		})
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrMissingReference) || attempt == maxImageAttempts {
			return domain.Book{}, fmt.Errorf("create book: %w", err)
		}
		util.LoggerFromContext(ctx).Warn("background image vanished before insert, saving again", "image_id", image.ID)
	}
	util.LoggerFromContext(ctx).Info("book created", "book_id", book.ID, "image_id", book.BackgroundImageID, "user_id", who.UserID)
	return book, nil
}

// UpdateBook rewrites a book's fields and genres. The background image and
// rating aggregate are kept.
func (a *App) UpdateBook(ctx context.Context, who policy.Identity, id string, in BookInput) (domain.Book, error) {
	if err := a.guard(who, policy.UpdateBook, nil); err != nil {
		return domain.Book{}, err
	}
	in.normalize()
	verr := a.validate.check(in)
	desc, genres, moreErr, err := a.prepareBook(ctx, in)
	if err != nil {
		return domain.Book{}, err
	}
	if err := verr.merge(moreErr).orNil(); err != nil {
		return domain.Book{}, err
	}
	var updated domain.Book
	err = a.store.InTx(ctx, func(tx store.Store) error {
		book, err := a.loadBook(ctx, tx, id)
		if err != nil {
			return err
		}
		book.Name = in.Name
		book.Author = in.Author
		book.Publisher = in.Publisher
		book.ShortDesc = desc
		book.Volume = in.Volume
		book.Year = in.Year
		book.Genres = genres
		book.UpdatedAt = a.now()
		if err := tx.UpdateBook(ctx, book); err != nil {
			return err
		}
		updated = book
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return domain.Book{}, err
		}
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	return updated, nil
}

// DeleteBook removes a book and everything hanging off it. When the book was
// the only one using its background image, the image row goes in the same
// transaction and the blob is removed after commit.
func (a *App) DeleteBook(ctx context.Context, who policy.Identity, id string) error {
	if err := a.guard(who, policy.DeleteBook, nil); err != nil {
		return err
	}
	var orphan *domain.Image
	err := a.store.InTx(ctx, func(tx store.Store) error {
		book, err := a.loadBook(ctx, tx, id)
		if err != nil {
			return err
		}
		var refs int64
		if book.BackgroundImageID != "" {
			if refs, err = tx.CountBooksByImage(ctx, book.BackgroundImageID); err != nil {
				return err
			}
		}
		if err := tx.DeleteBook(ctx, id); err != nil {
			return err
		}
		if book.BackgroundImageID == "" || refs != 1 {
			return nil
		}
		img, ok, err := tx.GetImage(ctx, book.BackgroundImageID)
		if err != nil || !ok {
			return err
		}
		if err := tx.DeleteImage(ctx, img.ID); err != nil {
			return err
		}
		orphan = &img
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBookNotFound) {
			return err
		}
		return fmt.Errorf("delete book: %w", err)
	}
	logger := util.LoggerFromContext(ctx)
	if orphan != nil {
		if err := a.images.RemoveBlob(ctx, *orphan); err != nil {
			logger.Warn("book deleted but image blob removal failed", "image_id", orphan.ID, "err", err)
		}
	}
	logger.Info("book deleted", "book_id", id, "user_id", who.UserID)
	return nil
}

// prepareBook renders the description and resolves genre ids. Problems with the
// input come back as a *ValidationError; the error result is for store failures.
func (a *App) prepareBook(ctx context.Context, in BookInput) (string, []domain.Genre, *ValidationError, error) {
	var verr *ValidationError
	desc, descErr, err := renderRequired("shortDesc", in.ShortDesc)
	if err != nil {
		return "", nil, nil, err
	}
	verr = verr.merge(descErr)
	genres, err := a.store.GetGenres(ctx, in.GenreIDs)
	if err != nil {
		return "", nil, nil, fmt.Errorf("load genres: %w", err)
	}
	if len(genres) != len(in.GenreIDs) {
		verr = verr.merge(fieldError("genreIds", "contains unknown genres"))
	}
	return desc, genres, verr, nil
}

func (a *App) loadBook(ctx context.Context, s store.Store, id string) (domain.Book, error) {
	book, ok, err := s.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ListGenres returns every genre.
func (a *App) ListGenres(ctx context.Context) ([]domain.Genre, error) {
	return a.store.ListGenres(ctx)
}

// CreateGenre adds a genre from the admin CLI.
func (a *App) CreateGenre(ctx context.Context, name string) (domain.Genre, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Genre{}, fieldError("name", "is required")
	}
	g := domain.Genre{ID: uuid.NewString(), Name: name}
	if err := a.store.CreateGenre(ctx, g); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Genre{}, fieldError("name", "already exists")
		}
		return domain.Genre{}, fmt.Errorf("create genre: %w", err)
	}
	return g, nil
}
