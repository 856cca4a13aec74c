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

// ReviewInput is a submitted review. Text is markdown.
type ReviewInput struct {
	Rating *int   `json:"rating" validate:"required,gte=0,lte=5"`
	Text   string `json:"text" validate:"required"`
}

// Decision names accepted by DecideReview.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// BookReviews is one page of a book's approved reviews.
type BookReviews struct {
	Book    domain.Book                `json:"book"`
	Sort    domain.ReviewSort          `json:"sort"`
	Reviews domain.Page[domain.Review] `json:"reviews"`
}

// SubmitReview stores a pending review of bookID by who. A user gets one
// review per book whatever its status.
func (a *App) SubmitReview(ctx context.Context, who policy.Identity, bookID string, in ReviewInput) (domain.Review, error) {
	if err := a.guard(who, policy.SubmitReview, nil); err != nil {
		return domain.Review{}, err
	}
	verr := a.validate.check(in)
	text, textErr, err := renderRequired("text", in.Text)
	if err != nil {
		return domain.Review{}, err
	}
	if err := verr.merge(textErr).orNil(); err != nil {
		return domain.Review{}, err
	}

	review := domain.Review{
		ID:        uuid.NewString(),
		BookID:    bookID,
		UserID:    who.UserID,
		Rating:    *in.Rating,
		Text:      text,
		Status:    domain.ReviewPending,
		CreatedAt: a.now(),
	}
	err = a.store.InTx(ctx, func(tx store.Store) error {
		book, err := a.loadBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		_, exists, err := tx.FindUserReview(ctx, who.UserID, bookID)
		if err != nil {
			return err
		}
		if exists {
			return ErrReviewExists
		}
		review.BookName = book.Name
		return tx.CreateReview(ctx, review)
	})
	if err != nil {
		if errors.Is(err, ErrBookNotFound) || errors.Is(err, ErrReviewExists) {
			return domain.Review{}, err
		}
		return domain.Review{}, fmt.Errorf("create review: %w", err)
	}
	util.LoggerFromContext(ctx).Info("review submitted", "review_id", review.ID, "book_id", bookID, "user_id", who.UserID)
	return review, nil
}

// ListBookReviews pages through the approved reviews of a book.
func (a *App) ListBookReviews(ctx context.Context, bookID string, sort domain.ReviewSort, page int) (BookReviews, error) {
	book, err := a.loadBook(ctx, a.store, bookID)
	if err != nil {
		return BookReviews{}, err
	}
	reviews, err := a.store.ApprovedReviews(ctx, bookID, sort, page, ReviewsPerPage)
	if err != nil {
		return BookReviews{}, fmt.Errorf("list reviews: %w", err)
	}
	return BookReviews{Book: book, Sort: sort, Reviews: reviews}, nil
}

// MyReviews pages through every review who wrote, in any status.
func (a *App) MyReviews(ctx context.Context, who policy.Identity, sort domain.ReviewSort, page int) (domain.Page[domain.Review], error) {
	if err := a.guard(who, policy.SubmitReview, nil); err != nil {
		return domain.Page[domain.Review]{}, err
	}
	return a.store.ListReviews(ctx, store.ReviewQuery{
		UserID:  who.UserID,
		Sort:    sort,
		Page:    page,
		PerPage: ReviewsPerPage,
	})
}

// ModerationQueue pages through pending reviews, newest first.
func (a *App) ModerationQueue(ctx context.Context, who policy.Identity, page int) (domain.Page[domain.Review], error) {
	if err := a.guard(who, policy.ModerateReview, nil); err != nil {
		return domain.Page[domain.Review]{}, err
	}
	return a.store.ListReviews(ctx, store.ReviewQuery{
		Status:  domain.ReviewPending,
		Sort:    domain.SortRecent,
		Page:    page,
		PerPage: ReviewsPerPage,
	})
}

// ReviewForModeration returns a single review of any status to a moderator.
func (a *App) ReviewForModeration(ctx context.Context, who policy.Identity, id string) (domain.Review, error) {
	if err := a.guard(who, policy.ModerateReview, nil); err != nil {
		return domain.Review{}, err
	}
	return a.loadReview(ctx, a.store, id)
}

// DecideReview approves or rejects a pending review. Approval folds the rating
// into the book aggregate in the same transaction as the status change.
func (a *App) DecideReview(ctx context.Context, who policy.Identity, id, decision string) (domain.Review, error) {
	if err := a.guard(who, policy.ModerateReview, nil); err != nil {
		return domain.Review{}, err
	}
	var next domain.ReviewStatus
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case DecisionApprove:
		next = domain.ReviewApproved
	case DecisionReject:
		next = domain.ReviewRejected
	default:
		return domain.Review{}, fieldError("decision", "must be one of: approve reject")
	}

	var decided domain.Review
	err := a.store.InTx(ctx, func(tx store.Store) error {
		review, err := a.loadReview(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := review.Status.Transition(next); err != nil {
			return ErrReviewAlreadyDecided
		}
		ok, err := tx.DecideReview(ctx, id, next, who.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrReviewAlreadyDecided
		}
		if next == domain.ReviewApproved {
			if err := tx.IncrementRating(ctx, review.BookID, review.Rating); err != nil {
				return fmt.Errorf("apply rating: %w", err)
			}
		}
		decided, err = a.loadReview(ctx, tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrReviewNotFound) || errors.Is(err, ErrReviewAlreadyDecided) {
			return domain.Review{}, err
		}
		return domain.Review{}, fmt.Errorf("decide review: %w", err)
	}
	util.LoggerFromContext(ctx).Info("review decided", "review_id", id, "status", decided.Status, "moderator_id", who.UserID)
	return decided, nil
}

func (a *App) loadReview(ctx context.Context, s store.Store, id string) (domain.Review, error) {
	review, ok, err := s.GetReview(ctx, id)
	if err != nil {
		return domain.Review{}, fmt.Errorf("get review: %w", err)
	}
	if !ok {
		return domain.Review{}, ErrReviewNotFound
	}
	return review, nil
}
