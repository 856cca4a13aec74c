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

// CollectionInput creates a collection. Description is plain text.
type CollectionInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

// CollectionDetail is a collection with its member books.
type CollectionDetail struct {
	Collection domain.Collection `json:"collection"`
	Books      []domain.Book     `json:"books"`
}

// ListCollections pages through who's collections.
func (a *App) ListCollections(ctx context.Context, who policy.Identity, page int) (domain.Page[domain.Collection], error) {
	if err := a.guard(who, policy.ManageCollections, nil); err != nil {
		return domain.Page[domain.Collection]{}, err
	}
	return a.store.ListCollections(ctx, who.UserID, page, CollectionsPerPage)
}

// CreateCollection adds a collection owned by who. Names are unique across
// every owner.
func (a *App) CreateCollection(ctx context.Context, who policy.Identity, in CollectionInput) (domain.Collection, error) {
	if err := a.guard(who, policy.ManageCollections, nil); err != nil {
		return domain.Collection{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := a.validate.check(in).orNil(); err != nil {
		return domain.Collection{}, err
	}
	c := domain.Collection{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		OwnerID:     who.UserID,
		CreatedAt:   a.now(),
	}
	if err := a.store.CreateCollection(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Collection{}, ErrCollectionNameTaken
		}
		return domain.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	return c, nil
}

// GetCollection returns a collection with its books. Any signed-in user may
// view it; only the owner may change it.
func (a *App) GetCollection(ctx context.Context, who policy.Identity, id string) (CollectionDetail, error) {
	if err := a.guard(who, policy.ManageCollections, nil); err != nil {
		return CollectionDetail{}, err
	}
	c, err := a.loadCollection(ctx, a.store, id)
	if err != nil {
		return CollectionDetail{}, err
	}
	books, err := a.store.ListCollectionBooks(ctx, id)
	if err != nil {
		return CollectionDetail{}, fmt.Errorf("list collection books: %w", err)
	}
	return CollectionDetail{Collection: c, Books: books}, nil
}

// AddBook puts bookID into the collection. Adding a member again is a no-op.
func (a *App) AddBook(ctx context.Context, who policy.Identity, collectionID, bookID string) error {
	return a.changeMembership(ctx, who, collectionID, func(tx store.Store) error {
		if _, err := a.loadBook(ctx, tx, bookID); err != nil {
			return err
		}
		member, err := tx.HasCollectionBook(ctx, collectionID, bookID)
		if err != nil || member {
			return err
		}
		return tx.AddCollectionBook(ctx, collectionID, bookID)
	})
}

// RemoveBook takes bookID out of the collection. The book itself stays.
func (a *App) RemoveBook(ctx context.Context, who policy.Identity, collectionID, bookID string) error {
	return a.changeMembership(ctx, who, collectionID, func(tx store.Store) error {
		return tx.RemoveCollectionBook(ctx, collectionID, bookID)
	})
}

// DeleteCollection removes the collection and its memberships. Only the owner
// may do this.
func (a *App) DeleteCollection(ctx context.Context, who policy.Identity, id string) error {
	err := a.changeMembership(ctx, who, id, func(tx store.Store) error {
		return tx.DeleteCollection(ctx, id)
	})
	if err == nil {
		util.LoggerFromContext(ctx).Info("collection deleted", "collection_id", id, "user_id", who.UserID)
	}
	return err
}

func (a *App) changeMembership(ctx context.Context, who policy.Identity, collectionID string, fn func(tx store.Store) error) error {
	if err := a.guard(who, policy.ManageCollections, nil); err != nil {
		return err
	}
	err := a.store.InTx(ctx, func(tx store.Store) error {
		c, err := a.loadCollection(ctx, tx, collectionID)
		if err != nil {
			return err
		}
		if err := a.guard(who, policy.MutateCollection, c); err != nil {
			return err
		}
		return fn(tx)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrCollectionNotFound), errors.Is(err, ErrBookNotFound):
		return err
	case errors.Is(err, store.ErrDuplicate):
		// A concurrent add of the same book already landed.
		return nil
	}
	return fmt.Errorf("update collection: %w", err)
}

func (a *App) loadCollection(ctx context.Context, s store.Store, id string) (domain.Collection, error) {
	c, ok, err := s.GetCollection(ctx, id)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return domain.Collection{}, ErrCollectionNotFound
	}
	return c, nil
}
