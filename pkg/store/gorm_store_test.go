package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"bookshelf/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := NewGormStore(Options{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedGenre(t *testing.T, s Store, id, name string) domain.Genre {
	t.Helper()
	g := domain.Genre{ID: id, Name: name}
	if err := s.CreateGenre(context.Background(), g); err != nil {
		t.Fatalf("create genre: %v", err)
	}
	return g
}

func seedBook(t *testing.T, s Store, id, name, author, year string, volume int, genres ...domain.Genre) domain.Book {
	t.Helper()
	now := time.Now().UTC()
	b := domain.Book{
		ID:        id,
		Name:      name,
		Author:    author,
		Publisher: "Penguin",
		ShortDesc: "<p>desc</p>",
		Volume:    volume,
		Year:      year,
		Genres:    genres,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateBook(context.Background(), b); err != nil {
		t.Fatalf("create book: %v", err)
	}
	return b
}

func bookIDs(books []domain.Book) []string {
	ids := make([]string, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	return ids
}

func intPtr(v int) *int { return &v }

func TestFilterBooks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := seedGenre(t, s, "g-novel", "Novel")
	poetry := seedGenre(t, s, "g-poetry", "Poetry")
	seedBook(t, s, "b1", "War and Peace", "Tolstoy", "1869", 1225, novel)
	seedBook(t, s, "b2", "Anna Karenina", "Tolstoy", "1878", 864, novel)
	seedBook(t, s, "b3", "Eugene Onegin", "Pushkin", "1833", 240, novel, poetry)
	seedBook(t, s, "b4", "100%_Sure", "Nobody", "2001", 10)
	seedBook(t, s, "b5", "Война и мир", "Толстой", "1867", 1300)

	tests := []struct {
		name   string
		filter BookFilter
		want   []string
	}{
		{name: "no filters orders by year desc", filter: BookFilter{}, want: []string{"b4", "b2", "b1", "b5", "b3"}},
		{name: "empty values are no-ops", filter: BookFilter{Name: "  ", GenreIDs: []string{""}, Years: []string{}}, want: []string{"b4", "b2", "b1", "b5", "b3"}},
		{name: "name is case-insensitive substring", filter: BookFilter{Name: "AN"}, want: []string{"b2", "b1"}},
		{name: "author substring", filter: BookFilter{Author: "push"}, want: []string{"b3"}},
		{name: "cyrillic name as stored", filter: BookFilter{Name: "Война"}, want: []string{"b5"}},
		{name: "cyrillic name lower case", filter: BookFilter{Name: "война"}, want: []string{"b5"}},
		{name: "cyrillic name upper case", filter: BookFilter{Name: "ВОЙНА"}, want: []string{"b5"}},
		{name: "cyrillic author lower case", filter: BookFilter{Author: "толстой"}, want: []string{"b5"}},
		{name: "wildcards are literal", filter: BookFilter{Name: "%_"}, want: []string{"b4"}},
		{name: "genre any-of", filter: BookFilter{GenreIDs: []string{"g-poetry", "g-missing"}}, want: []string{"b3"}},
		{name: "volume range inclusive", filter: BookFilter{VolumeFrom: intPtr(240), VolumeTo: intPtr(864)}, want: []string{"b2", "b3"}},
		{name: "year any-of", filter: BookFilter{Years: []string{"1833", "1869"}}, want: []string{"b1", "b3"}},
		{name: "filters combine", filter: BookFilter{Author: "tolstoy", GenreIDs: []string{"g-novel"}, VolumeTo: intPtr(900)}, want: []string{"b2"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := s.FilterBooks(ctx, tc.filter)
			books, err := q.All()
			if err != nil {
				t.Fatalf("all: %v", err)
			}
			got := bookIDs(books)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("books = %v, want %v", got, tc.want)
			}
			total, err := q.Count()
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if total != int64(len(tc.want)) {
				t.Fatalf("count = %d, want %d", total, len(tc.want))
			}
		})
	}
}

func TestFilterBooksPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		seedBook(t, s, fmt.Sprintf("b%02d", i), "Book", "Author", fmt.Sprintf("%d", 1990+i), 1)
	}
	page, err := s.FilterBooks(ctx, BookFilter{}).Page(2, 9)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.Total != 11 || page.Pages != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.Pages, len(page.Items))
	}
	if page.Items[0].ID != "b01" || page.Items[1].ID != "b00" {
		t.Fatalf("unexpected order on second page: %v", bookIDs(page.Items))
	}
}

func TestBookGenresAndYears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedGenre(t, s, "g-a", "Adventure")
	b := seedGenre(t, s, "g-b", "Biography")
	book := seedBook(t, s, "b1", "Book", "Author", "1999", 1, a)
	seedBook(t, s, "b2", "Other", "Author", "1999", 1)

	book.Genres = []domain.Genre{b}
	book.Name = "Воскресение"
	if err := s.UpdateBook(ctx, book); err != nil {
		t.Fatalf("update book: %v", err)
	}
	got, ok, err := s.GetBook(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if got.Name != "Воскресение" || len(got.Genres) != 1 || got.Genres[0].ID != "g-b" {
		t.Fatalf("unexpected book after update: %+v", got)
	}
	found, err := s.FilterBooks(ctx, BookFilter{Name: "ВОСКРЕС"}).All()
	if err != nil {
		t.Fatalf("filter renamed: %v", err)
	}
	if ids := bookIDs(found); len(ids) != 1 || ids[0] != "b1" {
		t.Fatalf("renamed book not found by new name: %v", ids)
	}
	years, err := s.ListYears(ctx)
	if err != nil {
		t.Fatalf("list years: %v", err)
	}
	if len(years) != 1 || years[0] != "1999" {
		t.Fatalf("years = %v", years)
	}
}

func TestCreateImageDuplicateHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	img := domain.Image{ID: "i1", FileName: "a.png", MimeType: "image/png", MD5Hash: "abc", CreatedAt: time.Now().UTC()}
	if err := s.CreateImage(ctx, img); err != nil {
		t.Fatalf("create image: %v", err)
	}
	img.ID = "i2"
	if err := s.CreateImage(ctx, img); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, ok, err := s.GetImageByHash(ctx, "abc")
	if err != nil || !ok || got.ID != "i1" {
		t.Fatalf("get by hash: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestDecideReviewIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBook(t, s, "b1", "Book", "Author", "2000", 1)
	r := domain.Review{ID: "r1", BookID: "b1", UserID: "u1", Rating: 4, Text: "ok", Status: domain.ReviewPending, CreatedAt: time.Now().UTC()}
	if err := s.CreateReview(ctx, r); err != nil {
		t.Fatalf("create review: %v", err)
	}
	changed, err := s.DecideReview(ctx, "r1", domain.ReviewApproved, "mod")
	if err != nil || !changed {
		t.Fatalf("first decision: changed=%v err=%v", changed, err)
	}
	changed, err = s.DecideReview(ctx, "r1", domain.ReviewRejected, "mod")
	if err != nil || changed {
		t.Fatalf("second decision should not apply: changed=%v err=%v", changed, err)
	}
	got, ok, err := s.GetReview(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("get review: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.ReviewApproved || got.DecidedBy != "mod" || got.BookName != "Book" {
		t.Fatalf("unexpected review: %+v", got)
	}
	var stored string
	if err := s.db.Raw("SELECT status FROM review_models WHERE id = ?", "r1").Scan(&stored).Error; err != nil {
		t.Fatalf("read status column: %v", err)
	}
	if stored != "approved" {
		t.Fatalf("status column = %q, want approved", stored)
	}
}

func TestApprovedReviewsHidesPendingAndRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBook(t, s, "b1", "Book", "Author", "2000", 1)
	now := time.Now().UTC()
	for i, st := range []domain.ReviewStatus{domain.ReviewApproved, domain.ReviewPending, domain.ReviewRejected, domain.ReviewApproved} {
		r := domain.Review{
			ID:        fmt.Sprintf("r%d", i),
			BookID:    "b1",
			UserID:    fmt.Sprintf("u%d", i),
			Rating:    i + 1,
			Text:      "text",
			Status:    st,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateReview(ctx, r); err != nil {
			t.Fatalf("create review: %v", err)
		}
	}
	page, err := s.ApprovedReviews(ctx, "b1", domain.SortPositive, 1, 5)
	if err != nil {
		t.Fatalf("approved reviews: %v", err)
	}
	if page.Total != 2 || page.Items[0].ID != "r3" || page.Items[1].ID != "r0" {
		t.Fatalf("unexpected approved page: %+v", page)
	}
	counts, err := s.ApprovedReviewCounts(ctx, []string{"b1", "missing"})
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["b1"] != 2 || counts["missing"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
	all, err := s.ListReviews(ctx, ReviewQuery{BookID: "b1", Page: 1, PerPage: 10})
	if err != nil || all.Total != 4 {
		t.Fatalf("full history: total=%d err=%v", all.Total, err)
	}
}

func TestIncrementRating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBook(t, s, "b1", "Book", "Author", "2000", 1)
	if err := s.IncrementRating(ctx, "b1", 4); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := s.IncrementRating(ctx, "b1", 0); err != nil {
		t.Fatalf("increment: %v", err)
	}
	b, _, err := s.GetBook(ctx, "b1")
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if b.RatingNum != 2 || b.RatingSum != 4 {
		t.Fatalf("rating aggregate = %d/%d", b.RatingSum, b.RatingNum)
	}
	if err := s.IncrementRating(ctx, "missing", 1); err == nil {
		t.Fatal("expected error for missing book")
	}
}

func TestCollections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBook(t, s, "b1", "Book", "Author", "2000", 1)
	c := domain.Collection{ID: "c1", Name: "Classics", OwnerID: "u1", CreatedAt: time.Now().UTC()}
	if err := s.CreateCollection(ctx, c); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	dup := domain.Collection{ID: "c2", Name: "Classics", OwnerID: "u2", CreatedAt: time.Now().UTC()}
	if err := s.CreateCollection(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for global name clash, got %v", err)
	}
	if err := s.AddCollectionBook(ctx, "c1", "b1"); err != nil {
		t.Fatalf("add book: %v", err)
	}
	has, err := s.HasCollectionBook(ctx, "c1", "b1")
	if err != nil || !has {
		t.Fatalf("has book: %v %v", has, err)
	}
	page, err := s.ListCollections(ctx, "u1", 1, 4)
	if err != nil {
		t.Fatalf("list collections: %v", err)
	}
	if page.Total != 1 || page.Items[0].BookCount != 1 {
		t.Fatalf("unexpected collections page: %+v", page)
	}
	if err := s.DeleteCollection(ctx, "c1"); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	if _, ok, _ := s.GetCollection(ctx, "c1"); ok {
		t.Fatal("collection should be gone")
	}
	if _, ok, _ := s.GetBook(ctx, "b1"); !ok {
		t.Fatal("book should survive collection delete")
	}
	if has, _ := s.HasCollectionBook(ctx, "c1", "b1"); has {
		t.Fatal("membership should be gone")
	}
}

func TestInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Store) error {
		if err := tx.CreateGenre(ctx, domain.Genre{ID: "g1", Name: "Drama"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	genres, err := s.ListGenres(ctx)
	if err != nil {
		t.Fatalf("list genres: %v", err)
	}
	if len(genres) != 0 {
		t.Fatalf("genre should have been rolled back: %v", genres)
	}
}

func TestCreateUserDuplicateLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := domain.User{ID: "u1", Login: "reader", PasswordHash: "x", LastName: "L", FirstName: "F", Role: domain.RoleUser, CreatedAt: time.Now().UTC()}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	u.ID = "u2"
	if err := s.CreateUser(ctx, u); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, ok, err := s.GetUserByLogin(ctx, "reader")
	if err != nil || !ok || got.ID != "u1" || got.Role != domain.RoleUser {
		t.Fatalf("get by login: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestBookImageReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	book := domain.Book{
		ID: "b1", Name: "Book", Author: "Author", Publisher: "P", ShortDesc: "d",
		Volume: 1, Year: "2000", BackgroundImageID: "gone", CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateBook(ctx, book); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("book with missing image: err = %v, want ErrMissingReference", err)
	}

	img := domain.Image{ID: "i1", FileName: "a.png", MimeType: "image/png", MD5Hash: "abc", CreatedAt: now}
	if err := s.CreateImage(ctx, img); err != nil {
		t.Fatalf("create image: %v", err)
	}
	book.BackgroundImageID = img.ID
	if err := s.CreateBook(ctx, book); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := s.DeleteImage(ctx, img.ID); err == nil {
		t.Fatal("deleting an image still used by a book should fail")
	}
	if err := s.DeleteBook(ctx, book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if err := s.DeleteImage(ctx, img.ID); err != nil {
		t.Fatalf("delete unused image: %v", err)
	}
}
