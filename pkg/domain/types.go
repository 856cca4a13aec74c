package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleModerator UserRole = "moderator"
	RoleUser      UserRole = "user"
)

// Roles lists the seeded role tiers, highest first.
func Roles() []UserRole {
	return []UserRole{RoleAdmin, RoleModerator, RoleUser}
}

// Valid reports whether r is a seeded role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleUser:
		return true
	}
	return false
}

// Title returns the display name stored alongside the role.
func (r UserRole) Title() string {
	switch r {
	case RoleAdmin:
		return "Администратор"
	case RoleModerator:
		return "Модератор"
	case RoleUser:
		return "Пользователь"
	}
	return ""
}

type User struct {
	ID           string    `json:"id"`
	Login        string    `json:"login"`
	PasswordHash string    `json:"-"`
	LastName     string    `json:"lastName"`
	FirstName    string    `json:"firstName"`
	MiddleName   string    `json:"middleName,omitempty"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FullName joins the non-empty name parts in "last first middle" order.
func (u User) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.LastName, u.FirstName, u.MiddleName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Image struct {
	ID        string    `json:"id"`
	FileName  string    `json:"fileName"`
	MimeType  string    `json:"mimeType"`
	MD5Hash   string    `json:"md5Hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// StorageKey is the blob name: the image id plus the lowercased original extension.
func (i Image) StorageKey() string {
	return i.ID + strings.ToLower(filepath.Ext(i.FileName))
}

type Book struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Author            string    `json:"author"`
	Publisher         string    `json:"publisher"`
	ShortDesc         string    `json:"shortDesc"`
	Volume            int       `json:"volume"`
	Year              string    `json:"year"`
	RatingSum         int       `json:"ratingSum"`
	RatingNum         int       `json:"ratingNum"`
	BackgroundImageID string    `json:"backgroundImageId,omitempty"`
	Genres            []Genre   `json:"genres"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Rating returns the average approved rating, or 0 when nothing was approved yet.
func (b Book) Rating() float64 {
	if b.RatingNum == 0 {
		return 0
	}
	return float64(b.RatingSum) / float64(b.RatingNum)
}

// GenreIDs returns the ids of the book's genres in order.
func (b Book) GenreIDs() []string {
	ids := make([]string, 0, len(b.Genres))
	for _, g := range b.Genres {
		ids = append(ids, g.ID)
	}
	return ids
}

type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	BookCount   int       `json:"bookCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OwnedBy returns the owning user id.
func (c Collection) OwnedBy() string {
	return c.OwnerID
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Page    int   `json:"page"`
	PerPage int   `json:"perPage"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
}

// NewPage fills the derived page count.
func NewPage[T any](items []T, page, perPage int, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if perPage > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return Page[T]{Items: items, Page: page, PerPage: perPage, Total: total, Pages: pages}
}

// Offset converts a 1-based page number into a row offset, clamping bad input to the first page.
func Offset(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	return page, (page - 1) * perPage
}
