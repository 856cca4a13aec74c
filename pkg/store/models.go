package store

import (
	"time"

	"bookshelf/pkg/domain"
)

// GORM models used for persistence.
type RoleModel struct {
	ID          string `gorm:"primaryKey;size:32"`
	Name        string `gorm:"size:100;not null"`
	Description string `gorm:"type:text"`
}

type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Login        string    `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string    `gorm:"size:200;not null"`
	LastName     string    `gorm:"size:100;not null"`
	FirstName    string    `gorm:"size:100;not null"`
	MiddleName   string    `gorm:"size:100"`
	RoleID       string    `gorm:"size:32;not null;index"`
	CreatedAt    time.Time `gorm:"not null"`
}

type GenreModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"size:100;uniqueIndex;not null"`
}

type ImageModel struct {
	ID        string    `gorm:"primaryKey;size:100"`
	FileName  string    `gorm:"size:100;not null"`
	MimeType  string    `gorm:"size:100;not null"`
	MD5Hash   string    `gorm:"column:md5_hash;size:32;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// BookModel owns its genre links through book_genres. Associations are never
// saved implicitly; the join rows are written by hand.
//
// NameSearch and AuthorSearch hold the Unicode-folded name and author. SQLite's
// LOWER only folds ASCII, so filters match against these instead.
type BookModel struct {
	ID                string       `gorm:"primaryKey"`
	Name              string       `gorm:"size:100;not null"`
	Author            string       `gorm:"size:100;not null"`
	NameSearch        string       `gorm:"size:400;not null;default:''"`
	AuthorSearch      string       `gorm:"size:400;not null;default:''"`
	Publisher         string       `gorm:"size:100;not null"`
	ShortDesc         string       `gorm:"type:text;not null"`
	Volume            int          `gorm:"not null"`
	Year              string       `gorm:"size:4;not null;index"`
	RatingSum         int          `gorm:"not null;default:0"`
	RatingNum         int          `gorm:"not null;default:0"`
	BackgroundImageID *string      `gorm:"size:100;index"`
	BackgroundImage   *ImageModel  `gorm:"foreignKey:BackgroundImageID;constraint:OnDelete:RESTRICT"`
	Genres            []GenreModel `gorm:"many2many:book_genres;joinForeignKey:BookID;joinReferences:GenreID"`
	CreatedAt         time.Time    `gorm:"not null;index"`
	UpdatedAt         time.Time    `gorm:"not null"`
}

type ReviewModel struct {
	ID        string     `gorm:"primaryKey"`
	BookID    string     `gorm:"not null;index"`
	UserID    string     `gorm:"not null;index"`
	Rating    int        `gorm:"not null"`
	Text      string     `gorm:"type:text;not null"`
	Status    string     `gorm:"size:32;not null;index"`
	DecidedBy *string    `gorm:"size:64"`
	DecidedAt *time.Time
	CreatedAt time.Time `gorm:"not null;index"`

	// Read-only joins filled by queries that select them.
	AuthorLast  string `gorm:"->;-:migration"`
	AuthorFirst string `gorm:"->;-:migration"`
	BookName    string `gorm:"->;-:migration"`
}

type CollectionModel struct {
	ID          string      `gorm:"primaryKey"`
	Name        string      `gorm:"size:100;uniqueIndex;not null"`
	Description string      `gorm:"type:text"`
	OwnerID     string      `gorm:"not null;index"`
	Books       []BookModel `gorm:"many2many:collection_books;joinForeignKey:CollectionID;joinReferences:BookID"`
	CreatedAt   time.Time   `gorm:"not null"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Login:        u.Login,
		PasswordHash: u.PasswordHash,
		LastName:     u.LastName,
		FirstName:    u.FirstName,
		MiddleName:   u.MiddleName,
		RoleID:       string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Login:        m.Login,
		PasswordHash: m.PasswordHash,
		LastName:     m.LastName,
		FirstName:    m.FirstName,
		MiddleName:   m.MiddleName,
		Role:         domain.UserRole(m.RoleID),
		CreatedAt:    m.CreatedAt,
	}
}

func genreFromModel(m GenreModel) domain.Genre {
	return domain.Genre{ID: m.ID, Name: m.Name}
}

func imageToModel(i domain.Image) ImageModel {
	return ImageModel{ID: i.ID, FileName: i.FileName, MimeType: i.MimeType, MD5Hash: i.MD5Hash, CreatedAt: i.CreatedAt}
}

func imageFromModel(m ImageModel) domain.Image {
	return domain.Image{ID: m.ID, FileName: m.FileName, MimeType: m.MimeType, MD5Hash: m.MD5Hash, CreatedAt: m.CreatedAt}
}

func bookToModel(b domain.Book) BookModel {
	m := BookModel{
		ID:           b.ID,
		Name:         b.Name,
		Author:       b.Author,
		NameSearch:   searchKey(b.Name),
		AuthorSearch: searchKey(b.Author),
		Publisher:    b.Publisher,
		ShortDesc:    b.ShortDesc,
		Volume:       b.Volume,
		Year:         b.Year,
		RatingSum:    b.RatingSum,
		RatingNum:    b.RatingNum,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
	if b.BackgroundImageID != "" {
		id := b.BackgroundImageID
		m.BackgroundImageID = &id
	}
	return m
}

func bookFromModel(m BookModel) domain.Book {
	b := domain.Book{
		ID:        m.ID,
		Name:      m.Name,
		Author:    m.Author,
		Publisher: m.Publisher,
		ShortDesc: m.ShortDesc,
		Volume:    m.Volume,
		Year:      m.Year,
		RatingSum: m.RatingSum,
		RatingNum: m.RatingNum,
		Genres:    make([]domain.Genre, 0, len(m.Genres)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.BackgroundImageID != nil {
		b.BackgroundImageID = *m.BackgroundImageID
	}
	for _, g := range m.Genres {
		b.Genres = append(b.Genres, genreFromModel(g))
	}
	return b
}

func reviewToModel(r domain.Review) ReviewModel {
	m := ReviewModel{
		ID:        r.ID,
		BookID:    r.BookID,
		UserID:    r.UserID,
		Rating:    r.Rating,
		Text:      r.Text,
		Status:    string(r.Status),
		DecidedAt: r.DecidedAt,
		CreatedAt: r.CreatedAt,
	}
	if r.DecidedBy != "" {
		by := r.DecidedBy
		m.DecidedBy = &by
	}
	return m
}

func reviewFromModel(m ReviewModel) domain.Review {
	r := domain.Review{
		ID:        m.ID,
		BookID:    m.BookID,
		BookName:  m.BookName,
		UserID:    m.UserID,
		Rating:    m.Rating,
		Text:      m.Text,
		Status:    domain.ReviewStatus(m.Status),
		DecidedAt: m.DecidedAt,
		CreatedAt: m.CreatedAt,
	}
	if m.DecidedBy != nil {
		r.DecidedBy = *m.DecidedBy
	}
	r.AuthorName = domain.User{LastName: m.AuthorLast, FirstName: m.AuthorFirst}.FullName()
	return r
}

func collectionToModel(c domain.Collection) CollectionModel {
	return CollectionModel{ID: c.ID, Name: c.Name, Description: c.Description, OwnerID: c.OwnerID, CreatedAt: c.CreatedAt}
}

func collectionFromModel(m CollectionModel) domain.Collection {
	return domain.Collection{ID: m.ID, Name: m.Name, Description: m.Description, OwnerID: m.OwnerID, CreatedAt: m.CreatedAt}
}
