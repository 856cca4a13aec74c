package domain

import (
	"errors"
	"fmt"
	"time"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

const (
	MinRating = 0
	MaxRating = 5
)

// ErrInvalidTransition is returned when a review is moved out of a terminal state.
var ErrInvalidTransition = errors.New("invalid review status transition")

// Terminal reports whether no transition leaves s.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// Title is the moderation status label shown to users.
func (s ReviewStatus) Title() string {
	switch s {
	case ReviewPending:
		return "На рассмотрении"
	case ReviewApproved:
		return "Одобрено"
	case ReviewRejected:
		return "Отклонено"
	}
	return string(s)
}

// Transition validates moving from s to next. Only pending reviews can be decided,
// and only into approved or rejected.
func (s ReviewStatus) Transition(next ReviewStatus) error {
	if s != ReviewPending {
		return fmt.Errorf("%w: review already %s", ErrInvalidTransition, s)
	}
	if !next.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// RatingWord maps a rating on the 0..5 scale to its label.
func RatingWord(rating int) string {
	switch rating {
	case 0:
		return "ужасно"
	case 1:
		return "плохо"
	case 2:
		return "неудовлетворительно"
	case 3:
		return "удовлетворительно"
	case 4:
		return "хорошо"
	case 5:
		return "отлично"
	}
	return ""
}

type Review struct {
	ID         string       `json:"id"`
	BookID     string       `json:"bookId"`
	BookName   string       `json:"bookName,omitempty"`
	UserID     string       `json:"userId"`
	AuthorName string       `json:"authorName,omitempty"`
	Rating     int          `json:"rating"`
	Text       string       `json:"text"`
	Status     ReviewStatus `json:"status"`
	DecidedBy  string       `json:"decidedBy,omitempty"`
	DecidedAt  *time.Time   `json:"decidedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// ReviewSort orders review listings.
type ReviewSort string

const (
	SortRecent   ReviewSort = "recent"
	SortPositive ReviewSort = "positive"
	SortNegative ReviewSort = "negative"
)

// ParseReviewSort falls back to recency for unknown input.
func ParseReviewSort(raw string) ReviewSort {
	switch ReviewSort(raw) {
	case SortPositive, SortNegative:
		return ReviewSort(raw)
	}
	return SortRecent
}
