package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// TimestampLayout is the canonical ISO-8601 rendering of a pubDate.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:1000;not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Link        string    `gorm:"size:2048;uniqueIndex;not null" json:"link"`
	PubDate     time.Time `gorm:"not null;index" json:"pubDate"`
}

// MarshalJSON renders pubDate in the canonical millisecond form.
func (p Post) MarshalJSON() ([]byte, error) {
	type plain Post
	return json.Marshal(struct {
		plain
		PubDate string `json:"pubDate"`
	}{plain: plain(p), PubDate: FormatTimestamp(p.PubDate)})
}

// CandidatePost is a validated feed item ready to be inserted.
type CandidatePost struct {
	Title       string    `validate:"required"`
	Description string    `validate:"required"`
	Link        string    `validate:"required,http_url"`
	PubDate     time.Time `validate:"required"`
}

func (c CandidatePost) Post() Post {
	return Post{
		Title:       c.Title,
		Description: c.Description,
		Link:        c.Link,
		PubDate:     c.PubDate,
	}
}

// RawFeedItem holds the untrusted fields of one <item>. Any of them may be empty.
type RawFeedItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate"`
}

// PostPatch carries a partial update; nil fields are left untouched.
type PostPatch struct {
	Title       *string
	Description *string
	Link        *string
	PubDate     *time.Time
}

func (p PostPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Link == nil && p.PubDate == nil
}

// CanonicalTime normalizes t to UTC with millisecond precision.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func FormatTimestamp(t time.Time) string {
	return CanonicalTime(t).Format(TimestampLayout)
}

// ParseTimestamp accepts the date formats commonly found in feeds (RFC 1123,
// RFC 3339, ISO-8601 and friends). Inputs without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return CanonicalTime(t), nil
}

// Apply copies the set fields of p onto post.
func (p PostPatch) Apply(post *Post) {
	if p.Title != nil {
		post.Title = *p.Title
	}
	if p.Description != nil {
		post.Description = *p.Description
	}
	if p.Link != nil {
		post.Link = *p.Link
	}
	if p.PubDate != nil {
		post.PubDate = CanonicalTime(*p.PubDate)
	}
}

// RawPostPatch is the untrusted form of PostPatch as received over HTTP.
type RawPostPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Link        *string `json:"link"`
	PubDate     *string `json:"pubDate"`
}
