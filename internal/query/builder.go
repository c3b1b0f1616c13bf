// Package query turns untrusted listing parameters into a bounded,
// whitelisted descriptor that the store can execute without building SQL
// from caller input.
package query

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"go-posts/internal/model"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Field is a column that callers may filter or sort on.
type Field string

const (
	FieldID          Field = "id"
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldLink        Field = "link"
	FieldPubDate     Field = "pubDate"
)

var columns = map[Field]string{
	FieldID:          "id",
	FieldTitle:       "title",
	FieldDescription: "description",
	FieldLink:        "link",
	FieldPubDate:     "pub_date",
}

// Column returns the storage column backing f.
func (f Field) Column() string {
	return columns[f]
}

var filterable = map[string]Field{
	"title":       FieldTitle,
	"description": FieldDescription,
	"link":        FieldLink,
	"pubDate":     FieldPubDate,
}

var sortable = map[string]Field{
	"id":          FieldID,
	"title":       FieldTitle,
	"description": FieldDescription,
	"link":        FieldLink,
	"pubDate":     FieldPubDate,
}

// SearchFields are matched by the free-text search term.
var SearchFields = []Field{FieldTitle, FieldDescription, FieldLink}

// Params are the raw listing parameters as received from a caller.
type Params struct {
	Search string
	Page   int
	Limit  int
	Sort   string
	Filter map[string]string
}

// Match is an exact-match constraint. Value is a string, or a time.Time for
// FieldPubDate.
type Match struct {
	Field Field
	Value any
}

type Predicate struct {
	// Search is the trimmed search term; empty means no search.
	Search string
	// Equals is ordered by field name.
	Equals []Match
}

func (p Predicate) Empty() bool {
	return p.Search == "" && len(p.Equals) == 0
}

type Order struct {
	Field Field
	Desc  bool
}

type Descriptor struct {
	Predicate Predicate
	// Order is nil for the store's default (insertion) ordering.
	Order  *Order
	Offset int
	Limit  int
}

// FieldError reports a filter that cannot be applied.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("filter %q: %s", e.Field, e.Reason)
}

// Build resolves p into a Descriptor. It has no side effects and returns the
// same descriptor for the same input.
func Build(p Params) (Descriptor, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	page := max(p.Page, 1)
	// Saturate so the offset cannot overflow; such a page is simply empty
	if maxPage := math.MaxInt/limit + 1; page > maxPage {
		page = maxPage
	}

	predicate := Predicate{Search: strings.TrimSpace(p.Search)}

	for _, key := range slices.Sorted(maps.Keys(p.Filter)) {
		m, err := buildMatch(key, p.Filter[key])
		if err != nil {
			return Descriptor{}, err
		}
		predicate.Equals = append(predicate.Equals, m)
	}

	order, _ := ParseSort(p.Sort)

	return Descriptor{
		Predicate: predicate,
		Order:     order,
		Offset:    (page - 1) * limit,
		Limit:     limit,
	}, nil
}

func buildMatch(key, value string) (Match, error) {
	field, ok := filterable[key]
	if !ok {
		return Match{}, &FieldError{Field: key, Reason: "not a filterable field"}
	}

	if field != FieldPubDate {
		return Match{Field: field, Value: value}, nil
	}

	t, err := model.ParseTimestamp(value)
	if err != nil {
		return Match{}, &FieldError{Field: key, Reason: "not a valid date"}
	}
	return Match{Field: field, Value: t}, nil
}

// ParseSort parses "<field>:<asc|desc>". It returns false when s is empty,
// malformed or names a field outside the whitelist.
func ParseSort(s string) (*Order, bool) {
	name, dir, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return nil, false
	}

	field, ok := sortable[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}

	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "asc":
		return &Order{Field: field}, true
	case "desc":
		return &Order{Field: field, Desc: true}, true
	default:
		return nil, false
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern returns a lower-cased LIKE pattern matching term as a
// substring. Wildcards in term are escaped with a backslash.
func ContainsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
}
