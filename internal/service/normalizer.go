package service

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"go-posts/internal/model"
)

var fieldNames = map[string]string{
	"Title":       "title",
	"Description": "description",
	"Link":        "link",
	"PubDate":     "pubDate",
}

var tagReasons = map[string]string{
	"required": "is required",
	"http_url": "must be a valid http(s) URL",
}

// Normalizer turns untrusted post input into typed, validated values.
type Normalizer struct {
	validate *validator.Validate
}

func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Normalize validates raw and converts it into a candidate post. The publish
// date is always re-rendered in canonical UTC form, even if it already looks
// like ISO-8601.
func (n *Normalizer) Normalize(raw model.RawFeedItem) (model.CandidatePost, error) {
	c := model.CandidatePost{
		Title:       strings.TrimSpace(raw.Title),
		Description: strings.TrimSpace(raw.Description),
		Link:        strings.TrimSpace(raw.Link),
	}

	var violations []FieldViolation

	if err := n.validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return model.CandidatePost{}, err
		}
		for _, fe := range verrs {
			// PubDate is checked below against the raw string
			if fe.StructField() == "PubDate" {
				continue
			}
			violations = append(violations, violation(fe))
		}
	}

	pubDate, v := n.pubDate(raw.PubDate)
	if v != nil {
		violations = append(violations, *v)
	}
	c.PubDate = pubDate

	if len(violations) > 0 {
		return model.CandidatePost{}, &ValidationError{Violations: violations}
	}
	return c, nil
}

// NormalizePatch validates the fields present in raw.
func (n *Normalizer) NormalizePatch(raw model.RawPostPatch) (model.PostPatch, error) {
	var (
		patch      model.PostPatch
		violations []FieldViolation
	)

	if raw.Title != nil {
		title := strings.TrimSpace(*raw.Title)
		if title == "" {
			violations = append(violations, FieldViolation{Field: "title", Reason: tagReasons["required"]})
		}
		patch.Title = &title
	}

	if raw.Description != nil {
		description := strings.TrimSpace(*raw.Description)
		if description == "" {
			violations = append(violations, FieldViolation{Field: "description", Reason: tagReasons["required"]})
		}
		patch.Description = &description
	}

	if raw.Link != nil {
		link := strings.TrimSpace(*raw.Link)
		if err := n.validate.Var(link, "required,http_url"); err != nil {
			violations = append(violations, FieldViolation{Field: "link", Reason: tagReasons["http_url"]})
		}
		patch.Link = &link
	}

	if raw.PubDate != nil {
		pubDate, v := n.pubDate(*raw.PubDate)
		if v != nil {
			violations = append(violations, *v)
		}
		patch.PubDate = &pubDate
	}

	if len(violations) > 0 {
		return model.PostPatch{}, &ValidationError{Violations: violations}
	}
	return patch, nil
}

func (n *Normalizer) pubDate(raw string) (time.Time, *FieldViolation) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &FieldViolation{Field: "pubDate", Reason: tagReasons["required"]}
	}

	t, err := model.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &FieldViolation{Field: "pubDate", Reason: "must be a valid date"}
	}
	return t, nil
}

func violation(fe validator.FieldError) FieldViolation {
	field, ok := fieldNames[fe.StructField()]
	if !ok {
		field = fe.Field()
	}

	reason, ok := tagReasons[fe.Tag()]
	if !ok {
		reason = "failed " + fe.Tag() + " check"
	}

	return FieldViolation{Field: field, Reason: reason}
}
