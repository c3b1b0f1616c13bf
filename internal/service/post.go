package service

import (
	"context"
	"fmt"

	"go-posts/internal/model"
	"go-posts/internal/query"
)

type PostStore interface {
	PostCreator
	FindMany(ctx context.Context, d query.Descriptor) ([]model.Post, error)
	Count(ctx context.Context, p query.Predicate) (int64, error)
	FindByID(ctx context.Context, id uint) (model.Post, error)
	Update(ctx context.Context, id uint, patch model.PostPatch) (model.Post, error)
	Delete(ctx context.Context, id uint) (model.Post, error)
}

// Page is one page of posts plus the number of posts matching the query.
type Page struct {
	Data  []model.Post `json:"data"`
	Total int64        `json:"total"`
}

type PostService struct {
	store      PostStore
	normalizer *Normalizer
}

func NewPostService(store PostStore, normalizer *Normalizer) *PostService {
	return &PostService{store: store, normalizer: normalizer}
}

// List returns the page of posts selected by p. Total counts every match,
// not just the returned page.
func (s *PostService) List(ctx context.Context, p query.Params) (Page, error) {
	d, err := query.Build(p)
	if err != nil {
		return Page{}, err
	}

	posts, err := s.store.FindMany(ctx, d)
	if err != nil {
		return Page{}, err
	}

	total, err := s.store.Count(ctx, d.Predicate)
	if err != nil {
		return Page{}, err
	}

	if posts == nil {
		posts = []model.Post{}
	}
	return Page{Data: posts, Total: total}, nil
}

func (s *PostService) Get(ctx context.Context, id uint) (model.Post, error) {
	return s.store.FindByID(ctx, id)
}

// Create validates raw the same way feed items are and stores it.
func (s *PostService) Create(ctx context.Context, raw model.RawFeedItem) (model.Post, error) {
	c, err := s.normalizer.Normalize(raw)
	if err != nil {
		return model.Post{}, err
	}

	post, err := s.store.Create(ctx, c)
	if err != nil {
		return model.Post{}, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

func (s *PostService) Update(ctx context.Context, id uint, raw model.RawPostPatch) (model.Post, error) {
	patch, err := s.normalizer.NormalizePatch(raw)
	if err != nil {
		return model.Post{}, err
	}
	if patch.Empty() {
		return s.store.FindByID(ctx, id)
	}
	return s.store.Update(ctx, id, patch)
}

func (s *PostService) Delete(ctx context.Context, id uint) (model.Post, error) {
	return s.store.Delete(ctx, id)
}
