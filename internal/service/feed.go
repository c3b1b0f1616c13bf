package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed/rss"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"go-posts/config"
	"go-posts/internal/model"
)

// maxFeedSize caps how much of a response body is handed to the parser.
const maxFeedSize = 32 << 20

type FeedService struct {
	link   string
	token  string
	client *http.Client
}

func NewFeedService(cfg config.FeedConfig) *FeedService {
	return &FeedService{
		link:   cfg.Link,
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch downloads the configured feed and returns its items in document
// order. Values are passed through untouched apart from surrounding
// whitespace; validation happens later in the Normalizer.
func (s *FeedService) Fetch(ctx context.Context) ([]model.RawFeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.link, nil)
	if err != nil {
		return nil, &FetchError{URL: s.link, Err: err}
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.link, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			URL:        s.link,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	// rss.Parser keeps per-document state, so each fetch gets its own
	feed, err := (&rss.Parser{}).Parse(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	items := lo.Map(feed.Items, func(item *rss.Item, _ int) model.RawFeedItem {
		return model.RawFeedItem{
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			Link:        strings.TrimSpace(item.Link),
			PubDate:     strings.TrimSpace(item.PubDate),
		}
	})

	log.WithFields(log.Fields{
		"link":  s.link,
		"items": len(items),
	}).Debug("Feed fetched")

	return items, nil
}
