// Package learning stores well-rated blueprints and finds similar ones to
// steer the builder.
package learning

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/memohai/botsmith/internal/blueprint"
)

const (
	maxKeywords   = 3
	maxResults    = 3
	minKeywordLen = 4
	exampleTag    = "example"
)

// DefaultCacheSize bounds the number of cached keyword sets.
const DefaultCacheSize = 256

// Example is a stored blueprint offered to the builder as inspiration.
type Example struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Skills      []string            `json:"skills"`
	Tags        []string            `json:"tags"`
	Rating      int                 `json:"rating"`
	Blueprint   blueprint.Blueprint `json:"blueprint"`
	CreatedAt   time.Time           `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, ex Example) (Example, error)
	// Search returns examples whose title contains a keyword or whose tags
	// include one, newest first.
	Search(ctx context.Context, keywords []string, limit int) ([]Example, error)
}

type Service struct {
	store  Store
	cache  *lru.Cache[string, []Example]
	logger *slog.Logger
}

func NewService(log *slog.Logger, store Store, cacheSize int) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []Example](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, cache: cache, logger: log.With(slog.String("service", "learning"))}, nil
}

// SaveExample stores bp tagged with its skills, its name and "example".
func (s *Service) SaveExample(ctx context.Context, bp blueprint.Blueprint, rating int) error {
	if strings.TrimSpace(bp.Name) == "" {
		return errors.New("example needs a name")
	}
	if rating <= 0 {
		rating = 1
	}
	tags := append(append([]string{}, bp.Skills...), bp.Name, exampleTag)
	saved, err := s.store.Save(ctx, Example{
		Name:        bp.Name,
		Description: bp.Description,
		Skills:      append([]string{}, bp.Skills...),
		Tags:        tags,
		Rating:      rating,
		Blueprint:   bp.Clone(),
	})
	if err != nil {
		s.logger.Error("save learning example failed", slog.String("name", bp.Name), slog.Any("error", err))
		return err
	}
	s.cache.Purge()
	s.logger.Info("learning example saved", slog.String("id", saved.ID), slog.String("name", bp.Name), slog.Int("rating", rating))
	return nil
}

// FindSimilarExamples never fails; lookup errors yield no examples.
func (s *Service) FindSimilarExamples(ctx context.Context, query string) []Example {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil
	}
	key := strings.Join(keywords, "\x1f")
	if cached, ok := s.cache.Get(key); ok {
		return cached
	}
	found, err := s.store.Search(ctx, keywords, maxResults)
	if err != nil {
		s.logger.Warn("find similar examples failed", slog.Any("error", err))
		return nil
	}
	s.cache.Add(key, found)
	return found
}

// Keywords picks the first three words longer than three characters.
func Keywords(query string) []string {
	out := make([]string, 0, maxKeywords)
	for _, w := range strings.Fields(query) {
		if utf8.RuneCountInString(w) < minKeywordLen {
			continue
		}
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
