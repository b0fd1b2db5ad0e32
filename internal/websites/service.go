// Package websites manages the user's blocked-website list and keeps the
// enforcement aggregator's domain set current as rows change locally or
// arrive over the feed.
package websites

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/google/uuid"
)

// ErrDuplicateDomain means the normalized domain is already on the list.
var ErrDuplicateDomain = errors.New("domain already blocked")

type Service struct {
	websites *syncer.Synchronizer[models.BlockedWebsite]
	agg      *enforce.Aggregator
	userID   string
	log      logging.Logger
	now      func() time.Time
}

func New(websites *syncer.Synchronizer[models.BlockedWebsite], agg *enforce.Aggregator, userID string, log logging.Logger) *Service {
	return &Service{
		websites: websites,
		agg:      agg,
		userID:   userID,
		log:      log.With("module", "websites"),
		now:      time.Now,
	}
}

// Add normalizes and blocks a domain. Normalization happens before the
// uniqueness check so "HTTPS://WWW.Reddit.com/r/all" and "reddit.com"
// collide.
func (s *Service) Add(ctx context.Context, rawDomain string) (models.BlockedWebsite, error) {
	domain, err := models.NormalizeDomain(rawDomain)
	if err != nil {
		return models.BlockedWebsite{}, err
	}

	existing, err := s.websites.List(ctx)
	if err != nil {
		return models.BlockedWebsite{}, err
	}
	for _, w := range existing {
		if w.Domain == domain {
			return models.BlockedWebsite{}, ErrDuplicateDomain
		}
	}

	w := models.BlockedWebsite{
		ID:        uuid.NewString(),
		UserID:    s.userID,
		Domain:    domain,
		CreatedAt: s.now(),
	}
	if err := s.websites.Push(ctx, w); err != nil {
		return models.BlockedWebsite{}, err
	}
	return w, s.refresh(ctx)
}

// Remove unblocks by row id.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.websites.Delete(ctx, id); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// Domains returns the blocked set, sorted, deduplicated. Rows that arrived
// from elsewhere with equal domains collapse to one entry.
func (s *Service) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.websites.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rows))
	domains := make([]string, 0, len(rows))
	for _, w := range rows {
		if _, ok := seen[w.Domain]; ok {
			continue
		}
		seen[w.Domain] = struct{}{}
		domains = append(domains, w.Domain)
	}
	sort.Strings(domains)
	return domains, nil
}

// refresh hands the current set to the aggregator, which pushes it to the
// backend only while enforcement is active.
func (s *Service) refresh(ctx context.Context) error {
	domains, err := s.Domains(ctx)
	if err != nil {
		return err
	}
	return s.agg.SetWebsites(ctx, domains)
}

// Run keeps the aggregator's set in step with feed-delivered changes.
func (s *Service) Run(ctx context.Context) {
	updates := s.websites.Updates()
	if err := s.refresh(ctx); err != nil {
		s.log.Warn(ctx, "initial website refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, open := <-updates:
			if !open {
				return
			}
			if err := s.refresh(ctx); err != nil {
				s.log.Warn(ctx, "website refresh failed", "error", err)
			}
		}
	}
}
