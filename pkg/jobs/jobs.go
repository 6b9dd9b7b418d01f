// Package jobs builds the standard recurring maintenance jobs over the
// collaborator interfaces the rest of the application implements. The
// scheduler only sees opaque handlers; all domain calls live here.
package jobs

import (
	"context"
	"fmt"
	"time"

	"markethub/pkg/logger"
	"markethub/pkg/scheduler"
)

// Job names as they appear in the schedule and the stats endpoint
const (
	JobScrape    = "scrape-providers"
	JobReindex   = "rebuild-search-index"
	JobPurge     = "purge-stale-data"
	JobRecommend = "batch-recommendations"
)

// activeUserWindow is the lookback for the recommendation job
const activeUserWindow = 24 * time.Hour

// maxRecommendBatches caps how many batches one recommendation run processes
const maxRecommendBatches = 10

// ScrapeResult summarizes one scraping run
type ScrapeResult struct {
	Providers int `json:"providers"`
	Products  int `json:"products"`
	Failed    int `json:"failed"`
}

// Scraper pulls fresh product data from external providers
type Scraper interface {
	ScrapeAllProviders(ctx context.Context) (ScrapeResult, error)
	ScrapeProvider(ctx context.Context, providerID string) (ScrapeResult, error)
}

// Indexer maintains the search index
type Indexer interface {
	RebuildIndex(ctx context.Context) error
	CleanupOldData(ctx context.Context, retentionDays int) error
}

// Recommendation is one recommended product for a user
type Recommendation struct {
	ProductID string  `json:"productId"`
	Score     float64 `json:"score"`
}

// Recommender generates product recommendations for a batch of users
type Recommender interface {
	GenerateBatch(ctx context.Context, userIDs []string, limit int) (map[string][]Recommendation, error)
}

// ActiveUserSource queries users active since a timestamp, capped to a limit
type ActiveUserSource interface {
	ActiveUsersSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// SnapshotPurger deletes persisted product snapshots older than a retention window
type SnapshotPurger interface {
	PurgeStaleSnapshots(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewScrapeJob scrapes all providers on a fixed cadence
func NewScrapeJob(scraper Scraper, interval time.Duration) scheduler.Job {
	log := logger.Get().With("job", JobScrape)
	return scheduler.Job{
		Name:     JobScrape,
		Interval: interval,
		Handler: func(ctx context.Context) error {
			result, err := scraper.ScrapeAllProviders(ctx)
			if err != nil {
				return fmt.Errorf("scrape all providers: %w", err)
			}
			log.InfoWith("scrape run finished",
				"providers", result.Providers, "products", result.Products, "failed", result.Failed)
			return nil
		},
	}
}

// NewReindexJob rebuilds the search index on a fixed cadence
func NewReindexJob(indexer Indexer, interval time.Duration) scheduler.Job {
	return scheduler.Job{
		Name:     JobReindex,
		Interval: interval,
		Handler: func(ctx context.Context) error {
			if err := indexer.RebuildIndex(ctx); err != nil {
				return fmt.Errorf("rebuild search index: %w", err)
			}
			return nil
		},
	}
}

// NewPurgeJob removes search data and product snapshots older than the
// retention window, daily at the given hour
func NewPurgeJob(indexer Indexer, purger SnapshotPurger, hour, retentionDays int) scheduler.Job {
	log := logger.Get().With("job", JobPurge)
	atHour := hour
	return scheduler.Job{
		Name:   JobPurge,
		AtHour: &atHour,
		Handler: func(ctx context.Context) error {
			if err := indexer.CleanupOldData(ctx, retentionDays); err != nil {
				return fmt.Errorf("cleanup search data: %w", err)
			}
			purged, err := purger.PurgeStaleSnapshots(ctx, time.Duration(retentionDays)*24*time.Hour)
			if err != nil {
				return fmt.Errorf("purge snapshots: %w", err)
			}
			log.InfoWith("purge finished", "retentionDays", retentionDays, "snapshotsPurged", purged)
			return nil
		},
	}
}

// NewRecommendJob generates recommendations for users active in the last 24
// hours, processed in capped-size batches. The handler checks its context
// between batches so a stopping scheduler is not held up by bulk work.
func NewRecommendJob(users ActiveUserSource, recommender Recommender, interval time.Duration, batchSize, limit int) scheduler.Job {
	log := logger.Get().With("job", JobRecommend)
	return scheduler.Job{
		Name:     JobRecommend,
		Interval: interval,
		Handler: func(ctx context.Context) error {
			since := time.Now().Add(-activeUserWindow)
			userIDs, err := users.ActiveUsersSince(ctx, since, batchSize*maxRecommendBatches)
			if err != nil {
				return fmt.Errorf("query active users: %w", err)
			}
			if len(userIDs) == 0 {
				return nil
			}

			generated := 0
			for start := 0; start < len(userIDs); start += batchSize {
				if err := ctx.Err(); err != nil {
					return err
				}
				end := start + batchSize
				if end > len(userIDs) {
					end = len(userIDs)
				}
				results, err := recommender.GenerateBatch(ctx, userIDs[start:end], limit)
				if err != nil {
					return fmt.Errorf("generate batch [%d:%d]: %w", start, end, err)
				}
				generated += len(results)
			}

			log.InfoWith("recommendation run finished", "activeUsers", len(userIDs), "usersGenerated", generated)
			return nil
		},
	}
}
