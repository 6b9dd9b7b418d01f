package server

import (
	"context"
	"fmt"

	"markethub/pkg/auth"
	"markethub/pkg/cache"
	"markethub/pkg/config"
	"markethub/pkg/jobs"
	"markethub/pkg/logger"
	"markethub/pkg/realtime"
	"markethub/pkg/scheduler"
	"markethub/pkg/storage"
)

// Collaborators are the marketplace subsystems the background jobs drive.
// Production wiring injects the real implementations; anything left nil is
// replaced with an inert stand-in so the schedule still runs end to end.
type Collaborators struct {
	Scraper     jobs.Scraper
	Indexer     jobs.Indexer
	Recommender jobs.Recommender
}

// Services holds all major application services for dependency injection
type Services struct {
	Config    *config.ServerConfig
	Logger    *logger.Logger
	Store     storage.Store
	Cache     *cache.Cache
	Registry  *realtime.ConnectionRegistry
	Router    *realtime.TopicRouter
	Publisher *realtime.Publisher
	Presence  *realtime.Coordinator
	Scheduler *scheduler.Scheduler
}

// NewServices creates and initializes all services
func NewServices(ctx context.Context, cfg *config.ServerConfig, collab Collaborators) (*Services, error) {
	log := logger.Get()

	log.InfoWith("initializing services", "config", cfg.String())

	store, err := storage.NewStore(cfg.Database)
	if err != nil {
		log.ErrorWithErr("failed to initialize storage", err)
		return nil, err
	}

	// Redis is optional; the publisher treats a nil cache as a disabled
	// write-through.
	var hot *cache.Cache
	var snapshots realtime.SnapshotCache
	if cfg.Redis.Enabled {
		hot, err = cache.Connect(ctx, cfg.Redis)
		if err != nil {
			store.Close()
			log.ErrorWithErr("failed to connect to redis", err)
			return nil, err
		}
		snapshots = hot
	}

	registry := realtime.NewConnectionRegistry()
	router := realtime.NewTopicRouter()
	publisher := realtime.NewPublisher(registry, router, snapshots)

	var verifier auth.TokenVerifier
	if cfg.Auth.TrustAll {
		log.Warn("token verification disabled, trusting all tokens")
		verifier = auth.TrustAllVerifier{}
	} else {
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	}

	presence := realtime.NewCoordinator(registry, router, publisher, verifier)

	sched := scheduler.New()
	if err := registerJobs(sched, cfg.Jobs, store, fillCollaborators(collab)); err != nil {
		if hot != nil {
			hot.Close()
		}
		store.Close()
		return nil, err
	}

	log.Info("services initialized successfully")

	return &Services{
		Config:    cfg,
		Logger:    log,
		Store:     store,
		Cache:     hot,
		Registry:  registry,
		Router:    router,
		Publisher: publisher,
		Presence:  presence,
		Scheduler: sched,
	}, nil
}

// registerJobs attaches the standard maintenance schedule to the scheduler
func registerJobs(sched *scheduler.Scheduler, cfg config.JobsConfig, store storage.Store, collab Collaborators) error {
	schedule := []scheduler.Job{
		jobs.NewScrapeJob(collab.Scraper, cfg.ScrapeInterval),
		jobs.NewReindexJob(collab.Indexer, cfg.ReindexInterval),
		jobs.NewPurgeJob(collab.Indexer, store, cfg.PurgeHour, cfg.RetentionDays),
		jobs.NewRecommendJob(store, collab.Recommender, cfg.RecommendInterval, cfg.RecommendBatchSize, cfg.RecommendLimit),
	}
	for _, job := range schedule {
		if err := sched.Register(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return nil
}

// fillCollaborators substitutes inert stand-ins for any nil collaborator
func fillCollaborators(c Collaborators) Collaborators {
	if c.Scraper == nil {
		c.Scraper = noopScraper{}
	}
	if c.Indexer == nil {
		c.Indexer = noopIndexer{}
	}
	if c.Recommender == nil {
		c.Recommender = noopRecommender{}
	}
	return c
}

type noopScraper struct{}

func (noopScraper) ScrapeAllProviders(ctx context.Context) (jobs.ScrapeResult, error) {
	return jobs.ScrapeResult{}, nil
}

func (noopScraper) ScrapeProvider(ctx context.Context, providerID string) (jobs.ScrapeResult, error) {
	return jobs.ScrapeResult{}, nil
}

type noopIndexer struct{}

func (noopIndexer) RebuildIndex(ctx context.Context) error { return nil }

func (noopIndexer) CleanupOldData(ctx context.Context, retentionDays int) error { return nil }

type noopRecommender struct{}

func (noopRecommender) GenerateBatch(ctx context.Context, userIDs []string, limit int) (map[string][]jobs.Recommendation, error) {
	return map[string][]jobs.Recommendation{}, nil
}
