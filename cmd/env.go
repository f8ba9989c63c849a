package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/recommend"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/ttlcache"
	"github.com/sells-group/outreach-cli/pkg/geocode"
	"github.com/sells-group/outreach-cli/pkg/google"
)

// appEnv holds the components shared by commands.
type appEnv struct {
	Store        discovery.Store
	Engine       *recommend.Engine
	Orchestrator *discovery.Orchestrator
	Geocoder     geocode.Client
	Metrics      *metrics.Metrics
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// initStore opens the configured store.
func initStore(ctx context.Context) (discovery.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return discovery.NewSQLiteStore(cfg.Store.DatabaseURL)
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		return discovery.NewPostgresStoreOwned(pool), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// newGeocoder builds the Nominatim client on the shared gate.
func newGeocoder(gate *geocode.Gate, m *metrics.Metrics) geocode.Client {
	opts := []geocode.Option{
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithGate(gate),
		geocode.WithCache(ttlcache.New[string, *geocode.Result](cfg.Geocode.CacheTTL())),
		geocode.WithRetryPolicy(resilience.PolicyFromConfig(cfg.Geocode.MaxRetries, cfg.Geocode.InitialBackoffMs)),
	}
	if m != nil {
		opts = append(opts, geocode.WithObserver(func(err error) { m.ObserveExternalCall("nominatim", err) }))
	}
	return geocode.NewClient(opts...)
}

// newPlaces returns nil when no places key is configured, which disables
// external research.
func newPlaces(gate *geocode.Gate) google.Client {
	if cfg.Places.Key == "" {
		return nil
	}
	return google.NewClient(cfg.Places.Key,
		google.WithBaseURL(cfg.Places.BaseURL),
		google.WithGate(gate),
		google.WithRetryPolicy(resilience.PolicyFromConfig(cfg.Geocode.MaxRetries, cfg.Geocode.InitialBackoffMs)),
	)
}

// initEnv validates configuration for mode and wires the store, engine,
// collectors, and metrics.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	m := metrics.New()
	gate := geocode.NewGate(cfg.Geocode.RatePerSec)
	geocoder := newGeocoder(gate, m)
	m.RegisterCache("geocode", geocoder.CacheStats)

	ruleCache := ttlcache.New[string, []recommend.Rule](cfg.Discovery.RuleCacheTTL())
	m.RegisterCache("rules", ruleCache.Stats)
	engine := recommend.NewEngine(st, recommend.WithRuleCache(ruleCache))

	research := discovery.NewExternalResearch(st, newPlaces(gate), discovery.ResearchConfig{
		Keywords:         cfg.Places.Keywords,
		MaxResults:       cfg.Places.MaxResults,
		BreakerThreshold: cfg.Places.BreakerThreshold,
		BreakerCooldown:  cfg.Places.BreakerCooldown(),
	})
	research.OnQuery(m.ObservePlacesQuery)

	orch := discovery.NewOrchestrator(st, engine,
		discovery.WithCollectors(
			discovery.NewPastClients(st),
			discovery.NewDormantLeads(st, cfg.Discovery.DormantMonths),
			discovery.NewSimilarOrganizations(st),
			research,
		),
		discovery.WithRecorder(m),
	)

	return &appEnv{
		Store:        st,
		Engine:       engine,
		Orchestrator: orch,
		Geocoder:     geocoder,
		Metrics:      m,
	}, nil
}

// withRunTimeout applies the configured discovery deadline, if any.
func withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := cfg.Discovery.Timeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
