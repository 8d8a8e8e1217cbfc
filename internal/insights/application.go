package insights

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/insights/internal/common/database"
	"github.com/armadaproject/insights/internal/common/insightscontext"
	"github.com/armadaproject/insights/internal/common/workerpool"
	"github.com/armadaproject/insights/internal/insights/catalog"
	"github.com/armadaproject/insights/internal/insights/configuration"
	"github.com/armadaproject/insights/internal/insights/drilldown"
	"github.com/armadaproject/insights/internal/insights/metrics"
	"github.com/armadaproject/insights/internal/insights/model"
	"github.com/armadaproject/insights/internal/insights/orgunit"
	"github.com/armadaproject/insights/internal/insights/profiles"
	"github.com/armadaproject/insights/internal/insights/repository"
	"github.com/armadaproject/insights/internal/insights/server"
)

// App owns the process wide resources: the postgres pool and the stack worker pool.
type App struct {
	config configuration.InsightsConfig
	db     *pgxpool.Pool
	pool   *workerpool.Pool
	engine *drilldown.Engine
}

// New connects to postgres and wires the aggregation engine.
func New(ctx *insightscontext.Context, config configuration.InsightsConfig) (*App, error) {
	db, err := database.OpenPgxPool(ctx, config.Postgres)
	if err != nil {
		return nil, err
	}
	var profileSource profiles.Source = profiles.NewSqlSource(db)
	if config.ProfileCacheTtl > 0 {
		profileSource = profiles.NewCachingSource(profileSource, config.ProfileCacheTtl)
	}
	app := newApp(config, repository.NewPgStore(db), profileSource, orgunit.NewSqlResolver(db))
	app.db = db
	return app, nil
}

// NewOffline wires an engine that can explain queries but not run them.
func NewOffline(config configuration.InsightsConfig) *App {
	return newApp(config, nil, nil, nil)
}

func newApp(config configuration.InsightsConfig, store repository.Store, profileSource profiles.Source, orgUnits orgunit.Resolver) *App {
	catalogs := catalog.NewRegistry()
	pool := workerpool.New(config.Stacks.Parallelism)
	engine := drilldown.NewEngine(
		catalogs,
		repository.NewQueryBuilder(catalogs, clock.RealClock{}),
		repository.NewExecutor(store, config.SlowQueryThreshold),
		pool,
		profileSource,
		orgUnits,
		config.Stacks.MaxBuckets,
	)
	return &App{
		config: config,
		pool:   pool,
		engine: engine,
	}
}

func (a *App) Aggregate(ctx *insightscontext.Context, spec model.FilterSpec) (*model.AggregationResponse, error) {
	if a.db == nil {
		return nil, errors.New("aggregations need a database connection")
	}
	return a.engine.Aggregate(ctx, a.withDefaults(spec))
}

func (a *App) Explain(ctx *insightscontext.Context, spec model.FilterSpec) (*repository.Query, error) {
	return a.engine.Explain(ctx, a.withDefaults(spec))
}

func (a *App) withDefaults(spec model.FilterSpec) model.FilterSpec {
	if spec.AcrossLimit == 0 && a.config.DefaultAcrossLimit > 0 {
		spec.AcrossLimit = a.config.DefaultAcrossLimit
	}
	return spec
}

// RegisterMetrics registers the engine's metrics, and those of the connection pool if there is one.
func (a *App) RegisterMetrics() {
	metrics.ExposeInsightsMetrics()
	if a.db != nil {
		prometheus.MustRegister(metrics.NewDbCollector(metrics.NewPgxPoolMetricsProvider(a.db)))
	}
}

// Serve runs the http api until ctx is cancelled.
func (a *App) Serve(ctx *insightscontext.Context) error {
	if a.config.HttpPort <= 0 {
		return errors.Errorf("http port must be set to serve the api, got %d", a.config.HttpPort)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.HttpPort),
		Handler:           server.NewRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := insightscontext.ErrGroup(ctx)
	g.Go(func() error {
		ctx.Log.Infof("serving insights api on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.WithStack(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return errors.WithStack(srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// Close waits for running stack computations and releases the database connections.
func (a *App) Close(ctx *insightscontext.Context) error {
	err := a.pool.Shutdown(ctx)
	if a.db != nil {
		a.db.Close()
	}
	return err
}
