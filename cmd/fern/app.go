package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/entity"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/remote"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	relroutes "github.com/Ramsey-B/fern/pkg/routes/relationships"
	"github.com/Ramsey-B/fern/pkg/routes/syncs"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/server"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/syncer"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

type app struct {
	cfg       *config.Config
	logger    ectologger.Logger
	flush     func()
	storeKind string

	registry     *schema.Registry
	db           database.DB
	store        store.Store
	durable      *relationships.Store
	redis        *redis.Client
	producer     *kafka.Producer
	graph        *graph.Client
	orchestrator *syncer.Orchestrator
	scheduler    *scheduler.Scheduler
	checker      *health.Checker
	server       *server.Server

	startup         *startup.Startup
	shutdownTracing func(context.Context) error
}

func newApp(storeKind string) (*app, error) {
	if storeKind != storePostgres && storeKind != storeMemory {
		return nil, fmt.Errorf("unknown store %q (use %s or %s)", storeKind, storePostgres, storeMemory)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLogs})
	if err != nil {
		return nil, err
	}

	registry, err := schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		flush()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		flush:     flush,
		storeKind: storeKind,
		registry:  registry,
		checker:   health.NewChecker(cfg.Version),
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
	a.addCore()
	return a, nil
}

// addCore registers everything a one-shot command needs: store, lock, observers and the orchestrator.
func (a *app) addCore() {
	cfg := a.cfg
	core := []string{"store"}

	a.startup.AddDependency(&startup.Func{
		Name:    "tracing",
		StartFn: a.startTracing,
		StopFn: func(ctx context.Context) error {
			if a.shutdownTracing == nil {
				return nil
			}
			return a.shutdownTracing(ctx)
		},
	})

	if a.storeKind == storePostgres {
		a.startup.AddDependency(&startup.Func{
			Name:    "database",
			Needs:   []string{"tracing"},
			StartFn: a.startDatabase,
			StopFn: func(context.Context) error {
				if a.db == nil {
					return nil
				}
				return a.db.Close()
			},
		})
	}
	a.startup.AddDependency(&startup.Func{Name: "store", Needs: a.storeNeeds(), StartFn: a.startStore})

	if cfg.RedisEnabled {
		core = append(core, "redis")
		a.startup.AddDependency(&startup.Func{
			Name: "redis",
			StartFn: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				a.redis = client
				a.checker.AddCheck("redis", client.Ping)
				return nil
			},
			StopFn: func(context.Context) error {
				if a.redis == nil {
					return nil
				}
				return a.redis.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		core = append(core, "kafka")
		a.startup.AddDependency(&startup.Func{
			Name:    "kafka",
			StartFn: a.startKafka,
			StopFn: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		core = append(core, "graph")
		a.startup.AddDependency(&startup.Func{
			Name: "graph",
			StartFn: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return err
				}
				a.graph = client
				a.checker.AddCheck("graph", client.VerifyConnectivity)
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if a.graph == nil {
					return nil
				}
				return a.graph.Close(ctx)
			},
		})
	}

	a.startup.AddDependency(&startup.Func{
		Name:    "orchestrator",
		Needs:   core,
		StartFn: a.startOrchestrator,
		StopFn: func(ctx context.Context) error {
			if a.durable != nil {
				a.durable.Save(ctx)
			}
			return nil
		},
	})
}

func (a *app) storeNeeds() []string {
	if a.storeKind == storePostgres {
		return []string{"database"}
	}
	return []string{"tracing"}
}

// addServing registers the scheduler and HTTP server used by `fern serve`.
func (a *app) addServing() {
	cfg := a.cfg

	a.startup.AddDependency(&startup.Func{
		Name:  "scheduler",
		Needs: []string{"orchestrator"},
		StartFn: func(ctx context.Context) error {
			if !cfg.SchedulerEnabled {
				return nil
			}
			return a.scheduler.Start(context.WithoutCancel(ctx))
		},
		StopFn: a.stopScheduler,
	})

	a.startup.AddDependency(&startup.Func{
		Name:  "http",
		Needs: []string{"orchestrator"},
		StartFn: func(ctx context.Context) error {
			a.server = server.New(server.Config{
				Port:            cfg.Port,
				ServiceName:     cfg.AppName,
				ShutdownTimeout: cfg.ShutdownTimeout,
			}, a.logger, a.checker,
				syncs.NewHandler(a.scheduler, a.orchestrator, a.logger),
				relroutes.NewHandler(a.durable))
			return a.server.Start(ctx)
		},
		StopFn: func(ctx context.Context) error {
			if a.server == nil {
				return nil
			}
			return a.server.Stop(ctx)
		},
	})
}

func (a *app) stopScheduler(ctx context.Context) error {
	if a.scheduler == nil {
		return nil
	}
	return a.scheduler.Stop(ctx)
}

func (a *app) startTracing(ctx context.Context) error {
	if a.cfg.TracingExporter == "none" {
		return nil
	}
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: a.cfg.OTLPEndpoint,
		Protocol: a.cfg.TracingExporter,
		Insecure: a.cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = tracing.Setup(a.cfg.AppName, exporter)
	return nil
}

func (a *app) startDatabase(ctx context.Context) error {
	cfg := a.cfg
	db, err := database.Connect(ctx, database.Config{
		Host:            cfg.DatabaseHost,
		Port:            strconv.Itoa(cfg.DatabasePort),
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             cfg.DatabaseMigrationVersion,
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(db.SQL()); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	a.checker.AddCheck("database", db.PingContext)
	return nil
}

func (a *app) startStore(context.Context) error {
	if a.storeKind == storeMemory {
		a.store = store.NewMemory(a.registry)
		return nil
	}
	a.store = entity.NewRepository(a.db, a.registry, a.logger)
	return nil
}

func (a *app) startKafka(ctx context.Context) error {
	cfg := a.cfg
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka is enabled but KAFKA_BROKERS is empty")
	}
	conn, err := kafkago.DialContext(ctx, "tcp", cfg.KafkaBrokers[0])
	if err != nil {
		return fmt.Errorf("failed to reach kafka at %s: %w", cfg.KafkaBrokers[0], err)
	}
	_ = conn.Close()

	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, a.logger)
	return nil
}

func (a *app) startOrchestrator(context.Context) error {
	cfg := a.cfg
	localization, err := syncer.ParseLocalization(cfg.Localization)
	if err != nil {
		return err
	}

	source := remote.NewClient(remote.Config{
		BaseURL:       cfg.RemoteBaseURL,
		SpaceID:       cfg.RemoteSpaceID,
		EnvironmentID: cfg.RemoteEnvironment,
		AccessToken:   cfg.RemoteAccessToken,
		Timeout:       cfg.RemoteTimeout,
		MaxPages:      cfg.RemoteMaxPages,
		MaxRetries:    cfg.RemoteMaxRetries,
	}, a.logger)
	if a.redis != nil && cfg.RemoteRateLimit > 0 {
		source.WithLimiter(redis.NewRateLimiter(a.redis, "fern:ratelimit:"+cfg.RemoteSpaceID, int64(cfg.RemoteRateLimit), time.Second))
	}

	a.durable = relationships.NewStore(cfg.SnapshotPath, a.logger)

	var observers []syncer.Observer
	if a.producer != nil {
		observers = append(observers, events.NewEmitter(a.producer, a.logger))
	}
	if a.graph != nil {
		observers = append(observers, graph.NewProjector(a.graph, a.logger))
	}

	a.orchestrator = syncer.NewOrchestrator(a.registry, a.store, source, a.durable, a.logger, syncer.Options{
		Localization:   localization,
		StrictMapping:  cfg.StrictMapping,
		PerQueryLookup: cfg.PerQueryLookup,
		Observers:      observers,
	})

	var locker scheduler.Locker
	if a.redis != nil {
		locker = redis.NewLocker(a.redis, "fern:lock:")
	}
	a.scheduler = scheduler.NewScheduler(a.orchestrator, locker, scheduler.Config{
		Interval: cfg.SyncInterval,
		LockTTL:  cfg.SyncLockTTL,
		Jitter:   cfg.SyncJitter,
	}, a.logger)
	return nil
}

func (a *app) start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Error("Shutdown finished with errors")
	}
	a.flush()
}
