package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"admin-auth-service/internal/audit"
	"admin-auth-service/internal/bucketing"
	"admin-auth-service/internal/client"
	"admin-auth-service/internal/config"
	"admin-auth-service/internal/credential"
	"admin-auth-service/internal/encryption"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/models"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/repository/memory"
	redisstore "admin-auth-service/internal/repository/redis"
	"admin-auth-service/internal/repository/scylla"
	"admin-auth-service/internal/service"
	"admin-auth-service/internal/tls"
	"admin-auth-service/internal/util"
)

const memoryStoreBuckets = 64

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	// Backends
	store       repository.Store
	memoryStore *memory.Store
	accounts    credential.AccountStore
	auditLogger *audit.Logger

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory(ctx context.Context, cfg *config.Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(cfg)
	}

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := factory.initializeManagers(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	if err := factory.initializeBackends(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}
	factory.initializeAudit()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.Auth.StoreBackend),
		util.String("account_backend", cfg.Auth.AccountBackend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients connects only the clients the configuration selects.
// Audit sinks are optional outside production.
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var initErrors []error

	if f.config.Auth.StoreBackend == config.BackendRedis {
		c, err := client.NewRedisClient(f.config)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = c
	}

	if f.config.Auth.AccountBackend == config.BackendScylla {
		c, err := scylla.NewScyllaClient(f.config)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
	}

	if f.config.Audit.KafkaEnabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			if err := producer.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("kafka health check: %w", err))
			}
		}
	}

	if f.config.Audit.ElasticsearchEnabled {
		if c, err := client.NewElasticsearchClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
			}
		}
	}

	if f.config.Audit.ClickhouseEnabled {
		if c, err := client.NewClickHouseClient(f.config); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			if err := c.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			}
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(hashing.DefaultBcryptCost)
	f.bucketingManager = bucketing.NewManager(memoryStoreBuckets)

	var kmsAPI encryption.KMSAPI
	if f.config.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, f.config.KMS)
		if err != nil {
			return err
		}
		kmsAPI = kmsClient
	} else if f.config.IsProduction() {
		util.Warn("KMS disabled in production; MFA secrets use a process-local key")
	}

	m, err := encryption.NewManager(kmsAPI, f.config.KMS.KeyID)
	if err != nil {
		return err
	}
	f.encryptionManager = m

	util.Info("Managers initialized successfully",
		util.Int("buckets", f.bucketingManager.Buckets()),
		util.Bool("kms", kmsAPI != nil),
	)
	return nil
}

func (f *Factory) initializeBackends(ctx context.Context) error {
	switch f.config.Auth.StoreBackend {
	case config.BackendRedis:
		f.store = redisstore.NewStore(f.redisClient)
	default:
		f.memoryStore = memory.NewStore(f.bucketingManager)
		f.memoryStore.StartSweeper(ctx, f.config.Auth.SweepInterval)
		f.store = f.memoryStore
	}

	switch f.config.Auth.AccountBackend {
	case config.BackendScylla:
		f.accounts = scylla.NewAdminRepository(f.scyllaClient)
	default:
		accounts := memory.NewAccountStore()
		if email := f.config.Auth.BootstrapAdminEmail; email != "" {
			accounts.Put(&models.AdminAccount{
				AdminID:      "bootstrap-admin",
				Email:        util.NormalizeEmail(email),
				PasswordHash: f.config.Auth.BootstrapAdminPasswordHash,
				Role:         models.RoleSuperAdmin,
				IsActive:     true,
				CreatedAt:    time.Now().UTC(),
			})
			util.Info("Bootstrap admin seeded", util.String("email", email))
		}
		f.accounts = accounts
	}
	return nil
}

func (f *Factory) initializeAudit() {
	var sinks []audit.Sink
	if f.kafkaProducer != nil {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer))
	}
	if f.clickhouseClient != nil {
		sinks = append(sinks, audit.NewClickHouseSink(f.clickhouseClient))
	}
	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient))
	}
	f.auditLogger = audit.NewLoggerWithQueue(f.config.Audit.SinkTimeout, f.config.Audit.QueueSize, sinks...)

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	util.Info("Audit logger initialized", util.Any("sinks", names))
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.store,
			f.accounts,
			f.hasher,
			f.encryptionManager,
			f.auditLogger,
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

// HealthCheck returns one entry per failing dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}
	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(ctx); err != nil {
			healthErrors["scylla"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.store == nil {
		healthErrors["store"] = fmt.Errorf("store not initialized")
	}
	if f.accounts == nil {
		healthErrors["accounts"] = fmt.Errorf("account store not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = fmt.Errorf("encryption manager not initialized")
	}

	return healthErrors
}

// IsHealthy ignores the audit sinks, which never block authentication.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		// Drain audit events before the sink clients go away.
		if f.auditLogger != nil {
			wait := 2 * f.config.Audit.SinkTimeout
			if wait <= 0 {
				wait = 2 * audit.DefaultSinkTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), wait)
			if err := f.auditLogger.Close(ctx); err != nil {
				util.Warn("Audit queue not drained", util.ErrorField(err))
			}
			cancel()
		}

		if f.memoryStore != nil {
			f.memoryStore.Close()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Store() repository.Store {
	return f.store
}

func (f *Factory) Accounts() credential.AccountStore {
	return f.accounts
}
