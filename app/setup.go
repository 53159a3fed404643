package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/libetion/libera-api/api"
	"github.com/libetion/libera-api/config"
	"github.com/libetion/libera-api/database"
	"github.com/libetion/libera-api/router"
	"github.com/libetion/libera-api/services"
	"github.com/libetion/libera-api/services/archive"
	"github.com/libetion/libera-api/services/cron"
	"github.com/libetion/libera-api/services/inference"
	"github.com/libetion/libera-api/utils/cache"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		return err
	}

	if err := store.Init(); err != nil {
		print("Failed to initialize database tables\n")
		return err
	}

	// Job store: Redis when configured, in-memory otherwise.
	var jobStorage services.JobStorage
	if getEnv.REDIS_URL != "" {
		redisCache, err := cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Job state will not survive restarts.", err)
			jobStorage = services.NewInMemoryJobStorage()
		} else {
			jobStorage = services.NewRedisJobStorage(redisCache)
			defer redisCache.Close()
		}
	} else {
		jobStorage = services.NewInMemoryJobStorage()
	}
	jobService := services.NewJobService(jobStorage)

	// Archive: Spaces when configured, local directory otherwise.
	var archiveStore archive.Store
	if getEnv.SPACES_ACCESS_KEY != "" && getEnv.SPACES_BUCKET != "" {
		archiveStore, err = archive.NewSpacesStore(archive.SpacesConfig{
			AccessKey: getEnv.SPACES_ACCESS_KEY,
			SecretKey: getEnv.SPACES_SECRET_KEY,
			Bucket:    getEnv.SPACES_BUCKET,
			Region:    getEnv.SPACES_REGION,
			Endpoint:  getEnv.SPACES_ENDPOINT,
		})
		if err != nil {
			return fmt.Errorf("setting up Spaces archive: %w", err)
		}
	} else {
		archiveStore, err = archive.NewLocalStore(getEnv.ARCHIVE_DIR)
		if err != nil {
			return fmt.Errorf("setting up local archive: %w", err)
		}
		log.Printf("Archive: using local directory %s", getEnv.ARCHIVE_DIR)
	}

	inferenceClient := inference.NewClient(inference.Config{
		APIKey:            getEnv.INFERENCE_API_KEY,
		BaseURL:           getEnv.INFERENCE_BASE_URL,
		Model:             getEnv.INFERENCE_MODEL,
		RequestsPerMinute: getEnv.INFERENCE_RPM,
	})

	// One live request at boot; a bad API key otherwise only shows up on
	// the first upload.
	hcCtx, hcCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := inferenceClient.HealthCheck(hcCtx); err != nil {
		log.Printf("Warning: inference API health check failed: %v", err)
	}
	hcCancel()

	loader := services.NewDocumentLoader(services.LoaderLimits{
		MaxFileSizeMB: getEnv.MAX_FILE_SIZE_MB,
		MaxPages:      getEnv.MAX_PAGES,
	})
	extractor := services.NewFieldExtractor(inferenceClient, services.FieldExtractorConfig{
		MaxRetries:   getEnv.EXTRACTION_MAX_RETRIES,
		ChunkTimeout: getEnv.EXTRACTION_TIMEOUT,
	})
	normalizer := services.NewNormalizer()
	persistence := services.NewPersistenceAdapter(store.DB())

	pipeline := services.NewPipeline(
		loader,
		extractor,
		normalizer,
		persistence,
		archiveStore,
		jobService,
		services.PipelineConfig{MaxConcurrentDocuments: getEnv.MAX_CONCURRENT_DOCUMENTS},
	)

	// Cron jobs retry failed documents and sweep stale job state.
	var cronManager *cron.CronManager
	if os.Getenv("CRON_ENABLED") != "false" { // Default to enabled
		cronManager = cron.NewCronManager(pipeline, jobService)
		if err := cronManager.Start(); err != nil {
			log.Printf("Warning: Failed to start cron jobs: %v", err)
		}
	}

	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
		store.Close()
	}()

	// Init API
	server := api.NewAPIServer(
		fmt.Sprintf(":%d", getEnv.PORT),
		api.BodyLimit(getEnv.MAX_FILE_SIZE_MB, getEnv.MAX_FILES_COUNT),
	)
	app := server.GetEngine()

	// Attach Middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Setup Routes
	router.SetupRoutes(app, router.Deps{
		Store:       store,
		Pipeline:    pipeline,
		Jobs:        jobService,
		Persistence: persistence,
		MaxFiles:    getEnv.MAX_FILES_COUNT,
	})

	return server.Run()
}
