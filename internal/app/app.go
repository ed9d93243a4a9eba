// Package app wires configuration, storage, clients and services into a
// running tally instance.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/tally/internal/clients/exchange"
	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/services/costbasis"
	"github.com/bobmcallan/tally/internal/services/exchangesync"
	"github.com/bobmcallan/tally/internal/services/jobmanager"
	"github.com/bobmcallan/tally/internal/storage"
)

// App holds all initialized services and clients.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	ExchangeClient   interfaces.ExchangeClient
	CostBasisService interfaces.CostBasisService
	SyncService      interfaces.ExchangeSyncService
	JobManager       *jobmanager.JobManager
	StartupTime      time.Time

	cron *cron.Cron
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath picks the config file: explicit path, TALLY_CONFIG, the
// binary directory, then config/tally.toml for development.
func resolveConfigPath(configPath, binDir string) string {
	if configPath == "" {
		configPath = os.Getenv("TALLY_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "tally.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/tally.toml"
		}
	}
	return configPath
}

// NewApp initializes storage, the exchange client and all services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	common.LoadVersionFromFile()

	binDir := getBinaryDir()
	config, err := common.LoadConfig(resolveConfigPath(configPath, binDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var exchangeClient interfaces.ExchangeClient
	if config.Clients.Exchange.APIKey != "" {
		exchangeClient = exchange.NewClientFromConfig(config.Clients.Exchange, logger)
	} else {
		logger.Warn().Msg("Exchange API key not configured - exchange sync will be unavailable")
	}

	costBasisService := costbasis.NewService(storageManager, config.Ledger, logger)

	var syncService interfaces.ExchangeSyncService
	if exchangeClient != nil {
		syncService = exchangesync.NewService(storageManager, exchangeClient, config.Ledger, logger)
	}

	a := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		ExchangeClient:   exchangeClient,
		CostBasisService: costBasisService,
		SyncService:      syncService,
		JobManager:       jobmanager.NewJobManager(costBasisService, syncService, storageManager, logger, config.JobManager),
		StartupTime:      startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// Start launches the job manager and the sync scheduler when enabled.
func (a *App) Start() error {
	if a.Config.JobManager.Enabled {
		a.JobManager.Start()
	}
	return a.StartSyncScheduler()
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, stop job manager, close storage.
func (a *App) Close() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
		a.cron = nil
	}
	if a.JobManager != nil {
		a.JobManager.Stop()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
		a.Storage = nil
	}
}
