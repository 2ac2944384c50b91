// Package daemon wires the GateWarden process together: logging,
// database, sync engine, scheduler and the operational web API.
package daemon

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/GateWarden/GateWarden/internal/config"
	"github.com/GateWarden/GateWarden/internal/db/dsn"
	"github.com/GateWarden/GateWarden/internal/db/models"
	"github.com/GateWarden/GateWarden/internal/dirsync"
	"github.com/GateWarden/GateWarden/internal/logger"
	"github.com/GateWarden/GateWarden/internal/web"
)

const defaultPort = 8080

// Daemon represents the main application daemon.
type Daemon struct {
	cfg        *config.Config
	scheduler  *dirsync.Scheduler
	webService *web.Service
}

// Start runs the scheduler and the web service until a termination
// signal arrives.
func (d *Daemon) Start() error {
	d.scheduler.Start(context.Background())
	defer d.scheduler.Stop()

	go d.webService.WaitShutdown()

	port := d.cfg.Webserver.Port
	if port == 0 {
		port = defaultPort
	}

	return d.webService.Start(fmt.Sprintf(":%d", port))
}

// New creates a new Daemon instance with the provided configuration.
func New(cfg *config.Config) *Daemon {
	if cfg == nil {
		log.Fatal().Msg("config is nil")
		return nil
	}

	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}

	db := openDB(cfg)

	seed(cfg, db)

	runner := dirsync.NewRunner(dirsync.RunnerConfig{
		DB:               db,
		Factories:        adapterFactories(cfg),
		DisableThreshold: cfg.Sync.DisableThreshold,
	})

	scheduler := dirsync.NewScheduler(dirsync.SchedulerConfig{
		DB:       db,
		Runner:   runner,
		Interval: cfg.Sync.Interval(),
		Workers:  cfg.Sync.Workers,
	})

	return &Daemon{
		cfg:        cfg,
		scheduler:  scheduler,
		webService: web.New(cfg, db, scheduler),
	}
}

// SyncOnce runs a single sync for one connection and exits; used by the
// sync CLI command.
func SyncOnce(ctx context.Context, cfg *config.Config, connectionID uint) error {
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}

	db := openDB(cfg)

	runner := dirsync.NewRunner(dirsync.RunnerConfig{
		DB:               db,
		Factories:        adapterFactories(cfg),
		DisableThreshold: cfg.Sync.DisableThreshold,
	})

	return runner.Run(ctx, connectionID)
}

// openDB connects to the configured database engine and migrates the
// schema.
func openDB(cfg *config.Config) *gorm.DB {
	var dbDriver gorm.Dialector

	switch cfg.DB.GormEngine {
	case "postgres":
		dbDriver = gormpostgres.Open(dsn.Create(cfg))
	default:
		dbDriver = gormmysql.Open(dsn.Create(cfg))
	}

	db, err := gorm.Open(dbDriver, &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	if err = db.AutoMigrate(
		&models.Tenant{},
		&models.Actor{},
		&models.Connection{},
		&models.ExternalIdentity{},
		&models.Group{},
		&models.Membership{},
	); err != nil {
		panic("failed to migrate database")
	}

	return db
}
