package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"github.com/purushoth411/postmanback/config"
	"github.com/purushoth411/postmanback/storage"
	"github.com/purushoth411/postmanback/storage/sqlstore"
)

func main() {
	cfg, err := config.LoadStorage()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.WithField("backend", cfg.StoreBackend).Info("storage init starting")

	ctx := context.Background()
	var target catalogWriter

	if cfg.StoreBackend == config.BackendTables {
		if err := createTables(ctx, cfg.StorageConnectionString, []string{
			cfg.TasksTable,
			cfg.MilestonesTable,
			cfg.AdminsTable,
			cfg.CountersTable,
		}); err != nil {
			log.Fatalf("create tables: %v", err)
		}
		s, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.MilestonesTable, cfg.AdminsTable, cfg.CountersTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		target = s
	} else {
		dialect, err := sqlstore.ParseDialect(cfg.StoreBackend)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		dsn := cfg.MySQLDSN
		if dialect == sqlstore.SQLite {
			dsn = cfg.SQLitePath
		}
		s, err := sqlstore.Open(dialect, dsn)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		target = s
	}

	if cfg.StorageConnectionString != "" {
		if err := createQueues(ctx, cfg.StorageConnectionString, []string{cfg.EventsQueue}); err != nil {
			log.Fatalf("create queues: %v", err)
		}
	}

	if cfg.MilestonesSeed != "" {
		seed, err := readSeed(cfg.MilestonesSeed)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		if err := applySeed(ctx, target, seed); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.WithFields(log.Fields{
			"milestones": len(seed.Milestones),
			"admins":     len(seed.Admins),
		}).Info("catalog seeded")
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
