package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Fledgely/fledgely-sub000/agreement"
	"github.com/Fledgely/fledgely-sub000/audit"
	"github.com/Fledgely/fledgely-sub000/auth"
	"github.com/Fledgely/fledgely-sub000/config"
	"github.com/Fledgely/fledgely-sub000/db"
	"github.com/Fledgely/fledgely-sub000/family"
	"github.com/Fledgely/fledgely-sub000/proposal"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("bootstrap database pool")
	}
	defer pool.Close()

	proposals := proposal.NewRepository(pool)
	agreements := agreement.NewRepository(pool)
	roster := family.NewService(family.NewRepository(pool))
	recorder := audit.NewRecorder(pool)
	accounts := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	workflow := proposal.NewService(proposals, agreements, roster, proposals, proposal.DefaultLimits()).
		WithRecorder(recorder)

	sweeper := proposal.NewSweeper(workflow, cfg.SweepInterval, log).
		WithBatchSize(cfg.SweepBatch)

	log.WithFields(logrus.Fields{
		"sweep_interval": cfg.SweepInterval.String(),
		"sweep_batch":    cfg.SweepBatch,
		"accounts_ready": accounts != nil,
	}).Info("proposal sweeper running")

	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("sweeper stopped")
	}
	log.Info("shutdown complete")
}
