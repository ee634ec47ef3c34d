// replay перестраивает таблицу offers из журнала событий.
//
//	replay -f etc/escrowflow.yaml           перестроение
//	replay -f etc/escrowflow.yaml -verify   только сверка; код 2 при расхождениях
//	replay -gen-admin-token                 новый токен администратора и его bcrypt-хеш
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"escrowflow/internal/config"
	"escrowflow/internal/projector"
	"escrowflow/internal/svc"
	"escrowflow/pkg/crypto"
	"escrowflow/pkg/utils"
)

// exitDrift код выхода -verify при найденных расхождениях
const exitDrift = 2

var (
	configFile = flag.String("f", "etc/escrowflow.yaml", "the config file")
	verify     = flag.Bool("verify", false, "only compare offers with the event log")
	genAdmin   = flag.Bool("gen-admin-token", false, "print a new admin token and its bcrypt hash")
)

var errDrifted = errors.New("offers table drifted from event log")

func main() {
	flag.Parse()

	if *genAdmin {
		os.Exit(generateAdminToken())
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: load config: %v\n", err)
		os.Exit(1)
	}
	sc := svc.NewServiceContext(cfg)
	logger := sc.Logger.WithComponent("replay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, sc, *verify)
	stop()
	sc.Close()

	switch {
	case errors.Is(err, errDrifted):
		os.Exit(exitDrift)
	case err != nil:
		logger.Error("replay failed", utils.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, sc *svc.ServiceContext, verifyOnly bool) error {
	db, store, err := sc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	pageSize := sc.Cfg.Projector.ReplayPageSize

	if verifyOnly {
		drifts, err := projector.NewAuditor(store.Events, store.Offers, pageSize, sc.Logger).Run(ctx)
		if err != nil {
			return err
		}
		if len(drifts) > 0 {
			return fmt.Errorf("%w: %d offers", errDrifted, len(drifts))
		}
		return nil
	}

	stats, err := projector.NewRebuilder(store, pageSize, sc.Logger).RebuildOffers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("replayed %d events up to slot %d in %v\n", stats.Events, stats.MaxSlot, stats.Duration)
	return nil
}

func generateAdminToken() int {
	token, err := crypto.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		return 1
	}
	hash, err := crypto.HashToken(token, crypto.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash token: %v\n", err)
		return 1
	}
	fmt.Printf("ADMIN_TOKEN=%s\nADMIN_TOKEN_HASH=%s\n", token, hash)
	return 0
}
