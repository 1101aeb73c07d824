// Command tablemanager runs the search-cluster table manager: it
// derives index mappings from the registered models, reconciles them
// against the live cluster, backfills from the primary store, and
// keeps every managed index in sync with the primary store's change
// stream until told to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"github.com/redbco/searchsync/internal/config"
	"github.com/redbco/searchsync/internal/control"
	"github.com/redbco/searchsync/internal/esclient"
	"github.com/redbco/searchsync/internal/fixtures"
	"github.com/redbco/searchsync/internal/logging"
	"github.com/redbco/searchsync/internal/model"
	"github.com/redbco/searchsync/internal/store"
	"github.com/redbco/searchsync/internal/tablemanager"
)

var (
	controlAddr     = flag.String("control-addr", ":8090", "Address the control HTTP surface listens on")
	backfillOnStart = flag.Bool("backfill-on-start", true, "Backfill every managed index once on startup")
	watch           = flag.Bool("watch", true, "Keep every managed index in sync with the primary store's change stream")
)

func main() {
	flag.Parse()

	log := logging.New("tablemanager")
	if os.Getenv("TABLEMANAGER_NO_COLOR") != "" {
		log.DisableColor()
	}

	// A fresh instance ID per process run, identifying this run in logs
	// the way a supervised service identifies itself to its supervisor.
	instanceID := uuid.New().String()
	log.Info("starting instance %s", instanceID)

	models := fixtures.All()
	reg, err := model.NewRegistry(models)
	if err != nil {
		log.Fatal("building model registry: %v", err)
	}

	cfg, err := config.Load(len(models))
	if err != nil {
		log.Fatal("loading configuration: %v", err)
	}

	client, err := esclient.New(
		elasticsearch.Config{Addresses: cfg.Addresses()},
		esclient.Config{
			PoolSize:        cfg.ConnPoolSize,
			IdlePoolSize:    cfg.IdlePoolSize,
			CheckoutTimeout: time.Duration(cfg.ConnPoolTimeout * float64(time.Second)),
		},
	)
	if err != nil {
		log.Fatal("building search cluster client: %v", err)
	}

	// The primary store is an in-memory demo implementation; a real
	// deployment would supply one backed by the system of record this
	// table manager mirrors into the search cluster.
	primary := store.NewMemory()

	manager := tablemanager.New(reg, client, primary, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx, tablemanager.Options{
		BackfillOnStart: *backfillOnStart,
		Watch:           *watch,
	}); err != nil {
		log.Fatal("starting table manager: %v", err)
	}

	router := control.NewRouter(manager, log)
	server := &http.Server{Addr: *controlAddr, Handler: router}

	go func() {
		log.Info("control surface listening on %s", *controlAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control surface stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("control surface shutdown: %v", err)
	}

	manager.Stop()
	log.Info("shutdown complete")
}
