// README: Entry point; loads config, wires stores and services, starts the HTTP server and timeout sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridecore/internal/config"
	httptransport "ridecore/internal/http"
	"ridecore/internal/infra"
	"ridecore/internal/logger"
	"ridecore/internal/maps"
	"ridecore/internal/modules/contacts"
	"ridecore/internal/modules/driver"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/matching"
	"ridecore/internal/modules/notify"
	"ridecore/internal/modules/presence"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/ranking"
	"ridecore/internal/modules/trip"
	"ridecore/internal/modules/watchdog"
)

const shutdownWait = 15 * time.Second

// stores is the persistence selected by store.backend.
type stores struct {
	trips    trip.Store
	drivers  driver.Store
	contacts contacts.Linker
	close    func()
}

// caches is the TTL/sorted-set layer; Redis when redis.addr is set.
type caches struct {
	presence presence.Registry
	ranking  ranking.Ledger
	geo      location.Index
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("RIDECORE_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.WithError(err).Fatal("firebase init")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		log.WithError(err).Fatal("firebase auth")
	}

	st, err := openStores(ctx, cfg, app, log)
	if err != nil {
		log.WithError(err).Fatal("open stores")
	}
	defer st.close()

	cc, err := openCaches(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open caches")
	}
	defer cc.close()

	routes, err := maps.NewRouteService(cfg.Maps.APIKey, log.WithField("component", "maps"))
	if err != nil {
		log.WithError(err).Fatal("maps init")
	}

	timeouts := matching.NewTimeouts()
	defer timeouts.Stop()
	dog := watchdog.New(st.drivers, cfg.Watchdog.TTL, log.WithField("component", "watchdog"))
	defer dog.Stop()

	driverSvc := driver.NewService(st.drivers, dog, log.WithField("component", "driver"))
	hub := notify.NewHub(cc.presence, driverSvc, log.WithField("component", "hub"))
	defer hub.Close()
	notifier := notify.NewRouter(cc.presence, hub, log.WithField("component", "notify"))

	tripSvc := trip.NewService(st.trips, trip.Deps{
		Drivers:      st.drivers,
		Routes:       routes,
		Pricing:      pricing.NewService(pricing.DefaultTable()),
		Notifier:     notifier,
		Ranking:      cc.ranking,
		Contacts:     st.contacts,
		Timeouts:     timeouts,
		Watchdog:     dog,
		Log:          log.WithField("component", "trip"),
		MatchTimeout: cfg.Dispatch.MatchTimeout,
	})
	locationSvc := location.NewService(driverSvc, cc.geo, log.WithField("component", "location"))

	if n, err := driverSvc.ResumeOnline(ctx); err != nil {
		log.WithError(err).Warn("resume online drivers")
	} else {
		log.WithField("drivers", n).Info("watchdog armed for online drivers")
	}
	if err := tripSvc.ResumePending(ctx); err != nil {
		log.WithError(err).Warn("resume pending trips")
	}
	go tripSvc.RunTimeoutMonitor(ctx, cfg.Dispatch.SweepInterval)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Trips:    tripSvc,
		Drivers:  driverSvc,
		Location: locationSvc,
		Ranking:  cc.ranking,
		Hub:      hub,
		Verifier: verifier,
		Log:      log.WithField("component", "http"),
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithFields(logrus.Fields{"addr": cfg.HTTP.Addr, "store": cfg.Store.Backend, "redis": cfg.Redis.Addr != ""}).Info("ridecore listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("http server")
	}
	log.Info("ridecore stopped")
}

func openStores(ctx context.Context, cfg config.Config, app *firebase.App, log logrus.FieldLogger) (stores, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		log.Warn("memory store selected; state is lost on restart")
		return stores{
			trips:    trip.NewMemoryStore(),
			drivers:  driver.NewMemoryStore(),
			contacts: contacts.NewMemoryLinker(),
			close:    func() {},
		}, nil
	case config.BackendPostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return stores{}, err
		}
		if err := infra.Migrate(ctx, pool); err != nil {
			pool.Close()
			return stores{}, err
		}
		return postgresStores(pool), nil
	case config.BackendFirestore:
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return stores{}, err
		}
		return firestoreStores(client), nil
	default:
		return stores{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		trips:    trip.NewPostgresStore(pool),
		drivers:  driver.NewPostgresStore(pool),
		contacts: contacts.NewPostgresLinker(pool),
		close:    pool.Close,
	}
}

func firestoreStores(client *firestore.Client) stores {
	return stores{
		trips:    trip.NewFirestoreStore(client),
		drivers:  driver.NewFirestoreStore(client),
		contacts: contacts.NewFirestoreLinker(client),
		close:    func() { _ = client.Close() },
	}
}

func openCaches(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (caches, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("redis.addr not set; presence, ranking and geo index are process-local")
		return caches{
			presence: presence.NewMemoryRegistry(cfg.Presence.TTL),
			ranking:  ranking.NewMemoryLedger(),
			geo:      location.NewMemoryIndex(),
			close:    func() {},
		}, nil
	}
	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return caches{}, err
	}
	return redisCaches(rdb, cfg.Presence.TTL), nil
}

func redisCaches(rdb *redis.Client, presenceTTL time.Duration) caches {
	return caches{
		presence: presence.NewRedisRegistry(rdb, presenceTTL),
		ranking:  ranking.NewRedisLedger(rdb),
		geo:      location.NewRedisIndex(rdb),
		close:    func() { _ = rdb.Close() },
	}
}
