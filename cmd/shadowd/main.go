// Copyright (C) 2026 nodefabric.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	restapi "github.com/nodefabric/shadowd/internal/api"
	"github.com/nodefabric/shadowd/internal/apiauth"
	"github.com/nodefabric/shadowd/internal/config"
	"github.com/nodefabric/shadowd/internal/runtimeEnv"
	"github.com/nodefabric/shadowd/internal/shadow"
	"github.com/nodefabric/shadowd/internal/shadow/controller"
	"github.com/nodefabric/shadowd/internal/shadow/device"
	"github.com/nodefabric/shadowd/internal/shadow/scheduler"
	"github.com/nodefabric/shadowd/internal/shadowmetrics"
	"github.com/nodefabric/shadowd/internal/storage/mirror"
	"github.com/nodefabric/shadowd/internal/storage/s3store"
	"github.com/nodefabric/shadowd/internal/storage/sqlitestore"
	"github.com/nodefabric/shadowd/internal/transport/natstransport"
	ccnats "github.com/nodefabric/shadowd/pkg/nats"

	"github.com/nodefabric/shadowd/graph"
	"github.com/nodefabric/shadowd/graph/generated"
)

var (
	flagConfigFile string
	flagGops       bool
	flagDev        bool
	flagLogLevel   string
	flagNoServer   bool
)

func cliInit() {
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagDev, "dev", false, "Enable development components: GraphQL playground")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "Sets the logging level: `[debug, info, warn, err, crit]`")
	flag.BoolVar(&flagNoServer, "no-server", false, "Do not start a server, stop right after initialization")
	flag.Parse()
}

func main() {
	cliInit()
	cclog.Init(flagLogLevel, false)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	// joho/godotenv was already an unused dependency in the teacher's
	// own go.mod; shadowd is the component that actually exercises it
	// for local/dev environments, the same spot cmd/cc-backend loads
	// its own .env from.
	if err := runtimeEnv.LoadDotEnv("./.env"); err != nil && !os.IsNotExist(err) {
		cclog.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	config.Init(flagConfigFile)
	cfg := config.Keys

	if err := sqlitestore.Migrate(cfg.Storage.SqlitePath); err != nil {
		cclog.Fatal(err)
	}
	primary, err := sqlitestore.Open(cfg.Storage.SqlitePath)
	if err != nil {
		cclog.Fatal(err)
	}
	defer primary.Close()

	var store shadow.Storage = primary
	if cfg.Storage.S3 != nil {
		secondary, err := s3store.Open(s3store.Config{
			Endpoint:     cfg.Storage.S3.Endpoint,
			Bucket:       cfg.Storage.S3.Bucket,
			AccessKey:    cfg.Storage.S3.AccessKey,
			SecretKey:    cfg.Storage.S3.SecretKey,
			Region:       cfg.Storage.S3.Region,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
		})
		if err != nil {
			cclog.Fatal(err)
		}
		store = mirror.New(primary, secondary)
		cclog.Infof("shadowd: cold-archival mirror enabled at s3://%s/%s", cfg.Storage.S3.Bucket, cfg.Storage.S3.Endpoint)
	}

	ccnats.Keys.Address = cfg.Nats.URL
	ccnats.Keys.CredsFilePath = cfg.Nats.Credentials
	natsClient, err := ccnats.NewClient(nil)
	if err != nil {
		cclog.Fatal(err)
	}
	defer natsClient.Close()

	monitorSource := natstransport.NewMonitorSourceFromClient(natsClient)
	issuer := natstransport.NewIssuer(natsClient)
	sessions := natstransport.SessionProvider{}

	ctl := controller.New(func(node shadow.NodeId) device.Deps {
		return device.Deps{
			Node:       node,
			Storage:    store,
			Issuer:     issuer,
			Sessions:   sessions,
			NewClient:  func(n shadow.NodeId) shadow.ReadClient { return natstransport.NewReadClient(n, natsClient) },
			Monitor:    natstransport.NewMonitor(monitorSource),
			RatePerSec: cfg.WorkQueueRate,
		}
	})

	sched, err := scheduler.New()
	if err != nil {
		cclog.Fatal(err)
	}
	if err := sched.RegisterFlushWorker(cfg.FlushInterval(), func(ctx context.Context) error {
		return ctl.FlushAll(ctx, store)
	}); err != nil {
		cclog.Fatal(err)
	}

	go runMetricsSweep(ctl)

	var auth *apiauth.Authenticator
	if !cfg.Auth.Disabled {
		auth, err = apiauth.NewAuthenticator(cfg.Auth.PublicKey, cfg.Auth.PrivateKey, cfg.Auth.TokenMaxAge())
		if err != nil {
			cclog.Fatal(err)
		}
	}

	graphQLEndpoint := handler.NewDefaultServer(generated.NewExecutableSchema(graph.NewRootResolvers(ctl)))
	rest := &restapi.RestAPI{Controller: ctl, Auth: auth}

	r := mux.NewRouter()
	r.Handle("/query", graphQLEndpoint)
	if flagDev {
		r.Handle("/playground", playground.Handler("GraphQL playground", "/query"))
	}
	rest.MountRoutes(r)
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("http://"+cfg.Addr+"/swagger/doc.json"))).Methods(http.MethodGet)
	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	loggedRouter := handlers.LoggingHandler(os.Stdout, r)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	if flagNoServer {
		return
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      loggedRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		cclog.Infof("shadowd: control-plane server listening at %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Fatal(err)
		}
	}()
	go func() {
		cclog.Infof("shadowd: metrics server listening at %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Fatal(err)
		}
	}()

	runtimeEnv.SystemdNotifiy(true, "running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	runtimeEnv.SystemdNotifiy(false, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	if err := ctl.FlushAll(context.Background(), store); err != nil {
		cclog.Errorf("shadowd: final flush failed: %v", err)
	}
	ctl.Shutdown()
	if err := sched.Shutdown(); err != nil {
		cclog.Warnf("shadowd: scheduler shutdown: %v", err)
	}

	cclog.Infof("shadowd: graceful shutdown complete")
}

// runMetricsSweep refreshes the fleet's Prometheus gauges on a fixed
// tick, the same poll-don't-push shape pkg/metricstore uses for its
// own periodic collection.
func runMetricsSweep(ctl *controller.Controller) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		nodes := ctl.Nodes()
		snapshots := make([]shadowmetrics.DeviceSnapshot, 0, len(nodes))
		for _, n := range nodes {
			dev := ctl.Device(n)
			snapshots = append(snapshots, shadowmetrics.DeviceSnapshot{
				Node:              strconv.FormatUint(uint64(n), 10),
				Reachability:      int(dev.Reachability()),
				SubscriptionState: int(dev.SubscriptionState()),
				QueueDepth:        dev.QueueLen(),
				ExpectedCacheSize: dev.ExpectedCacheLen(),
			})
		}
		shadowmetrics.Refresh(snapshots)
	}
}
