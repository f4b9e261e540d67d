package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	offlinegate "github.com/offline-gate/offline-gate"
	"github.com/offline-gate/offline-gate/cache"
	"github.com/offline-gate/offline-gate/queue"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	cacheDbFlag        string
	queueDbFlag        string
	skipInstallFlag    bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to front (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&cacheDbFlag, "cache-db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&queueDbFlag, "queue-db", "queue.db", "Sync queue DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&skipInstallFlag, "skip-install", false, "Do not precache the asset manifest on startup")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout, rotated)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to a rotated logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   logFilenameFlag,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config Config
	if configFilenameFlag != "" {
		var err error
		config, err = getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot read config file")
		}
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	cacheDb := dbFilename(cacheDbFlag)
	queueDb := dbFilename(queueDbFlag)

	cacheProvider, err := cache.NewSQLiteCache(cacheDb)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache db")
	}
	queueStore, err := queue.NewSQLiteStore(queueDb)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open queue db")
	}
	defer queueStore.Close()

	gateway := offlinegate.CreateGateway(offlinegate.Config{
		StaticCache:         cacheProvider,
		DataCache:           cacheProvider,
		Queue:               queueStore,
		OriginURL:           *originURL,
		Hosts:               config.Hosts,
		APIPrefix:           config.APIPrefix,
		StaticGeneration:    config.StaticGeneration,
		DataGeneration:      config.DataGeneration,
		PrecacheManifest:    config.Precache,
		OfflineFallbackPath: config.OfflineFallback,
		MockEndpointPath:    config.MockEndpoint,
		Logger:              &log.Logger,
	})
	defer gateway.Close()

	if !skipInstallFlag {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := gateway.Install(ctx); err != nil {
			// an unreachable origin at startup must not prevent
			// serving whatever is already cached
			log.Error().Err(err).Msg("Install incomplete, continuing with existing cache")
		}
		cancel()
	}
	if err := gateway.Activate(); err != nil {
		log.Fatal().Err(err).Msg("Could not activate")
	}

	r := chi.NewRouter()
	r.Get("/sw/events", gateway.Hub().ServeHTTP)
	r.Get("/sw/status", gateway.HandleStatus)
	r.Post("/sw/sync", gateway.HandleSync)
	r.Post("/sw/push", gateway.HandlePush)
	r.Get("/sw/notification-click", gateway.HandleNotificationClick)
	r.Handle("/*", gateway)

	log.Info().Msgf("Fronting %s on port %v", originURL, portFlag)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func dbFilename(flagValue string) string {
	if flagValue == "memory" {
		return ""
	}
	return flagValue
}
