// The qupskd daemon keeps a rolling pre-shared secret in sync with each
// configured peer by consuming single-use key material from a quantum key
// distribution endpoint.
package main

import (
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/qupskd/qupskd/common"
	"github.com/qupskd/qupskd/config"
	"github.com/qupskd/qupskd/exchange"
	"github.com/qupskd/qupskd/httpserver"
	"github.com/qupskd/qupskd/peerapi"
	"github.com/qupskd/qupskd/qkd"
	"github.com/qupskd/qupskd/scheduler"
	"github.com/qupskd/qupskd/storage"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Value: "/etc/qupskd.yaml",
		Usage: "path to the configuration file",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "qupskd",
		Usage: "Synchronize rolling pre-shared secrets over a QKD link",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			configPath := cCtx.String("config")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			// Setup logger
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			logger.Info("Loading configuration", "path", configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}

			// TLS towards the key source, if configured
			var tlsConfig *tls.Config
			if cfg.KeySourceTLS != nil {
				tlsConfig, err = qkd.LoadTLSConfig(cfg.KeySourceTLS.CACert, cfg.KeySourceTLS.Cert, cfg.KeySourceTLS.Key)
				if err != nil {
					logger.Error("Failed to load key source TLS material", "err", err)
					return err
				}
			}

			defaultSink, err := storage.SinkFor(cfg.Sink, logger)
			if err != nil {
				logger.Error("Failed to create secret sink", "err", err)
				return err
			}

			// Build one exchanger per configured relationship
			manager := exchange.NewManager()
			for _, p := range cfg.Peers {
				sink := defaultSink
				if p.Sink != "" {
					sink, err = storage.SinkFor(p.Sink, logger)
					if err != nil {
						logger.Error("Failed to create secret sink", "peer", p.ID, "err", err)
						return err
					}
				}

				role := exchange.RoleResponder
				if p.Role == "initiator" {
					role = exchange.RoleInitiator
				}

				rel := exchange.Relationship{
					ID:           p.ID,
					Alias:        p.Alias,
					Role:         role,
					Preshared:    []byte(p.PSK),
					ConfirmWait:  cfg.ConfirmWait.Std(),
					MaxSecretAge: cfg.MaxSecretAge.Std(),
				}

				keySource := qkd.NewETSIClient(p.ETSIURL, p.TargetSAE, tlsConfig)
				peer := peerapi.NewClient(p.PeerURL)

				if err := manager.Add(exchange.NewExchanger(rel, keySource, peer, sink, logger)); err != nil {
					logger.Error("Invalid peer configuration", "err", err)
					return err
				}

				logger.Info("Configured relationship",
					"relationship", p.ID, "alias", p.Alias, "role", p.Role, "sink", sink.Name())
			}

			var qkdHandler *qkd.Handler
			if cfg.FakeQKDAPI {
				qkdHandler = qkd.NewHandler(qkd.NewStore(cfg.FakeQKDCapacity), logger)
			}

			serverCfg := &httpserver.HTTPServerConfig{
				ListenAddr:               cfg.ListenAddr,
				MetricsAddr:              cfg.MetricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(serverCfg, peerapi.NewHandler(manager, logger), qkdHandler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			sched := scheduler.New(cfg.RotationInterval.Std(), manager.All(), logger)
			sched.Start(cCtx.Context)

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Daemon is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			sched.Stop()
			server.Shutdown()
			logger.Info("Shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
