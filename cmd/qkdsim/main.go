// qkdsim serves a simulated ETSI GS QKD 014 key delivery endpoint for
// development setups without QKD hardware.
package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"

	"github.com/qupskd/qupskd/common"
	"github.com/qupskd/qupskd/qkd"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8100",
		Usage: "address to listen on for the key delivery API",
	},
	&cli.IntFlag{
		Name:  "capacity",
		Value: 1024,
		Usage: "initial key budget of the simulated link",
	},
	&cli.IntFlag{
		Name:  "refill-rate",
		Value: 1,
		Usage: "keys added to the budget per second; 0 disables refill",
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
}

func main() {
	app := &cli.App{
		Name:  "qkdsim",
		Usage: "Serve a simulated ETSI QKD key delivery API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			capacity := cCtx.Int("capacity")
			refillRate := cCtx.Int("refill-rate")

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: "qkdsim",
				Version: common.Version,
			})

			store := qkd.NewStore(capacity)
			handler := qkd.NewHandler(store, logger)

			mux := chi.NewRouter()
			mux.Group(func(r chi.Router) {
				r.Use(func(next http.Handler) http.Handler {
					return httplogger.LoggingMiddlewareSlog(logger, next)
				})
				handler.RegisterRoutes(r)
			})

			srv := &http.Server{
				Addr:         listenAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			if refillRate > 0 {
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				go func() {
					for range ticker.C {
						store.Replenish(refillRate)
					}
				}()
			}

			go func() {
				logger.Info("Serving key delivery API", "listenAddress", listenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server failed", "err", err)
				}
			}()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit

			return srv.Close()
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
