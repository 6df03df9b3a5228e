package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/nt4/client"
	"github.com/luma/nt4/internal/env"
	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/storage"
)

var (
	// watchExact turns off prefix matching of the patterns
	watchExact bool

	watchAll        bool
	watchTopicsOnly bool
	watchPeriodic   time.Duration

	// The host and port to serve the inspection endpoint on
	httpHost string
	httpPort string
)

func init() {
	flags := WatchCmd.Flags()

	flags.BoolVar(&watchExact, "exact", false, "Match topic names exactly instead of by prefix")
	flags.BoolVar(&watchAll, "all", false, "Ask for every value change, not just the most recent")
	flags.BoolVar(&watchTopicsOnly, "topics-only", false, "Only watch announcements, not values")
	flags.DurationVar(&watchPeriodic, "periodic", 0, "Minimum interval between value updates")
	flags.StringVar(&httpHost, "http-host", "127.0.0.1", "The host to serve HTTP requests on")
	flags.StringVar(&httpPort, "http-port", "", "The port to serve HTTP requests on, disabled when empty")
}

var WatchCmd = &cobra.Command{
	Use:   "watch [prefix...]",
	Short: "Watch topics on a server",
	Long: `Watch topics on a server

Subscribes to every topic starting with one of the prefixes, all topics when
none are given, and logs announcements and values until interrupted. With
--http-port the latest values are also served over HTTP.

Usage
	nt4 watch /SmartDashboard/ --server roborio-1234-frc.local --http-port 8080

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		store := storage.NewInmemoryStore()
		defer store.Close()

		metrics := prometheus.NewRegistry()
		nt := newClient(conf, log, store, metrics)
		defer nt.Close()

		if err := nt.Connect(ctx); err != nil {
			return err
		}

		patterns := args
		if len(patterns) == 0 {
			patterns = []string{""}
		}

		sub, err := nt.Subscribe(ctx, patterns, client.SubscribeOptions{
			SubscriptionOptions: protocol.SubscriptionOptions{
				Periodic:   watchPeriodic,
				All:        watchAll,
				Prefix:     !watchExact,
				TopicsOnly: watchTopicsOnly,
			},
			Persist: true,
			Buffer:  1024,
		})
		if err != nil {
			return err
		}

		go logEvents(sub, log.Named("events"))
		go logUpdates(store.ListenToUpdates(), log.Named("values"))

		var s *http.Server
		if httpPort != "" {
			s = &http.Server{
				Addr:    net.JoinHostPort(httpHost, httpPort),
				Handler: NewRouter(nt, store, metrics, conf.DebugHTTP, log.Named("http")),
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Watching",
			zap.String("client", nt.Name()),
			zap.Strings("patterns", patterns),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if s != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s.SetKeepAlivesEnabled(false)

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := nt.Close(); err != nil {
			log.Warn("Connection did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func logEvents(sub *client.Subscriber, log *zap.Logger) {
	for event := range sub.Events() {
		if event.Kind == client.EventValue {
			// values are logged from the store
			continue
		}

		log.Info("Topic "+event.Kind.String(),
			zap.String("name", event.Topic.Name),
			zap.Int64("id", event.Topic.ID),
			zap.Stringer("type", event.Topic.Type),
			zap.Any("properties", event.Topic.Properties))
	}
}

func logUpdates(updates <-chan *storage.Update, log *zap.Logger) {
	for update := range updates {
		if update.Value == nil {
			log.Debug("Value removed", zap.String("name", update.Name))
			continue
		}

		log.Info("Value", zap.String("name", update.Name), zap.ByteString("value", update.Value))
	}
}
