package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luma/nt4/client"
	"github.com/luma/nt4/internal/env"
	"github.com/luma/nt4/storage"
)

// clientOptions builds client options from the config, letting flags win.
func clientOptions(conf *env.Config, log *zap.Logger) client.Options {
	options := client.Options{
		Address:        conf.Server,
		ClientName:     conf.ClientName,
		ConnectTimeout: conf.ConnectTimeout,
		Reconnect: client.ReconnectOptions{
			Enabled:    conf.Reconnect,
			MinBackoff: conf.BackoffMin,
			MaxBackoff: conf.BackoffMax,
		},
		QueueCapacity:    conf.QueueCapacity,
		BlockOnFull:      true,
		TimeSyncInterval: conf.TimeSyncInterval,
		Log:              log.Named("client"),
	}

	if server != "" {
		options.Address = server
	}

	if clientName != "" {
		options.ClientName = clientName
	}

	return options
}

func newClient(conf *env.Config, log *zap.Logger, store storage.Store, registerer prometheus.Registerer) *client.Client {
	options := clientOptions(conf, log)
	options.Store = store
	options.Registerer = registerer

	return client.New(options)
}
