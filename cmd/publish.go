package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/nt4/internal/env"
	"github.com/luma/nt4/protocol"
	"github.com/luma/nt4/storage"
)

var (
	// publishProperties is a json object of topic properties
	publishProperties string

	// publishWait bounds how long we wait for the server to announce the topic
	publishWait time.Duration
)

func init() {
	flags := PublishCmd.Flags()

	flags.StringVarP(&publishProperties, "properties", "p", "", `Topic properties as a json object, e.g. '{"persistent":true}'`)
	flags.DurationVar(&publishWait, "wait", 5*time.Second, "How long to wait for the server to accept the topic")
}

var PublishCmd = &cobra.Command{
	Use:   "publish <topic> <type> <value>",
	Short: "Publish a single value",
	Long: `Publish a single value

The type is one of boolean, double, int, float, string, json, raw, rpc,
msgpack, protobuf, boolean[], double[], int[], float[] or string[]. Array
values are comma separated.

Usage
	nt4 publish /SmartDashboard/speed double 1.5

`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		typ, err := protocol.FromText(args[1])
		if err != nil {
			return err
		}

		value, err := protocol.ParseValue(typ, args[2])
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", typ, args[2], err)
		}

		properties, err := parseProperties(publishProperties)
		if err != nil {
			return err
		}

		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		// a one shot publish has nothing to restore on reconnect
		conf.Reconnect = false
		conf.TimeSyncInterval = 0

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		nt := newClient(conf, log, storage.NewInmemoryStore(), prometheus.NewRegistry())

		if err := nt.Connect(ctx); err != nil {
			return err
		}
		defer nt.Close()

		handle, err := nt.Announce(ctx, name, typ, properties)
		if err != nil {
			return err
		}

		if err := nt.PublishTo(ctx, handle, value); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, publishWait)
		defer cancel()

		topic, err := nt.WaitForTopic(waitCtx, name)
		if err != nil {
			return fmt.Errorf("server did not announce %s: %w", name, err)
		}

		if err := nt.Flush(ctx); err != nil {
			return err
		}

		log.Info("Published",
			zap.String("name", topic.Name),
			zap.Int64("id", topic.ID),
			zap.Stringer("type", topic.Type))

		return nt.Close()
	},
}

func parseProperties(raw string) (protocol.Properties, error) {
	if raw == "" {
		return nil, nil
	}

	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("properties are not valid json: %s", raw)
	}

	properties, ok := gjson.Parse(raw).Value().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("properties must be a json object: %s", raw)
	}

	return protocol.Properties(properties), nil
}
