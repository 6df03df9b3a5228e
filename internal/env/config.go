package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// DotEnvFile is loaded, when present, before the environment is read.
const DotEnvFile = ".env.local"

type Config struct {
	Server     string `env:"NT4_SERVER,default=localhost"`
	ClientName string `env:"NT4_CLIENT_NAME"`

	ConnectTimeout time.Duration `env:"NT4_CONNECT_TIMEOUT,default=5s"`

	Reconnect  bool          `env:"NT4_RECONNECT,default=true"`
	BackoffMin time.Duration `env:"NT4_BACKOFF_MIN,default=250ms"`
	BackoffMax time.Duration `env:"NT4_BACKOFF_MAX,default=10s"`

	QueueCapacity    int           `env:"NT4_QUEUE_CAPACITY,default=1024"`
	TimeSyncInterval time.Duration `env:"NT4_TIME_SYNC_INTERVAL,default=3s"`

	LogLevel  string `env:"NT4_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"NT4_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(DotEnvFile); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
