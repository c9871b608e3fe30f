// Package traffic parses traffic command flags and starts the aggregation
// service: store, engine, event source, and observer surfaces.
package traffic

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	entrypoint "github.com/louisbranch/storepulse/internal/platform/cmd"
	"github.com/louisbranch/storepulse/internal/services/traffic/app"
	"github.com/louisbranch/storepulse/internal/services/traffic/engine"
	"github.com/louisbranch/storepulse/internal/services/traffic/source"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage/memory"
	"github.com/louisbranch/storepulse/internal/services/traffic/storage/sqlite"
)

const shutdownTimeout = 5 * time.Second

// Config holds traffic command configuration.
type Config struct {
	Port    int      `env:"STOREPULSE_PORT" envDefault:"8080"`
	Addr    string   `env:"STOREPULSE_ADDR"`
	DBPath  string   `env:"STOREPULSE_DB_PATH"`
	Brokers []string `env:"STOREPULSE_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"STOREPULSE_KAFKA_TOPIC" envDefault:"store-traffic"`
	GroupID string   `env:"STOREPULSE_KAFKA_GROUP_ID" envDefault:"store-traffic-group"`

	StoreIDs     []int         `env:"STOREPULSE_STORE_IDS" envDefault:"10,11,12" envSeparator:","`
	TickInterval time.Duration `env:"STOREPULSE_SIMULATE_INTERVAL" envDefault:"5s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The traffic server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The traffic server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (empty keeps data in memory)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) listenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

func openStore(path string) (storage.Store, error) {
	if path == "" {
		log.Print("traffic: no database path configured, keeping data in memory")
		return memory.New(), nil
	}
	return sqlite.Open(path)
}

// Run starts the traffic aggregation service until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTraffic, func(ctx context.Context) error {
		store, err := openStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("traffic: close store: %v", err)
			}
		}()

		eng := engine.New(store)
		for _, storeID := range cfg.StoreIDs {
			if err := eng.InitializeStore(ctx, storeID); err != nil {
				return fmt.Errorf("initialize store %d: %w", storeID, err)
			}
		}

		server := app.NewServer(eng)

		opts := []source.Option{source.WithTickInterval(cfg.TickInterval)}
		if len(cfg.Brokers) > 0 {
			opts = append(opts, source.WithStream(source.NewKafkaStream(source.KafkaConfig{
				Brokers: cfg.Brokers,
				Topic:   cfg.Topic,
				GroupID: cfg.GroupID,
			})))
		}
		adapter := source.New(server, cfg.StoreIDs, opts...)

		sourceErr := make(chan error, 1)
		go func() {
			sourceErr <- adapter.Run(ctx)
		}()

		httpServer := &http.Server{
			Addr:              cfg.listenAddr(),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		serveErr := make(chan error, 1)
		log.Printf("traffic server listening on %s", httpServer.Addr)
		go func() {
			serveErr <- httpServer.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := httpServer.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			<-sourceErr
			return nil
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve http: %w", err)
		case err := <-sourceErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event source: %w", err)
			}
			return nil
		}
	})
}
