package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lyhniupi1/flexgate/internal/backend"
	"github.com/lyhniupi1/flexgate/internal/dispatcher"
	"github.com/lyhniupi1/flexgate/internal/service"
	"github.com/lyhniupi1/flexgate/internal/store"
)

func main() {
	// Defensive: in some environments `go test ./...` may execute command mains.
	// Avoid starting a long-running listener from a test binary.
	if strings.HasSuffix(filepath.Base(os.Args[0]), ".test") {
		return
	}

	configPath := flag.String("config", "flexserver.yaml", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	redisAddr := flag.String("redis", "", "redis address (overrides config); empty uses the in-memory store")
	flag.Parse()

	cfg, loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	log.Printf("config=%s loaded=%v addr=%s redis=%q", *configPath, loaded, cfg.Server.Addr, cfg.Redis.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seedStore(ctx, st, cfg.Seed, time.Now()); err != nil {
		return err
	}

	read, write, idle, err := cfg.serverTimeouts()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}
	log.Printf("flexgate backend listening on %s", listener.Addr())

	return backend.ServeWithContext(ctx, listener, func(reg *dispatcher.Registry) error {
		service.New(st).RegisterHandlers(reg)
		return nil
	},
		backend.WithReadTimeout(read),
		backend.WithWriteTimeout(write),
		backend.WithIdleTimeout(idle),
		backend.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		backend.WithMaxInflightBytes(cfg.Server.MaxInflightBytes),
	)
}

// openStore connects to redis when an address is configured and falls back
// to the in-memory store otherwise.
func openStore(ctx context.Context, cfg config) (store.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Printf("store=inmemory")
		return store.NewInMemoryStore(), func() {}, nil
	}

	dial, read, write, err := cfg.redisTimeouts()
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	log.Printf("store=redis addr=%s db=%d prefix=%s", cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.KeyPrefix)
	return store.NewRedisStore(rdb, cfg.Redis.KeyPrefix), func() { _ = rdb.Close() }, nil
}

// seedStore adds the configured cpay errors that are not stored yet, so a
// restart never resets a record an operator already handled. A seed without
// an id gets one derived from its order number, stable across restarts.
// Missing timestamps keep the configured order.
func seedStore(ctx context.Context, st store.CpayErrorStore, seed seedConfig, now time.Time) error {
	added := 0
	for i, e := range seed.CpayErrors {
		if e.ID == "" {
			if e.OrderNo == "" {
				return fmt.Errorf("seed cpay error %d: id or order_no is required", i)
			}
			e.ID = seedID(e.OrderNo)
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
		err := st.AddCpayError(ctx, e)
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			continue
		case err != nil:
			return fmt.Errorf("seed cpay error %s: %w", e.ID, err)
		}
		added++
	}
	if n := len(seed.CpayErrors); n > 0 {
		log.Printf("seeded %d of %d cpay errors", added, n)
	}
	return nil
}

func seedID(orderNo string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("flexgate/cpay-seed/"+orderNo)).String()
}
