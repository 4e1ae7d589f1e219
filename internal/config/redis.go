package config

// This file builds the Redis clients used for the account cache and the
// discovery directory.  Both read the same variable family; the directory
// can be pointed at its own server with the DIRECTORY_REDIS_ prefix and
// falls back to the cache settings otherwise.

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from variables named prefix+"HOST",
// prefix+"PORT", prefix+"ADDR", prefix+"PASSWORD", prefix+"DB",
// prefix+"TLS", prefix+"POOL_SIZE" and prefix+"DIAL_TIMEOUT".  HOST and
// PORT together take precedence over ADDR.  ok is false when none of the
// address variables is set.
func RedisOptions(prefix string) (opts *redis.Options, ok bool) {
	host := os.Getenv(prefix + "HOST")
	port := os.Getenv(prefix + "PORT")
	addr := os.Getenv(prefix + "ADDR")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		return nil, false
	}
	dbNum := 0
	if dbStr := os.Getenv(prefix + "DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			dbNum = n
		}
	}
	var tlsConf *tls.Config
	if tlsEnv := os.Getenv(prefix + "TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &redis.Options{
		Addr:        addr,
		Password:    os.Getenv(prefix + "PASSWORD"),
		DB:          dbNum,
		TLSConfig:   tlsConf,
		PoolSize:    envInt(prefix+"POOL_SIZE", 0),
		DialTimeout: envDur(prefix+"DIAL_TIMEOUT", 2*time.Second),
	}, true
}

// newClient is swapped in tests.
var newClient = redis.NewClient

// NewRedisClient returns the cache client (REDIS_*; localhost:6379 when
// unset) and the directory client (DIRECTORY_REDIS_*; the cache client
// when unset).  Unlike the cache, the directory is required, so a failed
// ping is an error and both clients are closed before returning it.
func NewRedisClient() (cacheClient, directoryClient *redis.Client, err error) {
	opts, ok := RedisOptions("REDIS_")
	if !ok {
		opts = &redis.Options{Addr: "localhost:6379", DialTimeout: 2 * time.Second}
	}
	cacheClient = newClient(opts)
	directoryClient = cacheClient
	if dirOpts, ok := RedisOptions("DIRECTORY_REDIS_"); ok {
		directoryClient = newClient(dirOpts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := directoryClient.Ping(ctx).Err(); err != nil {
		_ = cacheClient.Close()
		if directoryClient != cacheClient {
			_ = directoryClient.Close()
		}
		return nil, nil, fmt.Errorf("ping directory redis: %w", err)
	}
	return cacheClient, directoryClient, nil
}
