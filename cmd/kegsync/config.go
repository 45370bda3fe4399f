package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/delivery"
)

type appConfig struct {
	dsn       string
	addr      string
	logLevel  string
	accessLog bool

	station  kegsync.Config
	delivery delivery.Config
}

func parseFlags(args []string) (appConfig, error) {
	cfg := appConfig{
		station:  kegsync.DefaultConfig(),
		delivery: delivery.DefaultConfig(),
	}
	st := &cfg.station
	dl := &cfg.delivery
	policy := string(st.DuplicatePolicy)

	fs := flag.NewFlagSet("kegsync", flag.ContinueOnError)
	fs.StringVar(&cfg.dsn, "dsn", env("KEGSYNC_DSN", "kegsync.db"), "sqlite path or postgres:// URL")
	fs.StringVar(&cfg.addr, "addr", env("KEGSYNC_ADDR", ":8080"), "HTTP listen address, empty disables the API")
	fs.StringVar(&cfg.logLevel, "log-level", env("KEGSYNC_LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.BoolVar(&cfg.accessLog, "access-log", envBool("KEGSYNC_ACCESS_LOG", false), "write HTTP access lines to stdout")

	fs.StringVar(&dl.Endpoint, "endpoint", env("KEGSYNC_ENDPOINT", ""), "batch submission URL")
	fs.StringVar(&dl.BeerTypesEndpoint, "beer-types-endpoint", env("KEGSYNC_BEER_TYPES_ENDPOINT", ""), "beer type catalogue URL")
	fs.StringVar(&dl.MacID, "mac-id", env("KEGSYNC_MAC_ID", ""), "station identifier sent with every batch")
	fs.DurationVar(&dl.Timeout, "delivery-timeout", envDuration("KEGSYNC_DELIVERY_TIMEOUT", dl.Timeout), "timeout of one delivery attempt")
	fs.IntVar(&dl.MaxAttempts, "delivery-attempts", envInt("KEGSYNC_DELIVERY_ATTEMPTS", dl.MaxAttempts), "inline attempts per delivery")
	fs.BoolVar(&dl.Hash, "hash", envBool("KEGSYNC_HASH", dl.Hash), "embed an integrity hash in payloads")
	fs.BoolVar(&dl.InsecureSkipVerify, "insecure", envBool("KEGSYNC_INSECURE", dl.InsecureSkipVerify), "skip TLS certificate verification")
	fs.BoolVar(&dl.TLSFallback, "tls-fallback", envBool("KEGSYNC_TLS_FALLBACK", dl.TLSFallback), "retry over http after a TLS failure")

	fs.IntVar(&st.Concurrency, "concurrency", envInt("KEGSYNC_CONCURRENCY", st.Concurrency), "batches processed in parallel")
	fs.DurationVar(&st.RetryInterval, "retry-interval", envDuration("KEGSYNC_RETRY_INTERVAL", st.RetryInterval), "retry scheduler tick")
	fs.IntVar(&st.RetryMaxAttempts, "retry-attempts", envInt("KEGSYNC_RETRY_ATTEMPTS", st.RetryMaxAttempts), "queued attempts before a retry entry is exhausted")
	fs.DurationVar(&st.NetworkCheckInterval, "network-interval", envDuration("KEGSYNC_NETWORK_INTERVAL", st.NetworkCheckInterval), "connectivity probe interval, 0 disables gating")
	fs.DurationVar(&st.StaleAfter, "stale-after", envDuration("KEGSYNC_STALE_AFTER", st.StaleAfter), "age after which in-flight batches are recovered")
	fs.StringVar(&policy, "duplicates", env("KEGSYNC_DUPLICATES", policy), "duplicate pallet policy: advisory or block")
	fs.BoolVar(&st.RejectSentLabels, "reject-sent-labels", envBool("KEGSYNC_REJECT_SENT_LABELS", st.RejectSentLabels), "reject captures whose label was already sent")
	fs.BoolVar(&st.PurgeImages, "purge-images", envBool("KEGSYNC_PURGE_IMAGES", st.PurgeImages), "delete captured images after delivery")

	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}

	switch kegsync.DuplicatePolicy(policy) {
	case kegsync.DuplicateAdvisory, kegsync.DuplicateBlock:
		st.DuplicatePolicy = kegsync.DuplicatePolicy(policy)
	default:
		return appConfig{}, fmt.Errorf("invalid duplicate policy %q", policy)
	}
	if dl.Endpoint == "" {
		return appConfig{}, fmt.Errorf("-endpoint or KEGSYNC_ENDPOINT is required")
	}
	return cfg, nil
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}
