package featengine

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"stock-evalv1/internal/indicator"
)

// Config holds all env-parsed configuration for the feature engine service.
type Config struct {
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	ConsumerGroup string
	ConsumerName  string
	Symbols       []string
	SnapshotKey   string
	HTTPAddr      string

	SnapshotIntervalS int
	PELIntervalS      int
	PELMinIdleMs      int64

	// Optional upstream bar feed; when FeedWSURL is empty the service
	// consumes bars only from Redis streams written by another process.
	FeedWSURL      string
	FeedAPIKey     string
	FeedTOTPSecret string
	FeedRetryDelay time.Duration

	Definitions []indicator.Definition
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	snapshotInterval, _ := strconv.Atoi(getEnv("SNAPSHOT_INTERVAL_SEC", "30"))
	if snapshotInterval <= 0 {
		snapshotInterval = 30
	}
	pelInterval, _ := strconv.Atoi(getEnv("PEL_RECLAIM_INTERVAL_SEC", "30"))
	if pelInterval <= 0 {
		pelInterval = 30
	}
	pelMinIdle, _ := strconv.ParseInt(getEnv("PEL_MIN_IDLE_MS", "60000"), 10, 64)
	if pelMinIdle <= 0 {
		pelMinIdle = 60000
	}

	return Config{
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		SQLitePath:        getEnv("SQLITE_PATH", "data/bars.db"),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "featengine"),
		ConsumerName:      getEnv("CONSUMER_NAME", "worker-1"),
		Symbols:           parseSymbols(getEnv("SYMBOLS", "")),
		SnapshotKey:       getEnv("SNAPSHOT_KEY", "feat:snapshot:engine"),
		HTTPAddr:          getEnv("FEATENGINE_HTTP_ADDR", ":9095"),
		SnapshotIntervalS: snapshotInterval,
		PELIntervalS:      pelInterval,
		PELMinIdleMs:      pelMinIdle,
		FeedWSURL:         getEnv("FEED_WS_URL", ""),
		FeedAPIKey:        getEnv("FEED_API_KEY", ""),
		FeedTOTPSecret:    getEnv("FEED_TOTP_SECRET", ""),
		FeedRetryDelay:    2 * time.Second,
		Definitions:       ParseDefinitionSpecs(getEnv("INDICATOR_CONFIGS", "")),
	}
}

// ParseDefinitionSpecs parses "TYPE:PERIOD[:K],..." into indicator
// definitions. Example: "EMA:20,RSI:14,BOLL:20:2,STOCH:14,RSIW:14".
// Returns defaults if input is empty.
func ParseDefinitionSpecs(s string) []indicator.Definition {
	if s == "" {
		return []indicator.Definition{
			{Type: indicator.TypeEMA, Period: 9},
			{Type: indicator.TypeEMA, Period: 21},
			{Type: indicator.TypeRSI, Period: 14},
			{Type: indicator.TypeBollinger, Period: 20, K: 2},
			{Type: indicator.TypeStochastic, Period: 14},
		}
	}

	var defs []indicator.Definition
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		tokens := strings.Split(part, ":")
		if len(tokens) < 2 {
			continue
		}
		typ := strings.ToUpper(strings.TrimSpace(tokens[0]))
		period, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
		if err != nil || period <= 0 {
			log.Printf("[featengine] skipping invalid indicator spec: %q", part)
			continue
		}
		d := indicator.Definition{Type: typ, Period: period}
		if len(tokens) >= 3 {
			k, err := strconv.ParseFloat(strings.TrimSpace(tokens[2]), 64)
			if err != nil || k < 0 {
				log.Printf("[featengine] skipping invalid indicator spec: %q", part)
				continue
			}
			d.K = k
		}
		defs = append(defs, d)
	}
	if len(defs) == 0 {
		log.Println("[featengine] WARNING: no valid indicators parsed, using defaults")
		return ParseDefinitionSpecs("")
	}
	log.Printf("[featengine] loaded %d indicator specs from INDICATOR_CONFIGS", len(defs))
	return defs
}

func parseSymbols(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
