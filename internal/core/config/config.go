// Package config loads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type FeatureLayerCfg struct {
	ID       string
	Name     string
	TypeName string
}

type CacheCfg struct {
	Driver    string // none, memory, redis
	TTL       time.Duration
	Size      int
	OpTimeout time.Duration
	H3Res     int
}

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type QueryEventsCfg struct {
	Enabled   bool
	Topic     string
	Brokers   string
	QueueSize int
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	GeoServerURL     string
	GeometryColumn   string
	MapSRID          string
	FeatureLayers    []FeatureLayerCfg
	SelectedLayer    string
	NoticeHistory    int
	UpstreamTimeout  time.Duration
	RedisAddr        string
	Cache            CacheCfg
	Invalidation     InvalidationCfg
	QueryEvents      QueryEventsCfg
	DispatcherBuffer int
}

func FromEnv() Config {
	res := getint("H3_RES", 9)
	if res < 0 || res > 15 {
		res = 9
	}
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:             getenv("ADDR", ":8090"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		LogSampleN:       getint("LOG_SAMPLE_N", 0),
		GeoServerURL:     getenv("GEOSERVER_URL", "http://localhost:8080/geoserver"),
		GeometryColumn:   getenv("GEOMETRY_COLUMN", "geom"),
		MapSRID:          getenv("MAP_SRID", "EPSG:4326"),
		FeatureLayers:    parseFeatureLayers(getenv("FEATURE_LAYERS", "")),
		SelectedLayer:    getenv("SELECTED_LAYER", ""),
		NoticeHistory:    getint("NOTICE_HISTORY", 100),
		UpstreamTimeout:  getduration("UPSTREAM_TIMEOUT", 30*time.Second),
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		DispatcherBuffer: getint("DISPATCHER_BUFFER", 256),
		Cache: CacheCfg{
			Driver:    strings.ToLower(getenv("RESULT_CACHE", "none")),
			TTL:       getduration("RESULT_CACHE_TTL", 60*time.Second),
			Size:      getint("RESULT_CACHE_SIZE", 512),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			H3Res:     res,
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "spatial-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "line-query-invalidator"),
		},
		QueryEvents: QueryEventsCfg{
			Enabled:   getbool("QUERY_EVENTS_ENABLED", false),
			Topic:     getenv("QUERY_EVENTS_TOPIC", "line-query-events"),
			Brokers:   brokers,
			QueueSize: getint("QUERY_EVENTS_QUEUE", 1024),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "roads=topp:roads,poi=Points of interest|demo:poi" into layers.
// the value is typeName or "name|typeName"
func parseFeatureLayers(s string) []FeatureLayerCfg {
	var out []FeatureLayerCfg
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		id := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if id == "" || v == "" {
			continue
		}
		name, typeName := id, v
		if i := strings.Index(v, "|"); i >= 0 {
			name = strings.TrimSpace(v[:i])
			typeName = strings.TrimSpace(v[i+1:])
		}
		if typeName == "" {
			continue
		}
		out = append(out, FeatureLayerCfg{ID: id, Name: name, TypeName: typeName})
	}
	return out
}

// SplitList splits a comma separated env value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
