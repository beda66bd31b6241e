package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	transportWebSocket = "websocket"
	transportRedis     = "redis"
)

// Config is read from flags, the environment (upper-case keys such as
// API_BASE_URL) and an optional config file, in that order of precedence.
type Config struct {
	APIBaseURL            string
	SocketURL             string
	SocketTransport       string
	RedisConnectionString string
	AuthToken             string
	BoardCacheTTL         time.Duration
	ListenAddr            string
	LocalAPIToken         string
	Debug                 bool
	LogFile               string
	WorkspaceID           string
	BoardID               string
}

type option struct {
	key, flag, def, usage string
}

var options = []option{
	{"api_base_url", "api-base-url", "", "base URL of the board REST API"},
	{"socket_url", "socket-url", "", "websocket URL of the push channel"},
	{"socket_transport", "socket-transport", transportWebSocket, "push channel transport: websocket or redis"},
	{"redis_connection_string", "redis-connection-string", "", "redis URL or host:port,password=...,ssl=true"},
	{"auth_token", "auth-token", "", "bearer token for the REST API and push channel"},
	{"board_cache_ttl", "board-cache-ttl", "10m", "lifetime of cached board snapshots in redis, 0 disables"},
	{"listen_addr", "listen-addr", "127.0.0.1:8090", "address of the local API"},
	{"local_api_token", "local-api-token", "", "bearer token required by the local API"},
	{"debug", "debug", "false", "enable debug logging"},
	{"log_file", "log-file", "", "write logs to this file with rotation"},
	{"workspace_id", "workspace-id", "", "workspace of the board opened at startup"},
	{"board_id", "board-id", "", "board opened at startup"},
}

func newRootCommand(run func(cmd *cobra.Command, cfg Config) error) *cobra.Command {
	v := viper.New()
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "boardsync",
		Short:         "Keep a local replica of a collaborative board in sync",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", cfgFile, err)
				}
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	for _, o := range options {
		cmd.Flags().String(o.flag, o.def, o.usage)
		_ = v.BindPFlag(o.key, cmd.Flags().Lookup(o.flag))
	}
	v.AutomaticEnv()
	return cmd
}

func loadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		APIBaseURL:            strings.TrimRight(v.GetString("api_base_url"), "/"),
		SocketURL:             v.GetString("socket_url"),
		SocketTransport:       strings.ToLower(v.GetString("socket_transport")),
		RedisConnectionString: v.GetString("redis_connection_string"),
		AuthToken:             v.GetString("auth_token"),
		BoardCacheTTL:         v.GetDuration("board_cache_ttl"),
		ListenAddr:            v.GetString("listen_addr"),
		LocalAPIToken:         v.GetString("local_api_token"),
		Debug:                 v.GetBool("debug"),
		LogFile:               v.GetString("log_file"),
		WorkspaceID:           v.GetString("workspace_id"),
		BoardID:               v.GetString("board_id"),
	}
	if cfg.APIBaseURL == "" {
		return cfg, fmt.Errorf("missing API_BASE_URL")
	}
	switch cfg.SocketTransport {
	case transportWebSocket:
		if cfg.SocketURL == "" {
			return cfg, fmt.Errorf("missing SOCKET_URL")
		}
	case transportRedis:
		if cfg.RedisConnectionString == "" {
			return cfg, fmt.Errorf("missing REDIS_CONNECTION_STRING for redis transport")
		}
	default:
		return cfg, fmt.Errorf("invalid SOCKET_TRANSPORT %q", cfg.SocketTransport)
	}
	if cfg.BoardCacheTTL < 0 {
		return cfg, fmt.Errorf("invalid BOARD_CACHE_TTL: must not be negative")
	}
	if cfg.BoardID == "" && cfg.WorkspaceID != "" {
		return cfg, fmt.Errorf("WORKSPACE_ID needs BOARD_ID")
	}
	return cfg, nil
}

// redisOptions accepts a redis URL or the "host:port,password=...,ssl=true"
// form used by managed redis offerings.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func newLogger(cfg Config, stderr io.Writer) *log.Logger {
	logger := log.New()
	logger.SetOutput(stderr)
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFile != "" {
		logger.SetFormatter(&log.JSONFormatter{})
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}
	return logger
}
