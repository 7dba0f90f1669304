// Package config loads the signaling hub's configuration from flags and
// environment variables, following the reference's envOrDefault/fs.Visit
// precedence: an explicitly-set flag wins over its environment variable,
// which wins over the built-in default.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr                    = "SIGNAL_HUB_LISTEN_ADDR"
	envVarAllowedOrigins                = "ALLOWED_ORIGINS"
	envVarLogFormat                     = "SIGNAL_HUB_LOG_FORMAT"
	envVarLogLevel                      = "SIGNAL_HUB_LOG_LEVEL"
	envVarShutdownTimeout               = "SIGNAL_HUB_SHUTDOWN_TIMEOUT"
	envVarRelayPasswordFile             = "RELAY_PASSWORD_FILE"
	envVarRelayPassword                 = "RELAY_PASSWORD"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarAdminREPL                     = "SIGNAL_HUB_ADMIN_REPL"
)

const (
	DefaultListenAddr                    = "127.0.0.1:8080"
	DefaultShutdownTimeout               = 15 * time.Second
	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50
)

// LogFormat is the wire value of --log-format / SIGNAL_HUB_LOG_FORMAT.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config is the hub's fully-resolved, validated configuration.
type Config struct {
	ListenAddr string

	// AllowedOrigins is consulted by the WebSocket upgrader's CheckOrigin.
	// Empty means same-host-only (see internal/origin).
	AllowedOrigins []string

	LogFormat LogFormat
	LogLevel  slog.Level

	ShutdownTimeout time.Duration

	// RelaySecret is the shared relay password. Empty disables relay
	// authentication end-to-end (every RelayAuth attempt fails).
	RelaySecret string

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// AdminREPL enables the stdin list/relay/quit administrative console.
	AdminREPL bool
}

// Load resolves configuration from the process environment and args (which
// should normally be os.Args[1:]).
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	logFormatStr := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, envVarLogLevel, "info")
	relayPasswordFile := envOrDefault(lookup, envVarRelayPasswordFile, "")
	relaySecret := envOrDefault(lookup, envVarRelayPassword, "")
	adminREPLStr := envOrDefault(lookup, envVarAdminREPL, "true")

	shutdownTimeout := DefaultShutdownTimeout
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	maxMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("signalhub", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen", listenAddr, "HTTP/WebSocket listen address (host:port) (env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "comma-separated list of allowed browser origins, or * (env "+envVarAllowedOrigins+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&relayPasswordFile, "relay-password-file", relayPasswordFile, "path to a file containing "+envVarRelayPassword+"=<secret> (env "+envVarRelayPasswordFile+")")
	fs.StringVar(&relaySecret, "relay-password", relaySecret, "shared relay secret; empty disables relay end-to-end (env "+envVarRelayPassword+")")
	fs.Int64Var(&maxMessageBytes, "max-signaling-message-bytes", maxMessageBytes, "max inbound signaling frame size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "max inbound signaling frames per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.StringVar(&adminREPLStr, "admin-repl", adminREPLStr, "enable the stdin list/relay/quit admin console (env "+envVarAdminREPL+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	if relayPasswordFile != "" && !setFlags["relay-password"] {
		loaded, err := loadRelayPasswordFile(relayPasswordFile)
		if err != nil {
			return Config{}, err
		}
		if loaded != "" {
			relaySecret = loaded
		}
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	adminREPL, err := strconv.ParseBool(strings.TrimSpace(adminREPLStr))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--admin-repl %q: %w", envVarAdminREPL, adminREPLStr, err)
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}

	var allowedOrigins []string
	for _, o := range strings.Split(allowedOriginsStr, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}

	return Config{
		ListenAddr:                    listenAddr,
		AllowedOrigins:                allowedOrigins,
		LogFormat:                     logFormat,
		LogLevel:                      logLevel,
		ShutdownTimeout:               shutdownTimeout,
		RelaySecret:                   relaySecret,
		MaxSignalingMessageBytes:      maxMessageBytes,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		AdminREPL:                     adminREPL,
	}, nil
}

// loadRelayPasswordFile parses a dotenv-style file for RELAY_PASSWORD=<secret>,
// per spec.md §6 ("Optional shared relay secret loaded from environment
// file key RELAY_PASSWORD"). `.env` parsing itself is the Non-goal spec.md
// names explicitly; this is the minimal single-key reader that satisfies
// the configuration contract without pulling in a general-purpose parser.
func loadRelayPasswordFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading relay password file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != envVarRelayPassword {
			continue
		}
		return strings.Trim(strings.TrimSpace(value), `"'`), nil
	}
	return "", nil
}

// NewLogger builds the structured logger the hub's components are wired
// with, matching the reference's slog.NewTextHandler/NewJSONHandler switch.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText), "":
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}
