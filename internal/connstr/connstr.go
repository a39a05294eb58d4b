// Package connstr parses semicolon-delimited SQL Server connection strings.
package connstr

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is used when the connection string carries no usable port.
const DefaultPort = 1433

// Field names reported by ConfigurationError.
const (
	FieldHost     = "server/host"
	FieldDatabase = "database"
	FieldUser     = "user id/uid"
	FieldPassword = "password/pwd"
)

// Config is the structured form of a connection string.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	// Encrypt is passed through to the driver when the connection string sets it.
	Encrypt string
}

// ConfigurationError reports every required field absent from a connection string.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required fields in connection string: %s", strings.Join(e.Missing, ", "))
}

// Parse turns a raw connection string into a Config.
//
// Keys are case-insensitive; values are trimmed. "server" may carry the port
// as "host,port". An unparseable port falls back to DefaultPort with a warning.
// All missing required fields are collected into a single *ConfigurationError.
func Parse(raw string) (Config, error) {
	parts := make(map[string]string)
	for _, kv := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		parts[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	var host, portStr string
	server := parts["server"]
	if h, p, ok := strings.Cut(server, ","); ok {
		host, portStr = strings.TrimSpace(h), strings.TrimSpace(p)
	} else {
		host = server
		portStr = parts["port"]
	}

	cfg := Config{
		Host:     host,
		Port:     parsePort(portStr),
		Database: parts["database"],
		User:     firstNonEmpty(parts["user id"], parts["uid"]),
		Password: firstNonEmpty(parts["password"], parts["pwd"]),
		Encrypt:  parts["encrypt"],
	}

	var missing []string
	if cfg.Host == "" {
		missing = append(missing, FieldHost)
	}
	if cfg.Database == "" {
		missing = append(missing, FieldDatabase)
	}
	if cfg.User == "" {
		missing = append(missing, FieldUser)
	}
	if cfg.Password == "" {
		missing = append(missing, FieldPassword)
	}
	if len(missing) > 0 {
		err := &ConfigurationError{Missing: missing}
		slog.Error("invalid connection string", "error", err)
		return Config{}, err
	}

	slog.Debug("parsed connection string", "conn", cfg)
	return cfg, nil
}

func parsePort(s string) int {
	if s == "" {
		return DefaultPort
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		slog.Warn("invalid port in connection string, using default", "port", s, "default", DefaultPort)
		return DefaultPort
	}
	return port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LogValue keeps the password out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", c.Host),
		slog.Int("port", c.Port),
		slog.String("database", c.Database),
		slog.String("user", c.User),
		slog.String("password", "[redacted]"),
	)
}

// String mirrors LogValue for %v formatting.
func (c Config) String() string {
	return fmt.Sprintf("host=%s port=%d database=%s user=%s password=[redacted]", c.Host, c.Port, c.Database, c.User)
}

// DSN renders the config as a sqlserver:// URL understood by go-mssqldb.
func (c Config) DSN() string {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}
	query := url.Values{}
	query.Set("database", c.Database)
	if c.Encrypt != "" {
		query.Set("encrypt", c.Encrypt)
	}
	u.RawQuery = query.Encode()
	return u.String()
}
