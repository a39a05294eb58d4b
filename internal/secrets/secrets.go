// Package secrets resolves named secrets through gocloud runtimevar and holds
// the application-scoped connection-string template.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"gocloud.dev/runtimevar"
	_ "gocloud.dev/runtimevar/constantvar"
	_ "gocloud.dev/runtimevar/filevar"
)

// DefaultTimeout bounds a single secret read.
const DefaultTimeout = 10 * time.Second

// ErrNotFound is returned when a secret has no value within the timeout.
var ErrNotFound = errors.New("secret not found")

// Getter reads one secret by name.
type Getter interface {
	Get(ctx context.Context, name string) (string, error)
}

// Resolver opens a runtimevar per secret. URLTemplate must contain one %s
// where the secret name goes, e.g. "file:///run/secrets/%s?decoder=string".
type Resolver struct {
	urlTemplate string
	timeout     time.Duration
	log         *slog.Logger
}

// NewResolver validates urlTemplate and returns a Resolver.
func NewResolver(urlTemplate string, timeout time.Duration) (*Resolver, error) {
	if strings.Count(urlTemplate, "%s") != 1 {
		return nil, fmt.Errorf("secret url template %q must contain exactly one %%s", urlTemplate)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		urlTemplate: urlTemplate,
		timeout:     timeout,
		log:         slog.With("component", "secrets"),
	}, nil
}

// Get returns the trimmed string value of secret name.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := runtimevar.OpenVariable(ctx, fmt.Sprintf(r.urlTemplate, name))
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	defer v.Close()

	snap, err := v.Latest(ctx)
	if err != nil {
		r.log.Error("secret read failed", "secret", name, "error", err)
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}

	var value string
	switch val := snap.Value.(type) {
	case string:
		value = val
	case []byte:
		value = string(val)
	default:
		return "", fmt.Errorf("secret %s: unexpected value type %T", name, snap.Value)
	}
	return strings.TrimSpace(value), nil
}

// Names of the secrets the application reads.
const (
	DefaultConnTemplateName = "sql-connection-template"
	DBMapPrefix             = "db-map-"

	// DBPlaceholder is replaced with the per-caller database name.
	DBPlaceholder = "{db}"
)

var validCode = regexp.MustCompile(`^[A-Za-z0-9_=-]+$`)

// App is application-scoped state resolved once at start-up and read-only
// afterwards. It is safe for concurrent use.
type App struct {
	getter       Getter
	connTemplate string
}

// NewApp resolves the connection-string template once. A missing template
// is fatal.
func NewApp(ctx context.Context, getter Getter, templateName string) (*App, error) {
	if templateName == "" {
		templateName = DefaultConnTemplateName
	}
	tpl, err := getter.Get(ctx, templateName)
	if err != nil {
		return nil, fmt.Errorf("load connection template: %w", err)
	}
	if tpl == "" {
		return nil, fmt.Errorf("connection template %s is empty", templateName)
	}
	if !strings.Contains(tpl, DBPlaceholder) {
		slog.Warn("connection template has no database placeholder", "secret", templateName, "placeholder", DBPlaceholder)
	}
	return &App{getter: getter, connTemplate: tpl}, nil
}

// ConnString builds the connection string for a caller: the database name is
// read from secret db-map-<code> and substituted for {db}.
func (a *App) ConnString(ctx context.Context, code string) (string, error) {
	if !validCode.MatchString(code) {
		return "", fmt.Errorf("invalid caller code %q", code)
	}
	db, err := a.getter.Get(ctx, DBMapPrefix+code)
	if err != nil {
		return "", fmt.Errorf("resolve database for caller: %w", err)
	}
	if db == "" {
		return "", fmt.Errorf("database mapping %s%s is empty", DBMapPrefix, code)
	}
	return strings.ReplaceAll(a.connTemplate, DBPlaceholder, db), nil
}

// Static is a Getter over a fixed map. Used when the connection string is
// passed directly rather than through a secret store.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return v, nil
}
