// Package archive keeps a copy of every artifact the bot receives, apart from
// the per-user fanout. Archiving is best effort: callers log a failure and
// carry on.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Entry is one received artifact.
type Entry struct {
	ContextID string
	MessageID string
	Name      string
	MimeType  string
	Data      []byte
}

// Archive stores entries. Put returns a backend-specific location.
type Archive interface {
	Put(ctx context.Context, e *Entry) (string, error)
}

// Backend names accepted by New.
const (
	BackendNone  = "none"
	BackendDir   = "dir"
	BackendMinIO = "minio"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Dir       string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// New builds the archive named by cfg.Backend. An empty backend means none.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		a   Archive
		err error
	)

	switch cfg.Backend {
	case "", BackendNone:
		return Nop{}, nil
	case BackendDir:
		a, err = NewDir(cfg.Dir, logger)
	case BackendMinIO:
		a, err = NewMinIO(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	return a, nil
}

// Nop discards everything.
type Nop struct{}

// Put implements Archive.
func (Nop) Put(context.Context, *Entry) (string, error) { return "", nil }

var errEmptyName = errors.New("archive: entry has no name")

// objectName builds "<context>/<id>_<name>" with path separators in the
// parts flattened.
func objectName(e *Entry, id string) (string, error) {
	if e.Name == "" {
		return "", errEmptyName
	}

	ctxPart := flatten(e.ContextID)
	if ctxPart == "" {
		ctxPart = "unknown"
	}

	return ctxPart + "/" + id + "_" + flatten(e.Name), nil
}

func flatten(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "." || s == ".." {
		return "_"
	}

	return s
}
