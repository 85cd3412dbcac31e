// Package archive exports the diff of each changed cycle as a JSON object
// to the configured object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/storage"
)

const prefix = "snapshots"

// ErrNotFound is returned by Read for a key that was never archived.
var ErrNotFound = errors.New("archived cycle not found")

// Archive writes cycle results to a storage backend.
type Archive struct {
	store storage.Storage
}

// New wraps store. A nil store yields a nil Archive, whose Write is a no-op.
func New(store storage.Storage) *Archive {
	if store == nil {
		return nil
	}
	return &Archive{store: store}
}

// Key returns the object key for a cycle result.
func Key(res domain.CycleResult) string {
	return fmt.Sprintf("%s/%s/%s_%s.json",
		prefix, res.Target.ID, res.FinishedAt.UTC().Format(time.RFC3339), res.CycleID)
}

// Write stores res when the cycle changed anything. Failures are logged.
func (a *Archive) Write(ctx context.Context, res domain.CycleResult) {
	if a == nil || !res.Changed() {
		return
	}
	l := pkglog.Ctx(ctx)

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		l.Warn().Err(err).Msg("failed to encode cycle result")
		return
	}

	key := Key(res)
	if err := a.store.Write(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		l.Warn().Err(err).Str("key", key).Msg("failed to archive cycle result")
		return
	}
	l.Debug().Str("key", key).Msg("cycle result archived")
}

// List returns the archived keys for a target, oldest first.
func (a *Archive) List(ctx context.Context, targetID string) ([]string, error) {
	if a == nil {
		return nil, nil
	}
	infos, err := a.store.List(ctx, prefix+"/"+targetID+"/")
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	keys := make([]string, 0, len(infos))
	for _, fi := range infos {
		keys = append(keys, fi.Key)
	}
	return keys, nil
}

// Read returns the archived cycle stored under name (the last element of a
// key returned by List) for targetID.
func (a *Archive) Read(ctx context.Context, targetID, name string) (domain.CycleResult, error) {
	var res domain.CycleResult
	if a == nil || name == "" || strings.ContainsAny(name, `/\`) || path.Ext(name) != ".json" {
		return res, ErrNotFound
	}

	key := prefix + "/" + targetID + "/" + name
	ok, err := a.store.Exists(ctx, key)
	if err != nil {
		return res, fmt.Errorf("stat archive %s: %w", key, err)
	}
	if !ok {
		return res, ErrNotFound
	}

	rc, err := a.store.Read(ctx, key)
	if err != nil {
		return res, fmt.Errorf("read archive %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return res, fmt.Errorf("read archive %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("decode archive %s: %w", key, err)
	}
	return res, nil
}
