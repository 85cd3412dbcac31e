package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0xPollos/twitter-follow-tracker-bot/internal/archive"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/domain"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/reconciler"
	"github.com/0xPollos/twitter-follow-tracker-bot/internal/repository"
	pkglog "github.com/0xPollos/twitter-follow-tracker-bot/pkg/log"
	"github.com/0xPollos/twitter-follow-tracker-bot/pkg/response"
)

// Tracker is the read side of a running reconciler.
type Tracker interface {
	Target() domain.TargetIdentity
	State() reconciler.State
	LastResult() (domain.CycleResult, bool)
}

// Handler serves tracker status and stored snapshots.
type Handler struct {
	trackers []Tracker
	store    repository.SnapshotStore
	archive  *archive.Archive
	metrics  http.Handler
}

// NewHandler creates a new HTTP handler. metrics may be nil to omit /metrics.
func NewHandler(trackers []Tracker, store repository.SnapshotStore, a *archive.Archive, metrics http.Handler) *Handler {
	return &Handler{
		trackers: trackers,
		store:    store,
		archive:  a,
		metrics:  metrics,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api/v1")
	{
		targets := api.Group("/targets")
		{
			// GET /api/v1/targets
			targets.GET("", h.ListTargets)
			// GET /api/v1/targets/:username/following
			targets.GET("/:username/following", h.ListFollowing)
			// GET /api/v1/targets/:username/archive
			targets.GET("/:username/archive", h.ListArchive)
			// GET /api/v1/targets/:username/archive/:name
			targets.GET("/:username/archive/:name", h.GetArchived)
		}
	}
}

type targetStatus struct {
	Username   string              `json:"username"`
	ID         string              `json:"id"`
	State      reconciler.State    `json:"state"`
	LastResult *domain.CycleResult `json:"last_result,omitempty"`
}

type followingEntry struct {
	FollowedID string    `json:"followed_id"`
	FollowedAt time.Time `json:"followed_at"`
}

// ListTargets handles GET /api/v1/targets.
func (h *Handler) ListTargets(c *gin.Context) {
	out := make([]targetStatus, 0, len(h.trackers))
	for _, t := range h.trackers {
		id := t.Target()
		st := targetStatus{Username: id.Username, ID: id.ID, State: t.State()}
		if res, ok := t.LastResult(); ok {
			st.LastResult = &res
		}
		out = append(out, st)
	}
	response.Success(c, out)
}

// ListFollowing handles GET /api/v1/targets/:username/following.
func (h *Handler) ListFollowing(c *gin.Context) {
	ctx := c.Request.Context()
	l := pkglog.Ctx(ctx)

	target, ok := h.lookup(c.Param("username"))
	if !ok {
		response.NotFound(c, "unknown target")
		return
	}

	records, err := h.store.ListRecords(ctx, target.ID)
	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldTargetID, target.ID).Msg("list following failed")
		response.InternalError(c, "failed to list following")
		return
	}

	entries := make([]followingEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, followingEntry{FollowedID: rec.FollowedID, FollowedAt: rec.FollowedAt})
	}
	response.Success(c, gin.H{
		"target":    target,
		"count":     len(entries),
		"following": entries,
	})
}

// ListArchive handles GET /api/v1/targets/:username/archive.
func (h *Handler) ListArchive(c *gin.Context) {
	ctx := c.Request.Context()
	l := pkglog.Ctx(ctx)

	target, ok := h.lookup(c.Param("username"))
	if !ok {
		response.NotFound(c, "unknown target")
		return
	}

	keys, err := h.archive.List(ctx, target.ID)
	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldTargetID, target.ID).Msg("list archive failed")
		response.InternalError(c, "failed to list archive")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	response.Success(c, gin.H{"target": target, "keys": keys})
}

// GetArchived handles GET /api/v1/targets/:username/archive/:name.
func (h *Handler) GetArchived(c *gin.Context) {
	ctx := c.Request.Context()
	l := pkglog.Ctx(ctx)

	target, ok := h.lookup(c.Param("username"))
	if !ok {
		response.NotFound(c, "unknown target")
		return
	}

	res, err := h.archive.Read(ctx, target.ID, c.Param("name"))
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			response.NotFound(c, "archived cycle not found")
			return
		}
		l.Error().Err(err).Str(pkglog.FieldTargetID, target.ID).Msg("read archive failed")
		response.InternalError(c, "failed to read archive")
		return
	}
	response.Success(c, res)
}

func (h *Handler) lookup(username string) (domain.TargetIdentity, bool) {
	username = strings.TrimPrefix(username, "@")
	for _, t := range h.trackers {
		if id := t.Target(); strings.EqualFold(id.Username, username) {
			return id, true
		}
	}
	return domain.TargetIdentity{}, false
}
