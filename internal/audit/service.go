// Package audit records who did what to carts and sales at the register.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

// Entry is one audited request.
type Entry struct {
	Actor        string          `json:"actor,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
}

// Service builds entries from requests and hands them to Store.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

// Record stores an entry for req. A sampling rate in (0,1) keeps that share of entries.
func (s Service) Record(ctx context.Context, req *http.Request, action, resourceType, resourceID string, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}
	route := obs.Route(req, req.URL.Path)
	actor, _ := common.UserID(req.Context())
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if status == 0 {
		status = http.StatusOK
	}
	return s.Store.Insert(ctx, Entry{
		Actor:        actor,
		Action:       buildAction(action, req.Method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       req.Method,
		Path:         req.URL.Path,
		Status:       status,
		IP:           common.ClientIP(req),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-Id")),
		Metadata:     metadata,
		CreatedAt:    now().UTC(),
	})
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + route
}

func buildResource(resourceType, route string) string {
	if trimmed := strings.TrimSpace(resourceType); trimmed != "" {
		return trimmed
	}
	route = strings.TrimSpace(route)
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		return strings.Join(segments[2:], ".")
	}
	return strings.ReplaceAll(strings.Trim(route, "/"), "/", ".")
}

// Execer is the subset of pgx used by Postgres.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres writes entries to the audit_logs table.
type Postgres struct {
	DB Execer
}

// Insert implements Store.
func (p Postgres) Insert(ctx context.Context, e Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := p.DB.Exec(ctx, `
		INSERT INTO audit_logs
			(actor, action, resource_type, resource_id, method, path, status, ip, user_agent, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		nullable(e.Actor), e.Action, e.ResourceType, nullable(e.ResourceID), e.Method, e.Path, e.Status,
		nullable(e.IP), nullable(e.UserAgent), nullable(e.RequestID), metadata, e.CreatedAt)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// LogStore writes entries as structured log lines. It backs the in-memory ledger mode.
type LogStore struct {
	Logger zerolog.Logger
}

// Insert implements Store.
func (l LogStore) Insert(_ context.Context, e Entry) error {
	ev := l.Logger.Info().
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Int("status", e.Status).
		Str("ip", e.IP).
		Str("request_id", e.RequestID)
	if len(e.Metadata) > 0 {
		ev = ev.RawJSON("metadata", e.Metadata)
	}
	ev.Msg("audit")
	return nil
}
