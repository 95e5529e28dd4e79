package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

var viewerSchema = []string{
	`CREATE TABLE IF NOT EXISTS tui_viewers (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL,
		public_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_seen_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tui_viewers_username ON tui_viewers (username)`,
}

// Viewer is an SSH public key allowed to open the terminal UI.
type Viewer struct {
	ID          int64
	Username    string
	PublicKey   string
	Fingerprint string
	Active      bool
	LastSeenAt  *time.Time
	CreatedAt   time.Time
}

type ViewerRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewViewerRepository(pool PgxPool, tracer trace.Tracer) *ViewerRepository {
	return &ViewerRepository{pool: pool, tracer: tracer}
}

func (r *ViewerRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "viewer-repo.run-migrations")
	defer span.End()
	return execAll(ctx, r.pool, viewerSchema)
}

// AddViewer registers a key, or reactivates and renames it when the fingerprint is known.
func (r *ViewerRepository) AddViewer(ctx context.Context, username, publicKey, fingerprint string) (int64, error) {
	_, span := r.tracer.Start(ctx, "viewer-repo.add-viewer")
	defer span.End()

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO tui_viewers (username, public_key, fingerprint)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		     username = excluded.username,
		     public_key = excluded.public_key,
		     active = TRUE
		 RETURNING id`,
		strings.TrimSpace(username), strings.TrimSpace(publicKey), fingerprint,
	).Scan(&id)
	return id, err
}

// FindByFingerprint returns the active viewer for a SHA256 key fingerprint, or nil.
func (r *ViewerRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*Viewer, error) {
	_, span := r.tracer.Start(ctx, "viewer-repo.find-by-fingerprint")
	defer span.End()

	row := r.pool.QueryRow(ctx,
		`SELECT id, username, public_key, fingerprint, active, last_seen_at, created_at
		 FROM tui_viewers
		 WHERE fingerprint = $1 AND active`,
		fingerprint,
	)

	var v Viewer
	err := row.Scan(&v.ID, &v.Username, &v.PublicKey, &v.Fingerprint, &v.Active, &v.LastSeenAt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *ViewerRepository) TouchLastSeen(ctx context.Context, id int64) error {
	_, span := r.tracer.Start(ctx, "viewer-repo.touch-last-seen")
	defer span.End()

	_, err := r.pool.Exec(ctx, `UPDATE tui_viewers SET last_seen_at = NOW() WHERE id = $1`, id)
	return err
}

// RevokeViewer deactivates every key of a username and returns how many were active.
func (r *ViewerRepository) RevokeViewer(ctx context.Context, username string) (int64, error) {
	_, span := r.tracer.Start(ctx, "viewer-repo.revoke-viewer")
	defer span.End()

	tag, err := r.pool.Exec(ctx,
		`UPDATE tui_viewers SET active = FALSE WHERE username = $1 AND active`,
		strings.TrimSpace(username),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
