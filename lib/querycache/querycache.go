package querycache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	_ "embed"

	"go.opentelemetry.io/otel/codes"

	"skyquery/lib/telemetry"
	"skyquery/lib/timeutil"
)

//go:embed schema.sql
var Schema string

var tracer = telemetry.Tracer("skyquery.lib.querycache")

// ErrMiss is returned when a key is absent or its entry has expired.
var ErrMiss = errors.New("cache miss")

// Cache stores raw query responses so repeat invocations don't hammer
// the archives. Entries expire, they are never invalidated by content.
type Cache struct {
	db *sql.DB
}

func New(database *sql.DB) Cache {
	return Cache{db: database}
}

// Key derives the cache key for a query against a service.
func Key(service, query string) string {
	sum := sha256.Sum256([]byte(service + "\x00" + query))
	return hex.EncodeToString(sum[:])
}

func (c Cache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()

	var payload []byte
	var expiresAt int64
	err := c.db.QueryRowContext(
		ctx,
		`select payload, expires_at from query_results where key = ?`,
		key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read cache entry")
		return nil, err
	}

	if expiresAt <= timeutil.Now().Unix() {
		_, err = c.db.ExecContext(ctx, `delete from query_results where key = ?`, key)
		if err != nil {
			span.RecordError(err)
		}
		return nil, ErrMiss
	}

	return payload, nil
}

func (c Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "Set")
	defer span.End()

	expiresAt := timeutil.Now().Add(ttl).Unix()
	_, err := c.db.ExecContext(
		ctx,
		`insert into query_results (key, payload, expires_at) values (?, ?, ?)
		on conflict (key) do update set payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expiresAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cache entry")
		return err
	}
	return nil
}

// Purge drops every expired entry.
func (c Cache) Purge(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Purge")
	defer span.End()

	_, err := c.db.ExecContext(
		ctx,
		`delete from query_results where expires_at <= ?`,
		timeutil.Now().Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to purge cache")
		return err
	}
	return nil
}
