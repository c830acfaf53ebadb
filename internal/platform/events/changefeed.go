package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/platform/access"
)

// Change is the payload of a row-change notification.
type Change struct {
	Table      string `json:"table"`
	Op         string `json:"op"`
	ID         string `json:"id"`
	ClinicID   string `json:"clinic_id,omitempty"`
	HospitalID string `json:"hospital_id,omitempty"`
}

// Scopes returns the tenant rooms that own the changed row.
func (c Change) Scopes() []Scope {
	var scopes []Scope
	if id, err := uuid.Parse(c.ClinicID); err == nil {
		scopes = append(scopes, TenantScope(access.KindClinic, id))
	}
	if id, err := uuid.Parse(c.HospitalID); err == nil {
		scopes = append(scopes, TenantScope(access.KindHospital, id))
	}
	return scopes
}

// ChangeFeed listens for row-change notifications and republishes them as
// "<table>:changed" events to the owning tenant rooms. It covers writes that
// bypass the API, such as operator SQL.
type ChangeFeed struct {
	pool    *pgxpool.Pool
	channel string
	pub     Publisher
	logger  zerolog.Logger
}

func NewChangeFeed(pool *pgxpool.Pool, channel string, pub Publisher, logger zerolog.Logger) *ChangeFeed {
	return &ChangeFeed{pool: pool, channel: channel, pub: pub, logger: logger}
}

// Run listens until ctx is cancelled, reconnecting with exponential backoff.
func (f *ChangeFeed) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		changeFeedReconnects.Inc()
		f.logger.Warn().Err(err).Dur("retry_in", wait).Msg("change feed disconnected")
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (f *ChangeFeed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+f.channel); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}
	f.logger.Info().Str("channel", f.channel).Msg("change feed listening")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		f.dispatch(ctx, n.Payload)
	}
}

func (f *ChangeFeed) dispatch(ctx context.Context, payload string) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		f.logger.Warn().Err(err).Msg("discard malformed change notification")
		return
	}
	Multi(ctx, f.pub, c.Table+":changed", c, c.Scopes()...)
}
