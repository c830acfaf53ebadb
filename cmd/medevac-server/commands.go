package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/medevac/medevac/internal/config"
	"github.com/medevac/medevac/internal/domain/tenant"
	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/db"
	"github.com/medevac/medevac/internal/platform/events"
)

// operator is the principal CLI tenant reviews are recorded under.
var operator = auth.Principal{ID: "cli:operator", Role: auth.RoleAdmin}

// openPool connects to Postgres. Operator commands make no sense against the
// per-process memory store.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store != config.StorePostgres {
		return nil, nil, fmt.Errorf("this command needs STORE=%s", config.StorePostgres)
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, nil).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, nil).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

// tenantService builds a tenant service over Postgres. Review events reach
// connected admins when Redis is configured.
func tenantService(ctx context.Context) (*tenant.Service, func(), error) {
	cfg, pool, err := openPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := pool.Close

	var pub events.Publisher = events.Discard{}
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger := newLogger(cfg)
		bus := events.NewBus(nil, events.NewRedisRelay(client, cfg.RedisChannel, logger), logger)
		runCtx, stop := context.WithCancel(context.Background())
		flushed := make(chan struct{})
		go func() {
			bus.Run(runCtx)
			close(flushed)
		}()
		pub = bus
		cleanup = func() {
			stop()
			<-flushed
			client.Close()
			pool.Close()
		}
	}
	return tenant.NewService(tenant.NewRepoPG(pool), pub), cleanup, nil
}

func parseKindAndID(kindArg, idArg string) (access.TenantKind, uuid.UUID, error) {
	kind := access.TenantKind(kindArg)
	if !kind.Valid() {
		return "", uuid.Nil, fmt.Errorf("kind must be %q or %q, got %q", access.KindClinic, access.KindHospital, kindArg)
	}
	id, err := uuid.Parse(idArg)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid id %q: %w", idArg, err)
	}
	return kind, id, nil
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Review clinics and hospitals",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			svc, cleanup, err := tenantService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			f := tenant.Filter{Kind: access.TenantKind(kind), Status: access.TenantStatus(status)}
			if f.Kind != "" && !f.Kind.Valid() {
				return fmt.Errorf("unknown kind %q", kind)
			}
			items, total, err := svc.List(cmd.Context(), f, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s %-9s %-17s %s\n", "ID", "KIND", "STATUS", "NAME")
			for _, t := range items {
				fmt.Fprintf(out, "%-36s %-9s %-17s %s\n", t.ID, t.Kind, t.Status, t.Name)
			}
			fmt.Fprintf(out, "%d of %d\n", len(items), total)
			return nil
		},
	}
	listCmd.Flags().String("kind", "", "clinic or hospital")
	listCmd.Flags().String("status", "", "pending_approval, active or suspended")
	listCmd.Flags().Int("limit", 50, "Maximum rows")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <clinic|hospital> <id>",
		Short: "Activate a pending tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, id, err := parseKindAndID(args[0], args[1])
			if err != nil {
				return err
			}
			svc, cleanup, err := tenantService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := svc.Approve(cmd.Context(), operator, kind, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) is %s\n", t.Kind, t.ID, t.Name, t.Status)
			return nil
		},
	})

	rejectCmd := &cobra.Command{
		Use:   "reject <clinic|hospital> <id>",
		Short: "Suspend a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			kind, id, err := parseKindAndID(args[0], args[1])
			if err != nil {
				return err
			}
			svc, cleanup, err := tenantService(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := svc.Reject(cmd.Context(), operator, kind, id, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) is %s\n", t.Kind, t.ID, t.Name, t.Status)
			return nil
		},
	}
	rejectCmd.Flags().String("reason", "", "Reason shown to the owner (required)")
	cmd.AddCommand(rejectCmd)

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Development credentials",
	}

	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign an HS256 token with AUTH_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			email, _ := cmd.Flags().GetString("email")
			admin, _ := cmd.Flags().GetBool("admin")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := mintToken(cfg, subject, email, admin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mintCmd.Flags().String("subject", "", "Principal id (defaults to a random uuid)")
	mintCmd.Flags().String("email", "", "Email claim")
	mintCmd.Flags().Bool("admin", false, "Grant the admin role")
	mintCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	cmd.AddCommand(mintCmd)

	return cmd
}

func mintToken(cfg *config.Config, subject, email string, admin bool, ttl time.Duration) (string, error) {
	if cfg.IsProduction() {
		return "", fmt.Errorf("token mint is disabled in production")
	}
	if len(cfg.AuthJWTSecret) < 32 {
		return "", fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}
	if subject == "" {
		subject = uuid.NewString()
	}
	role := auth.RoleUser
	if admin {
		role = auth.RoleAdmin
	}
	return auth.MintToken([]byte(cfg.AuthJWTSecret), cfg.AuthIssuer, subject, email, role, ttl)
}
