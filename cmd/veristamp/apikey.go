package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/audit"
	"github.com/veristamp/veristamp/internal/config"
	"github.com/veristamp/veristamp/internal/database"
	"github.com/veristamp/veristamp/internal/keys"
	"github.com/veristamp/veristamp/internal/model"
	"github.com/veristamp/veristamp/internal/repository"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Provision gateway API keys",
	}
	cmd.AddCommand(
		newAPIKeyCreateCmd(),
		newAPIKeyListCmd(),
		newAPIKeyRevokeCmd(),
	)
	return cmd
}

func withRepos(ctx context.Context, fn func(ctx context.Context, keysRepo *repository.APIKeyRepository, trail *audit.Trail) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	log := zap.NewNop().Sugar()
	trail := audit.New(repository.NewAuditRepository(pool), log)
	return fn(ctx, repository.NewAPIKeyRepository(pool), trail)
}

func newAPIKeyCreateCmd() *cobra.Command {
	var (
		userID    string
		name      string
		rateLimit int64
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print the raw secret once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return withRepos(cmd.Context(), func(ctx context.Context, repo *repository.APIKeyRepository, trail *audit.Trail) error {
				secret, err := keys.GenerateSecret()
				if err != nil {
					return err
				}
				key := &model.APIKey{
					ID:      uuid.NewString(),
					UserID:  userID,
					Name:    name,
					KeyHash: keys.HashSecret(secret),
					Active:  true,
				}
				if rateLimit > 0 {
					key.RateLimit = &rateLimit
				}
				if expiresIn > 0 {
					t := time.Now().UTC().Add(expiresIn)
					key.ExpiresAt = &t
				}
				if err := repo.Create(ctx, key); err != nil {
					return err
				}
				trail.Record(ctx, userID, audit.ActionAPIKeyCreated, "api_key", key.ID, model.Map{"name": name})
				fmt.Printf("id:     %s\n", key.ID)
				fmt.Printf("secret: %s\n", secret)
				fmt.Println("store the secret now; only its hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owning account id")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name")
	cmd.Flags().Int64Var(&rateLimit, "rate-limit", 0, "Request ceiling (0 = unlimited)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Validity window, e.g. 720h (0 = no expiry)")
	return cmd
}

func newAPIKeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			return withRepos(cmd.Context(), func(ctx context.Context, repo *repository.APIKeyRepository, _ *audit.Trail) error {
				list, err := repo.ListByUser(ctx, userID)
				if err != nil {
					return err
				}
				for _, k := range list {
					status := "active"
					if !k.Active {
						status = "revoked"
					}
					fmt.Printf("%s  %-20s %s  requests=%d\n", k.ID, k.Name, status, k.RequestsCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owning account id")
	return cmd
}

func newAPIKeyRevokeCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepos(cmd.Context(), func(ctx context.Context, repo *repository.APIKeyRepository, trail *audit.Trail) error {
				if err := repo.Revoke(ctx, args[0]); err != nil {
					return err
				}
				trail.Record(ctx, userID, audit.ActionAPIKeyRevoked, "api_key", args[0], nil)
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Acting account id (for the audit trail)")
	return cmd
}
