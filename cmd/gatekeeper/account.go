// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/web"
)

// AdminPasswordEnv supplies the create-admin password non-interactively.
const AdminPasswordEnv = "GATEKEEPER_ADMIN_PASSWORD"

// adminOptions holds the create-admin flags.
type adminOptions struct {
	name     string
	email    string
	password string
}

// NewAccountCmd creates the account administration command group.
func NewAccountCmd() *cobra.Command {
	return newAccountCmd(nil)
}

func newAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer accounts",
	}
	cmd.AddCommand(newCreateAdminCmd(deps))
	cmd.AddCommand(newPromoteCmd(deps))
	return cmd
}

func newCreateAdminCmd(deps *Deps) *cobra.Command {
	opts := &adminOptions{}
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Long: `Create an account and grant it the admin role. An existing account with
the same email is promoted instead. The password is taken from --password,
then ` + AdminPasswordEnv + `, then an interactive prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreateAdmin(cmd, opts, deps)
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.email, "email", "", "login email")
	cmd.Flags().StringVar(&opts.password, "password", "", "password (prefer "+AdminPasswordEnv+" or the prompt)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPromoteCmd(deps *Deps) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Grant the admin role to an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuthService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
				account, err := svc.PromoteToAdmin(ctx, email)
				if err != nil {
					return err
				}
				cmd.Printf("Account %d (%s) is now an admin\n", account.ID, account.Email)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the account to promote")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runCreateAdmin(cmd *cobra.Command, opts *adminOptions, deps *Deps) error {
	deps = deps.withDefaults()

	password := opts.password
	if password == "" {
		password = os.Getenv(AdminPasswordEnv)
	}
	if password == "" {
		var err error
		if password, err = deps.PasswordPrompt(cmd); err != nil {
			return err
		}
	}

	name := strings.TrimSpace(opts.name)
	if err := web.ValidateNewAccount(name, opts.email, password); err != nil {
		return oops.Code("ACCOUNT_INVALID").Wrap(err)
	}

	return withAuthService(cmd, deps, func(ctx context.Context, svc *auth.Service) error {
		_, err := svc.CreateAccount(ctx, name, opts.email, password, nil)
		switch {
		case err == nil:
			cmd.Printf("Created account %s\n", opts.email)
		case auth.CodeOf(err) == auth.CodeDuplicateEmail:
			cmd.Printf("Account %s already exists; promoting it\n", opts.email)
		default:
			return err
		}

		account, err := svc.PromoteToAdmin(ctx, opts.email)
		if err != nil {
			return err
		}
		cmd.Printf("Account %d (%s) is an admin\n", account.ID, account.Email)
		return nil
	})
}

// withAuthService runs fn against an auth service on the configured store.
func withAuthService(cmd *cobra.Command, deps *Deps, fn func(context.Context, *auth.Service) error) error {
	deps = deps.withDefaults()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}
	logger := deps.logger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackend(ctx, cfg, deps, logger, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer b.close()

	stack, err := newAuthStack(cfg, b, logger)
	if err != nil {
		return err
	}
	return fn(ctx, stack.service)
}
