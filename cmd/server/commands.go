package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/travelchat/internal/auth"
	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/server"
	"github.com/Tyrowin/travelchat/internal/store"
)

func buildMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			logger.Info("migrations applied", "driver", cfg.Database.Driver)
			return nil
		},
	}
}

func buildTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		email   string
		name    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured secret",
		Example: `  # Token for user id 1
  travelchat token --subject 1

  # Token addressed by email, valid for an hour
  travelchat token --subject alice@example.com --ttl 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenExpiry
			}
			svc := auth.NewJWTService(cfg.Auth.JWTSecret, ttl, cfg.Auth.Issuer)
			token, err := svc.Generate(auth.Identity{Subject: subject, Email: email, Name: name})
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "User id or email the token is issued for")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&name, "name", "", "Display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to auth.token_expiry)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// withStore opens the configured store for a one-shot admin command.
func withStore(ctx context.Context, configPath string, fn func(store.Store) error) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return err
	}
	newLogger(cfg)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func buildUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage chat users",
	}

	var email, username string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), *configPath, func(st store.Store) error {
				u, err := st.CreateUser(cmd.Context(), email, username)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %d created (%s)\n", u.ID, u.Email)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringVar(&username, "username", "", "Display name")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func buildGroupCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage travel groups",
	}

	var name string
	var owner int64
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a group owned by an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), *configPath, func(st store.Store) error {
				g, err := st.CreateGroup(cmd.Context(), name, chat.UserID(owner))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "group %d created\n", g.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Group name")
	create.Flags().Int64Var(&owner, "owner", 0, "User id of the group admin")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("owner")

	var admin bool
	addMember := &cobra.Command{
		Use:   "add-member <group-id> <user-id>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}
			user, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[1])
			}
			role := chat.RoleMember
			if admin {
				role = chat.RoleAdmin
			}
			return withStore(cmd.Context(), *configPath, func(st store.Store) error {
				return st.AddMember(cmd.Context(), chat.ChannelID(group), chat.UserID(user), role)
			})
		},
	}
	addMember.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")

	cmd.AddCommand(create, addMember)
	return cmd
}
