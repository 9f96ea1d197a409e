package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/sessionauth/store"
)

var (
	userEmail    string
	userPassword string
	userInactive bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Provision accounts and change their flags",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user; the password is read from stdin unless --password is set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pw := userPassword
		if pw == "" {
			if pw, err = readPassword(cmd); err != nil {
				return err
			}
		}
		hash, err := env.auth.HashPassword(pw)
		if err != nil {
			return err
		}
		email := userEmail
		if email == "" {
			email = args[0]
		}
		id, err := env.store.CreateUser(ctx, store.NewUser{
			Username:     args[0],
			Email:        email,
			PasswordHash: hash,
			Active:       !userInactive,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %s with id %d\n", args[0], id)
		return nil
	},
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

// flagCommand builds a subcommand that flips one account flag.
func flagCommand(use, short string, set func(ctx context.Context, st *store.SQLStore, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <identity>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			id, err := resolveUser(ctx, env.store, args[0])
			if err != nil {
				return err
			}
			if err := set(ctx, env.store, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, args[0])
			return nil
		},
	}
}

func resolveUser(ctx context.Context, st *store.SQLStore, identity string) (int64, error) {
	u, ok, err := st.GetUserByIdentity(ctx, identity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrUserNotFound, identity)
	}
	return u.ID, nil
}

var userRoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Grant or revoke roles",
}

func roleCommand(use string, apply func(ctx context.Context, st *store.SQLStore, id int64, role string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <identity> <role>",
		Short: use + " a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if _, ok := defaultPermissions.Roles[args[1]]; !ok {
				return fmt.Errorf("unknown role %q", args[1])
			}
			id, err := resolveUser(ctx, env.store, args[0])
			if err != nil {
				return err
			}
			return apply(ctx, env.store, id, args[1])
		},
	}
}

var userLinkCmd = &cobra.Command{
	Use:   "link <identity> <provider> <subject>",
	Short: "Link an identity provider subject to a user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		id, err := resolveUser(ctx, env.store, args[0])
		if err != nil {
			return err
		}
		return env.store.LinkExternal(ctx, args[1], args[2], id)
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "email address (defaults to the username)")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password; prefer stdin")
	userAddCmd.Flags().BoolVar(&userInactive, "inactive", false, "create the account deactivated")

	userRoleCmd.AddCommand(
		roleCommand("add", func(ctx context.Context, st *store.SQLStore, id int64, role string) error {
			return st.AddRole(ctx, id, role)
		}),
		roleCommand("remove", func(ctx context.Context, st *store.SQLStore, id int64, role string) error {
			return st.RemoveRole(ctx, id, role)
		}),
	)

	userCmd.AddCommand(
		userAddCmd,
		flagCommand("ban", "Ban a user and end their sessions on next request",
			func(ctx context.Context, st *store.SQLStore, id int64) error { return st.SetBanned(ctx, id, true) }),
		flagCommand("unban", "Lift a ban",
			func(ctx context.Context, st *store.SQLStore, id int64) error { return st.SetBanned(ctx, id, false) }),
		flagCommand("activate", "Mark a user active",
			func(ctx context.Context, st *store.SQLStore, id int64) error { return st.SetActive(ctx, id, true) }),
		flagCommand("deactivate", "Mark a user inactive",
			func(ctx context.Context, st *store.SQLStore, id int64) error { return st.SetActive(ctx, id, false) }),
		flagCommand("require-password-change", "Require a password change on next request",
			func(ctx context.Context, st *store.SQLStore, id int64) error { return st.SetPasswordChange(ctx, id, true) }),
		userRoleCmd,
		userLinkCmd,
	)
}
