package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/assetdesk/internal/gateway"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login --email <address>",
		Short: "Sign in and save the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(email) == "" {
				return fmt.Errorf("%w: --email is required", errUsage)
			}
			s, err := openConsole(flags)
			if err != nil {
				return err
			}
			defer s.Close()

			token, acct, err := s.Login(commandContext(cmd), email)
			if err != nil {
				return err
			}
			if err := s.settings.SaveToken(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", accountLabel(acct))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	return cmd
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.SaveToken(""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account and its permissions",
		Args:  cobra.NoArgs,
		RunE: recordCommand(flags, func(ctx context.Context, cmd *cobra.Command, s *session, args []string) error {
			acct := s.Account()
			out := cmd.OutOrStdout()
			if flags.jsonMode {
				return printJSON(out, acct)
			}
			fmt.Fprintf(out, "%s\nRole: %s\n", accountLabel(acct), acct.Role.Name)
			if exp, ok := gateway.TokenExpiry(s.Client().Token()); ok {
				fmt.Fprintf(out, "Session expires: %s\n", exp.Format(time.RFC3339))
			}
			for _, subject := range types.PermissionSubjects {
				var allowed []string
				for _, action := range types.PermissionActions {
					if acct.Allows(subject, action) {
						allowed = append(allowed, action)
					}
				}
				if len(allowed) == 0 {
					allowed = []string{"-"}
				}
				fmt.Fprintf(out, "  %-9s %s\n", subject+":", strings.Join(allowed, ","))
			}
			return nil
		}),
	}
}

func accountLabel(acct *types.Account) string {
	name := strings.TrimSpace(acct.FirstName + " " + acct.LastName)
	if name == "" {
		return acct.Email
	}
	return fmt.Sprintf("%s <%s>", name, acct.Email)
}
