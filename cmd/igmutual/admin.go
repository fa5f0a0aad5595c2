package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igmutual/pkg/auth"
	"igmutual/pkg/ui"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage the platform login and session",
	Long: `Manage the stored platform login and the session checks run under.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (IGMUTUAL_IG_USERNAME, IGMUTUAL_IG_PASSWORD)

These commands act on the local database. Against a running server use
the /api/v1/admin endpoints so the server lifts a refresh halt at once.`,
}

var adminCredentialsCmd = &cobra.Command{
	Use:   "credentials [username]",
	Short: "Store the platform login",
	Long: `Store the username, password and optional TOTP secret used to log in
when the session expires or is rejected. Storing credentials lifts a halt
caused by a failed refresh.`,
	Example: `  igmutual admin credentials
  igmutual admin credentials checker_account`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAdminCredentials,
}

var adminForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove the stored platform login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := auth.NewManager(cfg.Session.CredentialBackend, cfg.Session.CredentialsFile)
		if err != nil {
			return fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		if err := manager.Delete(); err != nil {
			return err
		}
		ui.PrintSuccess("Credentials removed")
		return nil
	},
}

var adminRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Log in now and replace the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			health, err := a.engine.ForceRefresh(cmd.Context())
			fmt.Fprint(ui.Out, ui.RenderHealth(health))
			if err != nil {
				return fmt.Errorf("session refresh failed: %w", err)
			}
			ui.PrintSuccess("Session refreshed")
			return nil
		})
	},
}

var adminHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the session health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			fmt.Fprint(ui.Out, ui.RenderHealth(a.engine.GetSessionHealth(cmd.Context())))
			return nil
		})
	},
}

var adminSessionCmd = &cobra.Command{
	Use:   "set-session",
	Short: "Install a session token obtained in a browser",
	Long: `Install a session token copied from the sessionid cookie of a logged in
browser. The token is validated before it replaces the current session.`,
	Args: cobra.NoArgs,
	RunE: runAdminSession,
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCredentialsCmd)
	adminCmd.AddCommand(adminForgetCmd)
	adminCmd.AddCommand(adminRefreshCmd)
	adminCmd.AddCommand(adminHealthCmd)
	adminCmd.AddCommand(adminSessionCmd)
}

func runAdminCredentials(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	var username string
	if len(args) > 0 {
		username = args[0]
	} else {
		fmt.Print("Username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(input)
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	fmt.Print("Password: ")
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	fmt.Print("TOTP secret (press Enter if 2FA is off): ")
	secret, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read TOTP secret: %w", err)
	}

	return withApp(cmd.Context(), func(a *app) error {
		if err := a.engine.SetCredentials(cmd.Context(), username, password, secret); err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
		ui.PrintSuccess("Credentials stored for " + username)
		ui.PrintDim("Run 'igmutual admin refresh' to log in now.")
		return nil
	})
}

func runAdminSession(cmd *cobra.Command, args []string) error {
	fmt.Print("sessionid cookie value: ")
	token, err := readPassword(bufio.NewReader(os.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read session token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("session token is required")
	}

	return withApp(cmd.Context(), func(a *app) error {
		if err := a.engine.SetSession(cmd.Context(), token); err != nil {
			return fmt.Errorf("session was rejected: %w", err)
		}
		fmt.Fprint(ui.Out, ui.RenderHealth(a.engine.GetSessionHealth(cmd.Context())))
		ui.PrintSuccess("Session installed")
		return nil
	})
}

// readPassword reads a secret from stdin without echoing
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
