// Package main provides the authkit binary: a small command-line client for
// AuthKit backends, and a working example of wiring the Manager, a
// persistent keystore and the slogx logger together.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/authkit"
	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/keystore"
	sqlitestore "github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/keystore/sqlite"
	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/slogx"
)

const (
	Version = "0.1.0"
	appName = "authkit"
)

type rootOptions struct {
	baseURL    string
	storePath  string
	driver     string
	cookieMode bool
	rateLimit  float64
	logLevel   string
	logFormat  string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Command-line client for AuthKit backends",
		Long: `authkit talks to an AuthKit backend: log in, inspect the session,
renew tokens and log out. The session persists between invocations in an
encrypted file (set AUTHKIT_PASSPHRASE) or a SQLite database.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.baseURL, "base-url", os.Getenv("AUTHKIT_BASE_URL"), "Backend origin (env AUTHKIT_BASE_URL)")
	pf.StringVar(&opts.storePath, "store", defaultStorePath(), "Session store path")
	pf.StringVar(&opts.driver, "store-driver", envOrDefault("AUTHKIT_STORE_DRIVER", "file"), "Session store driver (file, sqlite, memory)")
	pf.BoolVar(&opts.cookieMode, "cookie-mode", false, "Refresh token travels in an httpOnly cookie")
	pf.Float64Var(&opts.rateLimit, "rate-limit", 5, "Max requests per second, 0 disables")
	pf.StringVar(&opts.logLevel, "log-level", envOrDefault("LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", envOrDefault("LOG_FORMAT", "text"), "Log format (json, text)")

	cmd.AddCommand(
		loginCmd(opts),
		registerCmd(opts),
		whoamiCmd(opts),
		refreshCmd(opts),
		logoutCmd(opts),
		forgotPasswordCmd(opts),
		verifyEmailCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

func loginCmd(opts *rootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			password, err := promptPassword()
			if err != nil {
				return err
			}

			if err := m.Login(ctx, authkit.Credentials{Email: email, Password: password}); err != nil {
				return err
			}

			s := m.State()
			fmt.Printf("Logged in as %s", s.User.Email)
			if s.User.DisplayName != "" {
				fmt.Printf(" (%s)", s.User.DisplayName)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func registerCmd(opts *rootOptions) *cobra.Command {
	var first, last, email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account (does not log in)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			password, err := promptPassword()
			if err != nil {
				return err
			}

			resp, err := m.Register(ctx, authkit.Registration{
				FullName: authkit.FullName{First: first, Last: last},
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}

			fmt.Println(resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&first, "first-name", "", "First name")
	cmd.Flags().StringVar(&last, "last-name", "", "Last name")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func whoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := m.Bootstrap(ctx); err != nil {
				return err
			}

			s := m.State()
			if !s.IsAuthenticated() {
				fmt.Println("Not logged in.")
				return nil
			}

			out, err := json.MarshalIndent(s.User, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func refreshCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := m.Bootstrap(ctx); err != nil {
				return err
			}
			if err := m.RefreshToken(ctx); err != nil {
				return err
			}

			fmt.Println("Token renewed.")
			return nil
		},
	}
}

func logoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and clear the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := m.Bootstrap(ctx); err != nil {
				return err
			}
			if err := m.Logout(ctx); err != nil {
				return err
			}

			fmt.Println("Logged out.")
			return nil
		},
	}
}

func forgotPasswordCmd(opts *rootOptions) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Start the password-reset flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := m.ForgotPassword(ctx, email)
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func verifyEmailCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-email <token>",
		Short: "Redeem an email-verification token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, m, cleanup, err := setup(opts)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := m.VerifyEmail(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp.Message)
			return nil
		},
	}
}

// setup builds the Manager from the root options. The returned cleanup
// closes the Manager (and with it the store) and releases the signal
// context.
func setup(opts *rootOptions) (context.Context, *authkit.Manager, func(), error) {
	if opts.baseURL == "" {
		return nil, nil, nil, fmt.Errorf("--base-url or AUTHKIT_BASE_URL is required")
	}

	logger := slogx.New(slogx.Config{
		Service: appName,
		Version: Version,
		Env:     envOrDefault("ENV", "dev"),
		Level:   opts.logLevel,
		Format:  opts.logFormat,
		Output:  os.Stderr,
	})

	store, err := openStore(opts, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	m, err := authkit.New(authkit.Config{
		BaseURL:    opts.baseURL,
		Store:      store,
		Logger:     logger,
		CookieMode: opts.cookieMode,
		RateLimit:  opts.rateLimit,
		Timeout:    15 * time.Second,
		OnSessionExpired: func() {
			fmt.Fprintln(os.Stderr, "Session expired; run `authkit login`.")
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	cleanup := func() {
		stop()
		if err := m.Close(); err != nil {
			logger.Warn("closing session manager", "error", err)
		}
	}
	return ctx, m, cleanup, nil
}

func openStore(opts *rootOptions, logger *slog.Logger) (keystore.Store, error) {
	switch opts.driver {
	case "memory":
		return keystore.Memory(), nil

	case "sqlite":
		db, err := sqlitestore.Open(opts.storePath+".db", sqlitestore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return db, nil

	case "file":
		fileOpts := []keystore.FileOption{keystore.WithFileLogger(logger)}
		if pass := os.Getenv("AUTHKIT_PASSPHRASE"); pass != "" {
			fileOpts = append(fileOpts, keystore.WithPassphrase(pass))
		} else {
			logger.Warn("AUTHKIT_PASSPHRASE not set, session file is unencrypted")
		}
		fs, err := keystore.File(opts.storePath, fileOpts...)
		if err != nil {
			return nil, err
		}
		return fs, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.driver)
	}
}

func defaultStorePath() string {
	if p := os.Getenv("AUTHKIT_STORE_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "authkit-session.json"
	}
	return filepath.Join(home, ".authkit", "session.json")
}

func promptPassword() (string, error) {
	if pass := os.Getenv("AUTHKIT_PASSWORD"); pass != "" {
		return pass, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
