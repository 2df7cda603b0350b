// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// root.go sets up the command-line interface for Certmaster using the
// Cobra library. It defines the root command, persistent flags, the
// shared service bootstrap (config, i18n, database) and the version
// plumbing.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreilach/certmaster/internal/config"
	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/i18n"
	"github.com/dreilach/certmaster/internal/logging"
)

var version = "dev"   // set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

var cfgFile string
var verbose bool
var showVersionFlag bool

var appConfig config.Config

// setupDefaultServices loads the configuration, initializes i18n and
// opens the database. Every data-touching subcommand runs this as its
// PreRunE.
func setupDefaultServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	defaults := config.Defaults()
	appConfig, err = config.LoadConfig(cmd, defaults, optionalConfigPath)
	// A missing config file is expected on first run; write a default
	// one and continue on defaults.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			log.Warnf("Warning: could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Backstop critical values against empty strings in a hand-edited
	// config file.
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = defaults["database.type"].(string)
	}
	if appConfig.Database.Dsn == "" {
		appConfig.Database.Dsn = defaults["database.dsn"].(string)
	}
	if appConfig.Language == "" {
		appConfig.Language = defaults["language"].(string)
	}
	if appConfig.Trust.Path == "" {
		appConfig.Trust.Path = defaults["trust.path"].(string)
	}

	if verbose || appConfig.Debug {
		logging.SetDebug(true)
		db.SetDebug(true)
	}

	i18n.Init(appConfig.Language)

	if !db.IsInitialized() {
		if err := db.InitDB(appConfig.Database.Type, appConfig.Database.Dsn); err != nil {
			return fmt.Errorf("%s: %w", i18n.T("db.error_init"), err)
		}
	}

	return nil
}

// Execute runs the CLI entrypoint. The main package calls this and
// handles process exit.
func Execute() error {
	return NewRootCmd().Execute()
}

func applyDefaultFlags(cmd *cobra.Command) {
	// NewRootCmd may run multiple times in tests while subcommands are
	// package-level; pflag panics on duplicate definitions, so check
	// first.
	if cmd.Flags().Lookup("database.type") == nil {
		cmd.Flags().String("database.type", "sqlite", "Database type (e.g., sqlite, postgres, mysql)")
	}
	if cmd.Flags().Lookup("database.dsn") == nil {
		cmd.Flags().String("database.dsn", "./certmaster.db", "Database connection string (DSN)")
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only honor --config when the user explicitly set it.
	if cmd.Flags().Changed("config") {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return nil, fmt.Errorf("could not read --config flag: %w", err)
		}
		if path == "" {
			return nil, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		return &path, nil
	}
	return nil, nil
}

// NewRootCmd creates and configures a new root cobra command. Used for
// the real binary and for fresh instances in isolated tests.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certmaster",
		Short: "Certmaster is an SSH certificate authority for teams.",
		Long: `Certmaster replaces sprawling authorized_keys management with
short-lived SSH certificates. Each organization gets its own Ed25519
certificate authority; servers trust the CA once via TrustedUserCAKeys
and users present certificates instead of raw keys. A database is the
source of truth for CAs, issued certificates and managed hosts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				fmt.Println(compositeVersion())
				os.Exit(0)
			}
			return nil
		},
	}

	cmd.Version = compositeVersion()

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (debug logs, DB tracing)")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)
	applyDefaultFlags(cmd)

	applyDefaultFlags(orgsCmd)
	applyDefaultFlags(caCmd)
	applyDefaultFlags(signCmd)
	applyDefaultFlags(serveCmd)
	applyDefaultFlags(trustHostCmd)
	applyDefaultFlags(deployTrustCmd)
	applyDefaultFlags(auditCmd)
	applyDefaultFlags(backupCmd)
	applyDefaultFlags(restoreCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			fmt.Printf("version: %s\n", v)
			fmt.Printf("commit: %s\n", c)
			if d != "" {
				fmt.Printf("built: %s\n", d)
			}
		},
	}

	cmd.AddCommand(
		orgsCmd,
		caCmd,
		signCmd,
		serveCmd,
		trustHostCmd,
		deployTrustCmd,
		auditCmd,
		backupCmd,
		restoreCmd,
		versionCmd,
	)

	return cmd
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	out := v
	if c != "" && c != "dev" {
		out = out + " (" + c + ")"
	}
	if d != "" {
		out = out + " built: " + d
	}
	return out
}

// resolveBuildVersion computes the best-available version, commit and
// build date for the running binary. If info is nil, it reads build info
// from the runtime; separated out for unit testing.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

// promptForConfirmation reads a yes/no answer from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.ToLower(strings.TrimSpace(answer))
}
