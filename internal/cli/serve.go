// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/i18n"
	"github.com/dreilach/certmaster/internal/server"
	"github.com/dreilach/certmaster/internal/state"
)

var serveListen string
var serveLocked bool

// serveCmd runs the HTTP signing API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP signing API",
	Long: `Starts the HTTP API that CI systems and credential helpers use to
request certificates. The CA passphrase is asked once at startup and
held only in memory; without it the signing endpoints answer 503.

Authentication uses the bearer token from server.api_token in the
config file (or the CERTMASTER_SERVER_API_TOKEN environment variable).`,
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		listen := serveListen
		if listen == "" {
			listen = appConfig.Server.Listen
		}
		if appConfig.Server.APIToken == "" {
			log.Warn("server.api_token is empty; all API requests will be rejected")
		}

		if serveLocked {
			state.PassphraseCache.Clear()
		} else if caPassphrase != "" {
			state.PassphraseCache.Set([]byte(caPassphrase))
		} else if term.IsTerminal(int(os.Stdin.Fd())) {
			pass := mustReadPassphrase(i18n.T("passphrase.prompt"))
			state.PassphraseCache.Set(pass)
			zeroBytes(pass)
		} else {
			log.Warn("no passphrase available; signing endpoints will answer 503 until restarted with one")
		}
		defer state.PassphraseCache.Clear()

		srv := server.New(db.GetStore(), appConfig.Server.APIToken, state.PassphraseCache.Get)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s: %s\n", i18n.T("serve.listening"), listen)
		if err := srv.ListenAndServe(ctx, listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen from config)")
	serveCmd.Flags().StringVarP(&caPassphrase, "passphrase", "p", "", "CA passphrase (prompted when omitted)")
	serveCmd.Flags().BoolVar(&serveLocked, "locked", false, "Start without a passphrase; signing stays disabled")
}
