// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/i18n"
	"github.com/dreilach/certmaster/internal/model"
	"github.com/dreilach/certmaster/internal/security"
	"github.com/dreilach/certmaster/internal/sshca"
)

var caOrgSlug string
var caPassphrase string // optional flag for non-interactive use
var caShowSerial int

// caCmd groups certificate-authority lifecycle management.
var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Manage an organization's certificate authority",
	Long: `Generates, rotates and shows the Ed25519 certificate authority of an
organization. Private keys are sealed with a passphrase before they
touch the database; the passphrase is required again for signing.`,
}

var caGenerateCmd = &cobra.Command{
	Use:     "generate",
	Short:   "Generate the initial certificate authority",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		has, err := store.HasCAKeys(org.ID)
		if err != nil {
			log.Fatalf("failed to inspect CA keys: %v", err)
		}
		if has {
			log.Fatalf("org %s already has a CA. Use 'certmaster ca rotate' to replace it.", org.Slug)
		}

		serial := createCAGeneration(store, org)
		fmt.Printf("%s (serial %d)\n", i18n.T("ca.generated"), serial)
		printTrustHint(store, org)
	},
}

var caRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the certificate authority",
	Long: `Generates a fresh CA key pair and makes it the active generation.
The previous generation stays in the database for attribution, but new
certificates are signed with the new key. Servers must receive the new
public key before old certificates expire.`,
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		has, err := store.HasCAKeys(org.ID)
		if err != nil {
			log.Fatalf("failed to inspect CA keys: %v", err)
		}
		if !has {
			log.Fatalf("%s", i18n.T("ca.none"))
		}

		serial := createCAGeneration(store, org)
		fmt.Printf("%s (serial %d)\n", i18n.T("ca.rotated"), serial)
		printTrustHint(store, org)
	},
}

var caShowCmd = &cobra.Command{
	Use:     "show",
	Short:   "Show the CA public key",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		var key *model.CAKey
		var err error
		if caShowSerial > 0 {
			key, err = store.GetCAKeyBySerial(org.ID, caShowSerial)
		} else {
			key, err = store.GetActiveCAKey(org.ID)
		}
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				log.Fatalf("%s", i18n.T("ca.none"))
			}
			log.Fatalf("failed to load CA key: %v", err)
		}

		fmt.Println(key.PublicKeyLine)
	},
}

func init() {
	caCmd.PersistentFlags().StringVarP(&caOrgSlug, "org", "o", "", "Organization slug (required)")
	caCmd.PersistentFlags().StringVarP(&caPassphrase, "passphrase", "p", "", "CA passphrase (prompted when omitted)")
	caShowCmd.Flags().IntVar(&caShowSerial, "serial", 0, "Show a specific CA generation instead of the active one")
	caCmd.AddCommand(caGenerateCmd, caRotateCmd, caShowCmd)
}

// createCAGeneration generates a key pair, seals the private key and
// stores it as the new active generation. Shared by generate and rotate.
func createCAGeneration(store db.Store, org *model.Org) int {
	pass := mustNewPassphrase()
	secret := security.FromBytes(pass)
	defer secret.Zero()
	zeroBytes(pass)

	ca, err := sshca.GenerateCA(fmt.Sprintf("%s-ca", org.Slug))
	if err != nil {
		log.Fatalf("failed to generate CA key pair: %v", err)
	}

	sealed, err := security.Seal(secret, []byte(ca.PrivateKeyPEM))
	if err != nil {
		log.Fatalf("failed to seal CA private key: %v", err)
	}

	serial, err := store.CreateCAKey(org.ID, ca.PublicKeyLine, sealed)
	if err != nil {
		log.Fatalf("failed to store CA key: %v", err)
	}
	_ = store.LogAction("ca.generate", fmt.Sprintf("org=%s serial=%d", org.Slug, serial))
	return serial
}

func printTrustHint(store db.Store, org *model.Org) {
	key, err := store.GetActiveCAKey(org.ID)
	if err != nil {
		return
	}
	fmt.Println(i18n.T("ca.trust_hint"))
	fmt.Println(key.PublicKeyLine)
}

// mustResolveOrg looks up the --org flag value, exiting on misuse.
func mustResolveOrg(store db.Store, slug string) *model.Org {
	if slug == "" {
		log.Fatalf("--org is required")
	}
	org, err := store.GetOrgBySlug(slug)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Fatalf("%s: %s", i18n.T("org.unknown"), slug)
		}
		log.Fatalf("failed to look up organization: %v", err)
	}
	return org
}

// mustNewPassphrase collects a passphrase for a new CA key, asking for
// confirmation when interactive.
func mustNewPassphrase() []byte {
	if caPassphrase != "" {
		return []byte(caPassphrase)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Fatalf("no terminal for passphrase prompt; use --passphrase")
	}

	first := mustReadPassphrase(i18n.T("passphrase.prompt"))
	second := mustReadPassphrase("Repeat passphrase: ")
	if string(first) != string(second) {
		log.Fatalf("%s", i18n.T("passphrase.mismatch"))
	}
	zeroBytes(second)
	return first
}

// mustReadPassphrase reads a passphrase without echo.
func mustReadPassphrase(prompt string) []byte {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		log.Fatalf("failed to read passphrase: %v", err)
	}
	return pass
}

// mustUnsealCA returns the signing key for an org's CA generation,
// prompting for the passphrase if it was not given as a flag.
func mustUnsealCA(store db.Store, org *model.Org, key *model.CAKey) ed25519.PrivateKey {
	var pass []byte
	if caPassphrase != "" {
		pass = []byte(caPassphrase)
	} else if term.IsTerminal(int(os.Stdin.Fd())) {
		pass = mustReadPassphrase(i18n.T("passphrase.prompt"))
	} else {
		log.Fatalf("no terminal for passphrase prompt; use --passphrase")
	}

	secret := security.FromBytes(pass)
	defer secret.Zero()
	zeroBytes(pass)

	pemData, err := security.Open(secret, key.PrivateKeyEnc)
	if err != nil {
		if errors.Is(err, security.ErrWrongPassphrase) {
			log.Fatalf("wrong passphrase for CA of org %s", org.Slug)
		}
		log.Fatalf("failed to unseal CA key: %v", err)
	}

	signer, err := sshca.ParseCAPrivateKey(string(pemData))
	if err != nil {
		log.Fatalf("failed to parse CA private key: %v", err)
	}
	return signer
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
