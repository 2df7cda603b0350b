// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/i18n"
	"github.com/dreilach/certmaster/internal/model"
	"github.com/dreilach/certmaster/internal/sshca"
)

var signKeyID string
var signPrincipals []string
var signTTL time.Duration
var signHostCert bool
var signExtensions []string
var signCriticalOptions []string

// signCmd signs a user's public key into an SSH certificate.
var signCmd = &cobra.Command{
	Use:   "sign <public-key-file>",
	Short: "Sign a public key into an SSH certificate",
	Long: `Reads an OpenSSH public key (file path or '-' for stdin), signs it
with the organization's active CA and prints the certificate line.
Save the output next to the private key as <name>-cert.pub and ssh
will present it automatically.

Examples:
  certmaster sign --org acme --key-id alice@laptop --principal alice ~/.ssh/id_ed25519.pub
  cat id_ed25519.pub | certmaster sign --org acme --key-id ci --principal deploy --ttl 1h -`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		keyLine, err := readKeyArg(args[0])
		if err != nil {
			log.Fatalf("failed to read public key: %v", err)
		}

		if signKeyID == "" {
			log.Fatalf("--key-id is required")
		}
		if len(signPrincipals) == 0 {
			log.Fatalf("at least one --principal is required")
		}

		caKey, err := store.GetActiveCAKey(org.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				log.Fatalf("%s", i18n.T("ca.none"))
			}
			log.Fatalf("failed to load CA key: %v", err)
		}

		opts := sshca.CertOptions{
			KeyID:           signKeyID,
			ValidPrincipals: signPrincipals,
		}
		if signHostCert {
			opts.CertType = sshca.HostCert
			// Host certificates carry no extensions.
			opts.Extensions = []string{}
		}
		if len(signExtensions) > 0 {
			opts.Extensions = signExtensions
		}
		if signTTL > 0 {
			now := time.Now()
			opts.ValidAfter = uint64(now.Add(-time.Minute).Unix())
			opts.ValidBefore = uint64(now.Add(signTTL).Unix())
		}
		for _, kv := range signCriticalOptions {
			name, value, _ := strings.Cut(kv, "=")
			opts.CriticalOptions = append(opts.CriticalOptions, sshca.CriticalOption{Name: name, Value: value})
		}
		sort.Slice(opts.CriticalOptions, func(i, j int) bool {
			return opts.CriticalOptions[i].Name < opts.CriticalOptions[j].Name
		})

		signer := mustUnsealCA(store, org, caKey)
		cert, err := sshca.SignPublicKey(signer, keyLine, opts)
		if err != nil {
			log.Fatalf("signing failed: %v", err)
		}

		record := model.IssuedCert{
			OrgID:       org.ID,
			CASerial:    caKey.Serial,
			KeyID:       cert.KeyID,
			Principals:  cert.ValidPrincipals,
			CertSerial:  cert.Serial,
			ValidAfter:  time.Unix(int64(cert.ValidAfter), 0).UTC(),
			ValidBefore: time.Unix(int64(cert.ValidBefore), 0).UTC(),
		}
		if err := store.RecordIssuedCert(record); err != nil {
			log.Fatalf("failed to record issued certificate: %v", err)
		}
		_ = store.LogAction("cert.sign", fmt.Sprintf("org=%s key_id=%s principals=%s", org.Slug, cert.KeyID, record.PrincipalList()))

		fmt.Fprintf(os.Stderr, "%s: %s (serial %d, valid until %s)\n",
			i18n.T("cert.signed"), cert.KeyID, cert.Serial,
			record.ValidBefore.Format(time.RFC3339))
		fmt.Println(cert.Line)
	},
}

func init() {
	signCmd.Flags().StringVarP(&caOrgSlug, "org", "o", "", "Organization slug (required)")
	signCmd.Flags().StringVarP(&caPassphrase, "passphrase", "p", "", "CA passphrase (prompted when omitted)")
	signCmd.Flags().StringVar(&signKeyID, "key-id", "", "Certificate key ID, typically user@resource (required)")
	signCmd.Flags().StringSliceVar(&signPrincipals, "principal", nil, "Principal the certificate authorizes (repeatable, required)")
	signCmd.Flags().DurationVar(&signTTL, "ttl", 0, "Certificate lifetime (default: 365 days)")
	signCmd.Flags().BoolVar(&signHostCert, "host", false, "Issue a host certificate instead of a user certificate")
	signCmd.Flags().StringSliceVar(&signExtensions, "extension", nil, "Extension to grant (repeatable; default: the five permit-* capabilities)")
	signCmd.Flags().StringSliceVar(&signCriticalOptions, "critical-option", nil, `Critical option as name=value (repeatable, e.g. source-address=10.0.0.0/8)`)
}

// readKeyArg loads the subject public key from a file or stdin.
func readKeyArg(arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
