// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/deploy"
	"github.com/dreilach/certmaster/internal/i18n"
	"github.com/dreilach/certmaster/internal/model"
)

var deployIdentityFile string

// trustHostCmd pins a host's public key so later deploys can verify it.
var trustHostCmd = &cobra.Command{
	Use:   "trust-host <user@host>",
	Short: "Pin a host's SSH key and register it for CA deployment",
	Long: `Connects to a host for the first time, retrieves its public key,
shows the fingerprint and, after confirmation, pins it in the database.
Pinning is required before 'certmaster deploy-trust' will touch the host.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		deployUser, hostname := splitTarget(args[0])

		fmt.Printf("Attempting to retrieve host key from %s…\n", hostname)
		pubKey, err := deploy.GetRemoteHostKey(hostname)
		if err != nil {
			log.Fatalf("failed to retrieve host key: %v", err)
		}
		keyLine := string(ssh.MarshalAuthorizedKey(pubKey))

		fmt.Printf("The authenticity of host '%s' can't be established.\n", hostname)
		fmt.Printf("Key fingerprint: %s\n", ssh.FingerprintSHA256(pubKey))

		ans := promptForConfirmation("Are you sure you want to continue connecting (yes/no)? ")
		if ans != "yes" && ans != "y" {
			fmt.Println("Cancelled.")
			return
		}

		if _, err := store.GetHost(org.ID, hostname); errors.Is(err, db.ErrNotFound) {
			if _, err := store.AddHost(org.ID, hostname, deployUser); err != nil {
				log.Fatalf("failed to register host: %v", err)
			}
		} else if err != nil {
			log.Fatalf("failed to look up host: %v", err)
		}

		if err := store.SetHostKey(org.ID, hostname, keyLine); err != nil {
			log.Fatalf("failed to pin host key: %v", err)
		}
		_ = store.LogAction("host.trust", fmt.Sprintf("org=%s host=%s", org.Slug, hostname))
		fmt.Printf("%s: %s\n", i18n.T("deploy.host_pinned"), hostname)
	},
}

// deployTrustCmd pushes the active CA public key to managed hosts.
var deployTrustCmd = &cobra.Command{
	Use:   "deploy-trust [user@host]",
	Short: "Deploy the CA public key to one or all managed hosts",
	Long: `Uploads the organization's active CA public key to the
TrustedUserCAKeys path configured under trust.path (default
/etc/ssh/certmaster_user_ca.pub). With a target argument only that host
is updated; without one every pinned host of the organization is.

Authentication uses --identity or a running SSH agent. Point sshd at
the file once:

  TrustedUserCAKeys /etc/ssh/certmaster_user_ca.pub`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		caKey, err := store.GetActiveCAKey(org.ID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				log.Fatalf("%s", i18n.T("ca.none"))
			}
			log.Fatalf("failed to load CA key: %v", err)
		}

		var targets []model.Host
		if len(args) > 0 {
			user, hostname := splitTarget(args[0])
			host, err := store.GetHost(org.ID, hostname)
			if err != nil {
				log.Fatalf("host %s is not registered; run 'certmaster trust-host' first", hostname)
			}
			if user != "" {
				host.DeployUser = user
			}
			targets = []model.Host{*host}
		} else {
			targets, err = store.GetHostsForOrg(org.ID)
			if err != nil {
				log.Fatalf("failed to list hosts: %v", err)
			}
			if len(targets) == 0 {
				fmt.Println("No hosts registered for this organization yet.")
				return
			}
		}

		identity := ""
		if deployIdentityFile != "" {
			data, err := os.ReadFile(deployIdentityFile)
			if err != nil {
				log.Fatalf("failed to read identity file: %v", err)
			}
			identity = string(data)
		}

		lookup := func(hostname string) (string, error) {
			host, err := store.GetHost(org.ID, hostname)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return "", nil
				}
				return "", err
			}
			return host.HostKey, nil
		}

		content := caKey.PublicKeyLine + "\n"
		failures := 0
		for _, host := range targets {
			if host.HostKey == "" {
				log.Warnf("skipping %s: host key not pinned, run 'certmaster trust-host'", host.String())
				failures++
				continue
			}
			if err := deployToHost(host, identity, lookup, content); err != nil {
				log.Errorf("deploy to %s failed: %v", host.String(), err)
				failures++
				continue
			}
			_ = store.LogAction("trust.deploy", fmt.Sprintf("org=%s host=%s ca_serial=%d", org.Slug, host.Hostname, caKey.Serial))
			fmt.Printf("%s: %s\n", i18n.T("deploy.trusted"), host.String())
		}
		if failures > 0 {
			log.Fatalf("%d of %d deployments failed", failures, len(targets))
		}
	},
}

func init() {
	trustHostCmd.Flags().StringVarP(&caOrgSlug, "org", "o", "", "Organization slug (required)")
	deployTrustCmd.Flags().StringVarP(&caOrgSlug, "org", "o", "", "Organization slug (required)")
	deployTrustCmd.Flags().StringVarP(&deployIdentityFile, "identity", "i", "", "Private key file for SSH authentication (default: SSH agent)")
}

func deployToHost(host model.Host, identity string, lookup deploy.HostKeyLookup, content string) error {
	d, err := deploy.NewDeployer(host.Hostname, host.DeployUser, identity, lookup)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.DeployTrustedCA(appConfig.Trust.Path, content)
}

// splitTarget splits "user@host" into its parts; a bare host defaults
// the user to root.
func splitTarget(target string) (user, host string) {
	if strings.Contains(target, "@") {
		parts := strings.SplitN(target, "@", 2)
		return parts[0], parts[1]
	}
	return "root", target
}
