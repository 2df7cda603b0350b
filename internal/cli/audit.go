// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dreilach/certmaster/internal/db"
)

// auditCmd shows the control-plane audit trail.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log",
	Long: `Prints the control-plane audit log: organization changes, CA
generations, signed certificates and trust deployments, newest first.`,
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		entries, err := store.GetAllAuditLogEntries()
		if err != nil {
			log.Fatalf("failed to read audit log: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Audit log is empty.")
			return
		}
		for _, e := range entries {
			fmt.Printf("%-25s %-15s %s\n", e.Timestamp, e.Action, e.Details)
		}
	},
}

// auditCertsCmd lists the certificates an organization has issued.
var auditCertsCmd = &cobra.Command{
	Use:     "certs",
	Short:   "List issued certificates for an organization",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		org := mustResolveOrg(store, caOrgSlug)

		certs, err := store.GetIssuedCerts(org.ID)
		if err != nil {
			log.Fatalf("failed to list issued certificates: %v", err)
		}
		if len(certs) == 0 {
			fmt.Println("No certificates issued yet.")
			return
		}
		for _, c := range certs {
			fmt.Printf("%-30s ca#%-3d %-30s %s -> %s\n",
				c.KeyID, c.CASerial, c.PrincipalList(),
				c.ValidAfter.Format(time.RFC3339), c.ValidBefore.Format(time.RFC3339))
		}
	},
}

func init() {
	auditCertsCmd.Flags().StringVarP(&caOrgSlug, "org", "o", "", "Organization slug (required)")
	auditCmd.AddCommand(auditCertsCmd)
}
