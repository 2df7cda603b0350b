// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dreilach/certmaster/internal/db"
	"github.com/dreilach/certmaster/internal/i18n"
)

// orgsCmd groups organization management.
var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Manage organizations",
	Long:  `Each organization owns exactly one active certificate authority and its own set of managed hosts.`,
}

var orgsAddCmd = &cobra.Command{
	Use:   "add <slug> [name]",
	Short: "Add a new organization",
	Long: `Registers a new organization. The slug is the identifier used in
flags, URLs and audit entries; the optional name is free text for display.`,
	Args:    cobra.RangeArgs(1, 2),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		slug := args[0]
		name := slug
		if len(args) > 1 {
			name = args[1]
		}

		store := db.GetStore()
		if _, err := store.AddOrg(slug, name); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				log.Fatalf("%s: %s", i18n.T("org.exists"), slug)
			}
			log.Fatalf("failed to add organization: %v", err)
		}
		_ = store.LogAction("org.add", "slug="+slug)
		fmt.Printf("%s: %s\n", i18n.T("org.added"), slug)
	},
}

var orgsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List organizations",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		store := db.GetStore()
		orgs, err := store.GetAllOrgs()
		if err != nil {
			log.Fatalf("failed to list organizations: %v", err)
		}
		if len(orgs) == 0 {
			fmt.Println("No organizations yet. Run 'certmaster orgs add <slug>' to create one.")
			return
		}
		for _, org := range orgs {
			has, err := store.HasCAKeys(org.ID)
			if err != nil {
				log.Fatalf("failed to inspect CA keys: %v", err)
			}
			caState := "no CA"
			if has {
				if key, err := store.GetActiveCAKey(org.ID); err == nil {
					caState = fmt.Sprintf("CA serial %d", key.Serial)
				}
			}
			fmt.Printf("%-20s %-30s %s\n", org.Slug, org.Name, caState)
		}
	},
}

func init() {
	orgsCmd.AddCommand(orgsAddCmd, orgsListCmd)
}
