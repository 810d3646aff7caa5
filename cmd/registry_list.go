package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/registry"
)

var regDomain string

// registryRow is the JSON shape of one registered component.
type registryRow struct {
	Identity  string `json:"identity"`
	Domain    string `json:"domain"`
	Namespace string `json:"namespace"`
	Group     string `json:"group"`
	Name      string `json:"name"`
	Type      string `json:"type"`
}

var registryListCmd = &cobra.Command{
	Use:   "registry:list",
	Short: "List registered components",
	Long: `List every registered component as JSON, sorted by identity label.

Use --domain to restrict the listing to a single domain.

Examples:
  # List everything
  relay registry:list

  # Only prompt sections
  relay registry:list --domain prompt_section

  # Parse specific fields with jq
  relay registry:list | jq '.[].identity'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		rows, err := registryRows(rt.app.Store(), regDomain)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	registryListCmd.Flags().StringVarP(&regDomain, "domain", "d", "", "Filter by domain (e.g. prompt_section)")
	rootCmd.AddCommand(registryListCmd)
}

func registryRows(store *registry.Store, domain string) ([]registryRow, error) {
	domains := store.Domains()
	if domain != "" {
		domains = []string{domain}
	}

	rows := make([]registryRow, 0)
	for _, d := range domains {
		reg, err := store.Domain(d)
		if err != nil {
			return nil, err
		}
		for _, entry := range reg.Snapshot() {
			rows = append(rows, registryRow{
				Identity:  entry.Identity.String(),
				Domain:    entry.Identity.Domain(),
				Namespace: entry.Identity.Namespace(),
				Group:     entry.Identity.Group(),
				Name:      entry.Identity.Name(),
				Type:      fmt.Sprintf("%T", entry.Component),
			})
		}
	}
	return rows, nil
}
