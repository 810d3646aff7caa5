package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/dispatch"
)

// clientRow is the JSON shape of one configured client.
type clientRow struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Default  bool   `json:"default"`
}

var clientsListCmd = &cobra.Command{
	Use:   "clients:list",
	Short: "List configured clients",
	Long: `List every configured client as JSON, with the default marked.

Examples:
  relay clients:list
  relay clients:list | jq '.[] | select(.default)'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		rows, err := clientRows(rt.app.Clients())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	rootCmd.AddCommand(clientsListCmd)
}

func clientRows(set *dispatch.ClientSet) ([]clientRow, error) {
	def, err := set.Default()
	if err != nil {
		return nil, err
	}

	rows := make([]clientRow, 0, set.Len())
	for _, name := range set.Names() {
		client, err := set.Get(name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, clientRow{
			Name:     client.Name(),
			Provider: client.Provider(),
			Model:    client.Model(),
			Default:  client == def,
		})
	}
	return rows, nil
}
