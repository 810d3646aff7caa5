package cmd

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/audit"
)

var (
	auditLimit    int
	auditIdentity string
)

// auditRow is the JSON shape of one audited call.
type auditRow struct {
	CorrelationID string    `json:"correlation_id"`
	Identity      string    `json:"identity"`
	Kind          string    `json:"kind"`
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	OutputChars   int       `json:"output_chars"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

var auditRecentCmd = &cobra.Command{
	Use:   "audit:recent",
	Short: "Show recent audited calls",
	Long: `Show the most recent audited call outcomes as JSON, newest first.

Requires audit.enabled in the config. Use --identity to restrict the
listing to one service identity.

Examples:
  relay audit:recent
  relay audit:recent --limit 50
  relay audit:recent --identity default.default.service.call`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Audit.Enabled {
			return errors.New("audit is disabled: set audit.enabled in the config")
		}

		store, err := audit.Open(cfg.Audit.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var entries []audit.Entry
		if auditIdentity != "" {
			entries, err = store.ByIdentity(auditIdentity, auditLimit)
		} else {
			entries, err = store.Recent(auditLimit)
		}
		if err != nil {
			return err
		}

		rows := make([]auditRow, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, auditRow{
				CorrelationID: e.CorrelationID,
				Identity:      e.Identity,
				Kind:          e.Kind,
				Provider:      e.Provider,
				Model:         e.Model,
				OutputChars:   e.OutputChars,
				InputTokens:   e.InputTokens,
				OutputTokens:  e.OutputTokens,
				Attempts:      e.Attempts,
				Error:         e.Error,
				CreatedAt:     e.CreatedAt,
			})
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	auditRecentCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum entries to show")
	auditRecentCmd.Flags().StringVar(&auditIdentity, "identity", "", "filter by service identity label")
	rootCmd.AddCommand(auditRecentCmd)
}
