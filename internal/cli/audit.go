package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/audit"
	"github.com/ayureze/astra/internal/store"
)

var (
	auditUser    string
	auditProfile string
	auditReason  string
	auditLimit   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditShowCmd = &cobra.Command{
	Use:   "show <correlation-id>",
	Short: "Print the audit log of one request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Paths.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		l, err := st.GetAuditLog(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no audit log for correlation id %s", args[0])
		}
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(l, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Paths.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		logs, err := st.ListAuditLogs(cmd.Context(), store.AuditFilter{
			UserID:        auditUser,
			ProfileID:     auditProfile,
			BlockedReason: auditReason,
			Limit:         auditLimit,
		})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tCORRELATION\tUSER\tCAPABILITY\tBLOCKED\tSTEPS")
		for _, l := range logs {
			blocked := l.BlockedReason
			if blocked == "" {
				blocked = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
				l.StartedAt.Format(time.RFC3339), l.CorrelationID, l.UserID, l.Capability, blocked, len(l.Steps))
		}
		return tw.Flush()
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [chain-file]",
	Short: "Verify the hash chain of the audit mirror file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = cfg.Audit.ChainFile
		}
		if path == "" {
			return errors.New("no chain file configured (audit.chainFile)")
		}
		n, err := audit.VerifyChain(path)
		if err != nil {
			return fmt.Errorf("chain broken after %d entries: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d entries verified\n", check(true), n)
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user ID")
	auditListCmd.Flags().StringVar(&auditProfile, "profile", "", "Filter by profile ID")
	auditListCmd.Flags().StringVar(&auditReason, "reason", "", "Filter by blocked reason")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum entries")

	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}
