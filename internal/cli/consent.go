package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/consent"
)

var (
	consentUser    string
	consentProfile string
	consentDays    int
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Grant, revoke and inspect consent",
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant <purpose>",
	Short: "Grant consent for a purpose",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		purpose, err := consent.ParsePurpose(args[0])
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		rec, err := rt.consents.Grant(cmd.Context(), consentUser, consentProfile, purpose, consentDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Granted %s until %s\n", check(true), rec.Purpose, rec.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <purpose>",
	Short: "Revoke consent for a purpose",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		purpose, err := consent.ParsePurpose(args[0])
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		at, err := rt.consents.Revoke(cmd.Context(), consentUser, consentProfile, purpose)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Revoked %s at %s\n", check(true), purpose, at.Format(time.RFC3339))
		return nil
	},
}

var consentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consent status for every purpose",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		results, err := rt.consents.List(cmd.Context(), consentUser, consentProfile)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PURPOSE\tSTATUS\tEXPIRES")
		for _, r := range results {
			expires := "-"
			if r.ExpiresAt != nil {
				expires = r.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Purpose, r.Status, expires)
		}
		return tw.Flush()
	},
}

var consentVerifyCmd = &cobra.Command{
	Use:   "verify <purpose>",
	Short: "Check whether a purpose is currently granted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		purpose, err := consent.ParsePurpose(args[0])
		if err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		res := rt.consents.Check(cmd.Context(), consentUser, consentProfile, purpose)
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s: %s\n", check(res.Granted), purpose, res.Status)
		if res.Message != "" {
			fmt.Fprintln(w, res.Message)
		}
		return nil
	},
}

func init() {
	consentCmd.PersistentFlags().StringVar(&consentUser, "user", "cli-user", "User ID")
	consentCmd.PersistentFlags().StringVar(&consentProfile, "profile", "cli-profile", "Profile ID")
	consentGrantCmd.Flags().IntVar(&consentDays, "days", consent.DefaultDurationDays, "Validity in days")

	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
	consentCmd.AddCommand(consentListCmd)
	consentCmd.AddCommand(consentVerifyCmd)
}
