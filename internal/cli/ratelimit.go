package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/ratelimit"
)

var (
	ratelimitUser    string
	ratelimitProfile string
	ratelimitJSON    bool
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and reset rate limits and GPU quota",
}

type ratelimitReport struct {
	UserID    string                   `json:"user_id"`
	ProfileID string                   `json:"profile_id"`
	Global    map[string]string        `json:"global_limits,omitempty"`
	Quota     *ratelimit.QuotaStatus   `json:"quota,omitempty"`
	Stats     *ratelimit.GlobalStats   `json:"stats,omitempty"`
	Windows   []ratelimit.WindowStatus `json:"windows,omitempty"`
}

var ratelimitStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured windows and today's GPU quota for a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		rep := ratelimitReport{UserID: ratelimitUser, ProfileID: ratelimitProfile}
		if rt.limiter != nil {
			rep.Global = make(map[string]string)
			for scope, rl := range rt.limiter.GlobalLimits() {
				rep.Global[scope] = fmt.Sprintf("%d per %s", rl.Limit, rl.Window)
			}
			rep.Windows = rt.limiter.Status(ratelimitUser, ratelimitProfile)
		}
		if rt.quota != nil {
			st := rt.quota.Status(cmd.Context(), ratelimitUser, ratelimitProfile)
			gs := rt.quota.GlobalStats()
			rep.Quota, rep.Stats = &st, &gs
		}

		w := cmd.OutOrStdout()
		if ratelimitJSON {
			out, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(w, string(out))
			return nil
		}
		printHeader(w, "⏱️ Rate Limits")
		fmt.Fprintf(w, "Rate limiting: %s\n", check(rt.limiter != nil))
		scopes := make([]string, 0, len(rep.Global))
		for scope := range rep.Global {
			scopes = append(scopes, scope)
		}
		sort.Strings(scopes)
		for _, scope := range scopes {
			fmt.Fprintf(w, "  %-14s %s\n", scope, rep.Global[scope])
		}
		fmt.Fprintf(w, "GPU quota:     %s\n", check(rt.quota != nil))
		if rep.Quota != nil {
			fmt.Fprintf(w, "  %s/%s: %d/%d used, %d remaining (resets %s)\n",
				ratelimitUser, ratelimitProfile, rep.Quota.Used, rep.Quota.Limit, rep.Quota.Remaining,
				rep.Quota.ResetsAt.Format("2006-01-02 15:04 MST"))
		}
		return nil
	},
}

var ratelimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset rate-limit windows and today's GPU quota for a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if rt.limiter != nil {
			rt.limiter.Reset(ratelimitUser, ratelimitProfile)
		}
		if rt.quota != nil {
			rt.quota.Reset(cmd.Context(), ratelimitUser, ratelimitProfile)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Limits reset for %s/%s\n", check(true), ratelimitUser, ratelimitProfile)
		return nil
	},
}

func init() {
	ratelimitCmd.PersistentFlags().StringVar(&ratelimitUser, "user", "cli-user", "User ID")
	ratelimitCmd.PersistentFlags().StringVar(&ratelimitProfile, "profile", "cli-profile", "Profile ID")
	ratelimitStatusCmd.Flags().BoolVar(&ratelimitJSON, "json", false, "Print the report as JSON")

	ratelimitCmd.AddCommand(ratelimitStatusCmd)
	ratelimitCmd.AddCommand(ratelimitResetCmd)
}
