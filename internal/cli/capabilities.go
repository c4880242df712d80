package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/gateway"
	"github.com/ayureze/astra/internal/policy"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List the capability catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		printHeader(w, "🧭 Capabilities")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tCLASS\tPRIORITY\tAI\tCONSENT\tRATE LIMIT\tFORBIDDEN\tREGULATIONS")
		for _, c := range gateway.CapabilityInfos(cat, policy.NewDefaultEngine()) {
			regs := make([]string, 0, len(c.Regulations))
			for _, r := range c.Regulations {
				regs = append(regs, r.Rule)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%t\t%s\t%t\t%s\n",
				c.Name, c.IntentClass, c.Priority, c.RequiresAI, c.RequiresConsent, c.RateLimit, c.Forbidden, strings.Join(regs, ","))
		}
		return tw.Flush()
	},
}
