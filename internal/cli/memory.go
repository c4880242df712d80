package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/memory"
)

var (
	memoryProfile   string
	memoryType      string
	memoryTTLDays   int
	memoryTopK      int
	memoryThreshold float64
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store, retrieve and clear profile memory",
}

func requireMemory(rt *runtime) error {
	if rt.memory == nil {
		return errors.New("memory is disabled (memory.enabled=false)")
	}
	return nil
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a memory for a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := requireMemory(rt); err != nil {
			return err
		}

		ttl := memoryTTLDays
		if ttl <= 0 {
			ttl = rt.cfg.Memory.TTLDays
		}
		res := rt.memory.Store(cmd.Context(), memoryProfile, memory.Type(memoryType), args[0], map[string]string{"source": "cli"}, ttl)
		if !res.Success {
			return errors.New(res.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s (expires %s)\n", check(true), res.MemoryID, res.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var memoryRetrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve memories similar to a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := memory.CheckType(memory.Type(memoryType)); err != nil {
			return err
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := requireMemory(rt); err != nil {
			return err
		}

		text, ok := rt.memory.Retrieve(cmd.Context(), args[0], memory.Type(memoryType), memoryProfile, memoryTopK, memoryThreshold)
		w := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintln(w, "No matching memories.")
			return nil
		}
		fmt.Fprintln(w, text)
		return nil
	},
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a profile's memories (optionally one --type)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := requireMemory(rt); err != nil {
			return err
		}

		t := memory.Type("")
		if cmd.Flags().Changed("type") {
			t = memory.Type(memoryType)
		}
		n := rt.memory.ClearProfile(cmd.Context(), memoryProfile, t)
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d memories for %s\n", n, memoryProfile)
		return nil
	},
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := requireMemory(rt); err != nil {
			return err
		}

		pruned := rt.memory.Prune(cmd.Context())
		s := rt.memory.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "Profiles: %d\nRecords:  %d\nVectors:  %d\nOrphaned: %d\nPruned:   %d\n",
			s.Profiles, s.Records, s.Vectors, s.Orphaned, pruned)
		return nil
	},
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memoryProfile, "profile", "cli-profile", "Profile ID")
	memoryCmd.PersistentFlags().StringVar(&memoryType, "type", string(memory.TypeUserPreferences), "Memory type")
	memoryStoreCmd.Flags().IntVar(&memoryTTLDays, "ttl-days", 0, "Retention in days (config default when 0)")
	memoryRetrieveCmd.Flags().IntVar(&memoryTopK, "top-k", memory.DefaultTopK, "Maximum memories to return")
	memoryRetrieveCmd.Flags().Float64Var(&memoryThreshold, "threshold", memory.DefaultThreshold, "Minimum similarity")

	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memoryRetrieveCmd)
	memoryCmd.AddCommand(memoryClearCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
}
