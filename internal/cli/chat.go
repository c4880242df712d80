package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ayureze/astra/internal/pipeline"
	"github.com/ayureze/astra/internal/policy"
)

var (
	chatMessage  string
	chatUser     string
	chatProfile  string
	chatLanguage string
	chatVoice    bool
	chatMinor    bool
	chatConsents []string
	chatJSON     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Send one message through the pipeline",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Message to send")
	chatCmd.Flags().StringVar(&chatUser, "user", "cli-user", "User ID")
	chatCmd.Flags().StringVar(&chatProfile, "profile", "cli-profile", "Profile ID")
	chatCmd.Flags().StringVar(&chatLanguage, "lang", "", "Input language code (detected when empty)")
	chatCmd.Flags().BoolVar(&chatVoice, "voice", false, "Treat the message as voice input")
	chatCmd.Flags().BoolVar(&chatMinor, "minor", false, "Mark the profile as a minor")
	chatCmd.Flags().StringSliceVar(&chatConsents, "rule-consent", nil, "Consent flags passed to the rules engine (e.g. telemedicine)")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print the full response as JSON")
}

func runChat(cmd *cobra.Command, args []string) error {
	if chatMessage == "" {
		return errors.New("--message is required")
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	meta := policy.Metadata{IsMinor: chatMinor}
	if len(chatConsents) > 0 {
		meta.Consents = make(map[string]bool, len(chatConsents))
		for _, c := range chatConsents {
			meta.Consents[c] = true
		}
	}
	resp := rt.pipeline.Process(cmd.Context(), pipeline.Request{
		Input:     chatMessage,
		UserID:    chatUser,
		ProfileID: chatProfile,
		Language:  chatLanguage,
		IsVoice:   chatVoice,
		Metadata:  meta,
	})

	w := cmd.OutOrStdout()
	if chatJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(w, string(out))
		return nil
	}

	printHeader(w, "🌿 Astra")
	fmt.Fprintln(w, resp.Response)
	fmt.Fprintln(w)
	outcome := color.GreenString(string(resp.Outcome))
	if resp.Outcome != pipeline.OutcomeOK {
		outcome = color.YellowString(string(resp.Outcome))
	}
	fmt.Fprintf(w, "Capability: %s (%s)  Outcome: %s\n", resp.Capability, resp.IntentClass, outcome)
	if resp.BlockedReason != "" {
		fmt.Fprintf(w, "Blocked:    %s %s\n", resp.BlockedReason, resp.RefusalCode)
	}
	fmt.Fprintf(w, "Correlation: %s\n", resp.CorrelationID)
	return nil
}
