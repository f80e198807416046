package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [directive]",
		Short: "Build the context the next generation would see",
		Long:  "Combine the directive, recalled summaries and the short-term buffer within the context window.",
		Run:   runContext,
	}

	cmd.Flags().IntP("window", "w", 0, "Override the context window in tokens")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	extra := map[string]interface{}{}
	if cmd.Flags().Changed("window") {
		v, _ := cmd.Flags().GetInt("window")
		extra["memory.context_window_tokens"] = v
	}

	a, err := openApp(extra)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	mgr, err := a.newManager(cmd.Context(), "", nil)
	if err != nil {
		exitErr("restore memory", err)
	}

	w, err := mgr.BuildContext(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		exitErr("context", err)
	}

	if formatFlag == "text" {
		fmt.Println(w.Text)
		return
	}

	b, _ := json.MarshalIndent(map[string]interface{}{
		"context":       w.Text,
		"tokens":        w.Tokens,
		"limit":         a.cfg.Memory.ContextWindowTokens,
		"recalled":      w.Recalled,
		"dropped":       w.Dropped,
		"truncated":     w.Truncated,
		"recall_failed": w.RecallFailed,
		"tokenizer":     a.counter.Name(),
	}, "", "  ")
	fmt.Println(string(b))
}
