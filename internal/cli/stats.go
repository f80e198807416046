package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/loopmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory and usage statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp(nil)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	stats, err := a.db.Stats(cmd.Context(), a.cfg.Store.Path)
	if err != nil {
		exitErr("stats", err)
	}
	ltmEntries, err := a.ltm.Count(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	b, _ := json.MarshalIndent(struct {
		Backend    string `json:"ltm_backend"`
		LTMEntries int    `json:"ltm_entries"`
		Tokenizer  string `json:"tokenizer"`
		*store.Stats
	}{a.cfg.Store.Backend, ltmEntries, a.counter.Name(), stats}, "", "  ")
	fmt.Println(string(b))
}
