package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Find long-term summaries relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().IntP("top", "k", 3, "Max results")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	k, _ := cmd.Flags().GetInt("top")
	query := strings.Join(args, " ")

	a, err := openApp(nil)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	mgr, err := a.newManager(cmd.Context(), "", nil)
	if err != nil {
		exitErr("restore memory", err)
	}

	results := mgr.RetrieveRelevant(cmd.Context(), query, k)
	if formatFlag == "text" {
		for _, r := range results {
			fmt.Println(r)
			fmt.Println()
		}
		return
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
