package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List long-term summaries, newest first",
		Run:   runList,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results (0: all)")
	cmd.Flags().Bool("ids-only", false, "Only output entry ids")
	cmd.Flags().Bool("stm", false, "List short-term segments instead, oldest first")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")
	stm, _ := cmd.Flags().GetBool("stm")

	a, err := openApp(nil)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if stm {
		segs, err := a.db.LoadSegments(cmd.Context())
		if err != nil {
			exitErr("list", err)
		}
		b, _ := json.MarshalIndent(segs, "", "  ")
		fmt.Println(string(b))
		return
	}

	entries, err := a.ltm.List(cmd.Context(), limit)
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, e := range entries {
			fmt.Println(e.ID)
		}
		return
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
