package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Append text to short-term memory",
		Long: "Append text to the persisted short-term buffer. Text can be a positional arg or piped " +
			"via stdin. May compress the oldest segments into long-term memory.",
		Run: runAdd,
	}

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			text = string(b)
		}
	}

	if strings.TrimSpace(text) == "" {
		exitErr("add", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	a, err := openApp(nil)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	mgr, err := a.newManager(cmd.Context(), "", nil)
	if err != nil {
		exitErr("restore memory", err)
	}
	if err := mgr.Add(cmd.Context(), text); err != nil {
		exitErr("add", err)
	}

	out := map[string]interface{}{
		"ok":           true,
		"stm_segments": len(mgr.Snapshot()),
		"stm_tokens":   mgr.Tokens(),
		"compressed":   len(mgr.Index()),
	}
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}
