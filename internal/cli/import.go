package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/loopmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import long-term summaries from JSON",
		Long:  "Import summaries from JSON on stdin. Expects the format produced by export; existing ids are skipped.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var entries []model.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		exitErr("parse json", err)
	}

	a, err := openApp(nil)
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	imported, err := a.portable().Import(cmd.Context(), entries)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", imported)
}
