package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MarkWells-Dev/Catenary/internal/session"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List running Catenary sessions",
	Long: `List every session directory under the sessions base directory,
reporting each process's id, PID, liveness, and known workspace roots.`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	dir, err := sessionsBaseDir()
	if err != nil {
		return err
	}
	infos, err := session.Discover(dir)
	if err != nil {
		return fmt.Errorf("discovering sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPID\tALIVE\tROOTS")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%t\t%v\n", info.ID, info.PID, info.Alive, info.Roots)
	}
	return w.Flush()
}
