package cli

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <session-id>",
	Short: "Attach to a running session's event stream",
	Long: `Dial a session's Unix-domain event socket and print each event as it
arrives, one JSON object per line, until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	baseDir, err := sessionsBaseDir()
	if err != nil {
		return err
	}
	sockPath := filepath.Join(baseDir, args[0], "events.sock")

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return fmt.Errorf("connecting to session %s: %w", args[0], err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	out := cmd.OutOrStdout()
	for scanner.Scan() {
		fmt.Fprintln(out, scanner.Text())
	}
	return scanner.Err()
}
