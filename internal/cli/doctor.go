package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarkWells-Dev/Catenary/internal/config"
	"github.com/MarkWells-Dev/Catenary/internal/lspclient"
	"github.com/MarkWells-Dev/Catenary/internal/registry"
)

var doctorConfigPath string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check readiness of every configured language server",
	Long: `Run an initialize handshake against each configured (or compiled-in
default) language server, reporting whether its binary is on PATH and
whether it completes initialization within its timeout.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().StringVarP(&doctorConfigPath, "config", "c", "", "configuration file path")
	rootCmd.AddCommand(doctorCmd)
}

type doctorResult struct {
	language string
	command  string
	status   string
	detail   string
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.LoadOptions{
		ExplicitConfigPath: doctorConfigPath,
		Environ:            os.Environ(),
		StartDir:           cwd,
		UserConfigPath:     config.DefaultUserConfigPath(),
	})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	descriptors := map[string]config.ServerDescriptor{}
	for lang, sd := range cfg.Servers {
		descriptors[lang] = sd
	}
	for _, info := range registry.All() {
		if _, ok := descriptors[info.ID]; !ok {
			descriptors[info.ID] = config.ServerDescriptor{Command: info.DefaultCommand, Args: info.DefaultArgs}
		}
	}

	languages := make([]string, 0, len(descriptors))
	for lang := range descriptors {
		languages = append(languages, lang)
	}
	sort.Strings(languages)

	results := make([]doctorResult, 0, len(descriptors))
	for _, lang := range languages {
		results = append(results, checkServer(lang, descriptors[lang], cwd))
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tCOMMAND\tSTATUS\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.language, r.command, r.status, r.detail)
	}
	return w.Flush()
}

func checkServer(language string, sd config.ServerDescriptor, root string) doctorResult {
	result := doctorResult{language: language, command: sd.Command}

	if _, err := exec.LookPath(sd.Command); err != nil {
		result.status = "missing"
		result.detail = fmt.Sprintf("%s not found on PATH", sd.Command)
		return result
	}

	c := lspclient.New(language, sd)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Spawn(ctx); err != nil {
		result.status = "unreachable"
		result.detail = err.Error()
		return result
	}
	defer c.Shutdown(context.Background(), 2*time.Second)

	if _, err := c.Initialize(ctx, []string{root}, 30*time.Second); err != nil {
		result.status = "unhealthy"
		result.detail = err.Error()
		return result
	}

	result.status = "ready"
	return result
}
