package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarkWells-Dev/Catenary/internal/config"
	"github.com/MarkWells-Dev/Catenary/internal/diagnostics"
	"github.com/MarkWells-Dev/Catenary/internal/dispatcher"
	"github.com/MarkWells-Dev/Catenary/internal/logging"
	"github.com/MarkWells-Dev/Catenary/internal/manager"
	"github.com/MarkWells-Dev/Catenary/internal/mcpserver"
	"github.com/MarkWells-Dev/Catenary/internal/pathsec"
	"github.com/MarkWells-Dev/Catenary/internal/registry"
	"github.com/MarkWells-Dev/Catenary/internal/session"
)

var (
	serveRoots       []string
	serveLSP         []string
	serveIdleTimeout int
	serveConfigPath  string
	serveNoColor     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	Long: `Start Catenary's MCP server, reading Content-Length framed JSON-RPC
requests from stdin and writing responses to stdout. This is the default
command when catenary is run with no subcommand.

Examples:
  # Serve the current directory, auto-detecting language servers
  catenary serve

  # Serve two explicit workspace roots
  catenary serve --root ./api --root ./web

  # Register an LSP server not in the compiled-in registry
  catenary serve --lsp zig:zls`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringArrayVar(&serveRoots, "root", nil, "workspace root (repeatable)")
	serveCmd.Flags().StringArrayVar(&serveLSP, "lsp", nil, "language:command [args...] (repeatable)")
	serveCmd.Flags().IntVar(&serveIdleTimeout, "idle-timeout", 0, "idle timeout in seconds (0 uses configuration default)")
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "configuration file path")
	serveCmd.Flags().BoolVar(&serveNoColor, "no-color", false, "disable colored log output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
}

// parseLSPFlag parses one "--lsp language:command [args...]" value into a
// ServerDescriptor, per §6's flag grammar.
func parseLSPFlag(raw string) (string, config.ServerDescriptor, error) {
	lang, rest, ok := strings.Cut(raw, ":")
	if !ok || lang == "" || rest == "" {
		return "", config.ServerDescriptor{}, fmt.Errorf("invalid --lsp value %q, want language:command [args...]", raw)
	}
	fields := strings.Fields(rest)
	return lang, config.ServerDescriptor{Command: fields[0], Args: fields[1:]}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := logging.Core()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.LoadOptions{
		ExplicitConfigPath: serveConfigPath,
		CLIRoots:           serveRoots,
		CLIIdleTimeout:     serveIdleTimeout,
		Environ:            os.Environ(),
		StartDir:           cwd,
		UserConfigPath:     config.DefaultUserConfigPath(),
	})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	for _, raw := range serveLSP {
		lang, sd, err := parseLSPFlag(raw)
		if err != nil {
			return err
		}
		if cfg.Servers == nil {
			cfg.Servers = map[string]config.ServerDescriptor{}
		}
		cfg.Servers[lang] = sd
	}

	roots := cfg.WorkspaceRoots
	if len(roots) == 0 {
		roots = []string{cwd}
	}

	var protectedConfigs []string
	for _, p := range []string{serveConfigPath, config.DefaultUserConfigPath(), cfg.ProjectConfigPath()} {
		if p != "" {
			protectedConfigs = append(protectedConfigs, p)
		}
	}
	validator, err := pathsec.New(roots, protectedConfigs)
	if err != nil {
		return fmt.Errorf("validating workspace roots: %w", err)
	}

	descriptors := func(language string) (config.ServerDescriptor, bool) {
		if sd, ok := cfg.Servers[language]; ok {
			return sd, true
		}
		if info, ok := registry.ByID(language); ok {
			return config.ServerDescriptor{Command: info.DefaultCommand, Args: info.DefaultArgs}, true
		}
		return config.ServerDescriptor{}, false
	}

	idleTimeout := time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	m := manager.New(validator.Roots(), idleTimeout, descriptors, validator)
	m.StartIdleSweep(ctx, time.Minute)
	defer m.ShutdownAll(5 * time.Second)

	engine := diagnostics.New()
	d := dispatcher.New(m, validator, engine)

	sessionsDir, err := sessionsBaseDir()
	if err != nil {
		return err
	}
	sess, err := session.New(sessionsDir)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	if err := sess.WritePID(); err != nil {
		logger.Printf("failed to write pid file: %v", err)
	}
	if err := sess.WriteRoots(validator.Roots()); err != nil {
		logger.Printf("failed to write roots file: %v", err)
	}
	if err := sess.ListenEvents(); err != nil {
		logger.Printf("failed to open event socket: %v", err)
	}
	defer sess.Close()

	srv := mcpserver.New(d, os.Stdout)
	logger.Printf("session %s serving %d root(s)", sess.ID, len(validator.Roots()))
	return srv.Run(ctx, os.Stdin)
}

func sessionsBaseDir() (string, error) {
	if dir := os.Getenv("CATENARY_SESSIONS_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home + "/.local/state/catenary/sessions", nil
}
