package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gabriel-vasile/mimetype"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/cli"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/daemon"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/storage"
)

var version = "dev"

type globalFlags struct {
	configPath string
	envFile    string
	addr       string
	token      string
	remote     bool
	jsonOut    bool
	pretty     bool
	offline    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "elara",
		Short:         "Elara scores links, messages and files for phishing and scam risk",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", config.DefaultConfigPath, "Path to config file")
	pf.StringVar(&g.envFile, "env-file", "", "Env file to load before reading config")
	pf.StringVar(&g.addr, "addr", "http://127.0.0.1:8790", "Daemon API base URL")
	pf.StringVar(&g.token, "token", "", "API token (or set ELARA_TOKEN)")
	pf.BoolVar(&g.remote, "remote", false, "Send scans to a running daemon instead of scanning locally")
	pf.BoolVar(&g.jsonOut, "json", false, "Print raw JSON")
	pf.BoolVar(&g.pretty, "pretty", false, "Pretty-print JSON responses")
	pf.BoolVar(&g.offline, "offline", false, "Disable network probes for local scans")

	root.AddCommand(
		newServeCmd(g),
		newScanCmd(g),
		newScanFileCmd(g),
		newScanTextCmd(g),
		newValidateCmd(g),
		newStorageCheckCmd(g),
		newFeedsCmd(g),
		newReloadCmd(),
		newCtlCmd(g),
	)
	return root
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: API, scheduled feed updates and retention",
		RunE: func(cmd *cobra.Command, _ []string) error {
			restore, err := loadEnvFile(g.envFile)
			if err != nil {
				return err
			}
			defer restore()
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logger := logging.NewWithLevel(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel, os.Stdout)
			logger.Info("elara starting", logging.F("version", version), logging.F("config", cfg.Redacted()))
			return daemon.New(cfg, logger, g.configPath).Run(cmd.Context())
		},
	}
}

func newScanCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <url>",
		Short: "Scan a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.remote {
				res, err := g.client().ScanURL(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), res)
			}
			artifact, err := scanner.NewURLArtifact(args[0])
			if err != nil {
				return err
			}
			return g.scanLocal(cmd, artifact)
		},
	}
}

func newScanFileCmd(g *globalFlags) *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "scan-file <path>",
		Short: "Scan a document, screenshot text export or saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = mimetype.Detect(data).String()
			}
			if g.remote {
				res, err := g.client().ScanFile(cmd.Context(), args[0], mimeType, data)
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), res)
			}
			artifact, err := scanner.NewFileArtifact(args[0], mimeType, data)
			if err != nil {
				return err
			}
			return g.scanLocal(cmd, artifact)
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (detected from content when empty)")
	return cmd
}

func newScanTextCmd(g *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "scan-text",
		Short: "Scan a pasted message or conversation read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if g.remote {
				res, err := g.client().ScanText(cmd.Context(), name, string(data))
				if err != nil {
					return err
				}
				return g.print(cmd.OutOrStdout(), res)
			}
			artifact, err := scanner.NewFileArtifact(name, "text/plain", data)
			if err != nil {
				return err
			}
			return g.scanLocal(cmd, artifact)
		},
	}
	cmd.Flags().StringVar(&name, "name", "message.txt", "Name recorded for the pasted text")
	return cmd
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := runValidate(g.configPath, g.envFile); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
}

func newStorageCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "storage-check",
		Short: "Open and close the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := runStorageCheck(g.configPath, g.envFile); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "storage ok")
			return nil
		},
	}
}

func newFeedsCmd(g *globalFlags) *cobra.Command {
	feeds := &cobra.Command{Use: "feeds", Short: "Threat intelligence feeds"}
	feeds.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Refresh every configured feed now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.remote {
				raw, err := g.client().UpdateFeeds(cmd.Context())
				if err != nil {
					return err
				}
				return writeRaw(cmd.OutOrStdout(), raw, g.pretty)
			}
			restore, err := loadEnvFile(g.envFile)
			if err != nil {
				return err
			}
			defer restore()
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			app, err := daemon.Open(cfg, logging.NewWithLevel("text", cfg.Daemon.LogLevel, os.Stderr))
			if err != nil {
				return err
			}
			defer app.Close()
			status, err := app.Updater.Trigger(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := json.Marshal(status)
			if err != nil {
				return err
			}
			return writeRaw(cmd.OutOrStdout(), raw, true)
		},
	})
	return feeds
}

func newReloadCmd() *cobra.Command {
	var pid string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to a running daemon so it re-reads policy and feed sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pid == "" {
				pid = os.Getenv("ELARA_PID")
			}
			if pid == "" {
				return errors.New("pid is required (use --pid or ELARA_PID)")
			}
			parsed, err := strconv.Atoi(pid)
			if err != nil || parsed <= 0 {
				return errors.New("pid must be a positive integer")
			}
			proc, err := os.FindProcess(parsed)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGHUP); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reload signal sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&pid, "pid", "", "PID of the daemon (or set ELARA_PID)")
	return cmd
}

func newCtlCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ctl <command> [arg]",
		Short: "Query a running daemon",
		Long: strings.Join([]string{
			"Commands:",
			"  status",
			"  health",
			"  scans",
			"  scan <id>",
			"  findings",
			"  results latest",
			"  feeds status|update",
			"  metrics",
		}, "\n"),
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := ""
			if len(args) > 1 {
				sub = args[1]
			}
			raw, err := runCtl(cmd.Context(), g.client(), args[0], sub)
			if err != nil {
				return err
			}
			return writeRaw(cmd.OutOrStdout(), raw, g.pretty)
		},
	}
}

func runCtl(ctx context.Context, client *cli.Client, command, sub string) ([]byte, error) {
	switch command {
	case "status", "health", "scans", "findings":
		return client.DoJSON(ctx, http.MethodGet, "/api/"+command, nil)
	case "scan":
		if sub == "" {
			return nil, errors.New("scan id is required")
		}
		return client.DoJSON(ctx, http.MethodGet, "/api/scans/"+sub, nil)
	case "results":
		if sub != "" && sub != "latest" {
			return nil, fmt.Errorf("unknown results view %q", sub)
		}
		return client.DoJSON(ctx, http.MethodGet, "/api/results/latest", nil)
	case "feeds":
		switch sub {
		case "status", "":
			return client.DoJSON(ctx, http.MethodGet, "/api/feeds/status", nil)
		case "update":
			return client.UpdateFeeds(ctx)
		default:
			return nil, fmt.Errorf("unknown feeds command %q", sub)
		}
	case "metrics":
		return client.DoText(ctx, http.MethodGet, "/api/metrics")
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}

func (g *globalFlags) client() *cli.Client {
	token := g.token
	if token == "" {
		token = os.Getenv("ELARA_TOKEN")
	}
	return cli.NewClient(g.addr, token)
}

// scanLocal wires an in-memory App so a one-shot scan leaves no state behind.
func (g *globalFlags) scanLocal(cmd *cobra.Command, artifact *scanner.Artifact) error {
	restore, err := loadEnvFile(g.envFile)
	if err != nil {
		return err
	}
	defer restore()
	cfg, err := config.LoadOptional(g.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if g.offline {
		cfg.Probes.Offline = true
	}
	cfg.API.Enabled = false
	cfg.Alerting.Enabled = false

	store, err := storage.NewInMemoryStore()
	if err != nil {
		return err
	}
	defer store.Close()
	app, err := daemon.NewApp(cfg, logging.NewWithLevel("text", "warn", os.Stderr), store)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := app.Service.Scan(ctx, artifact)
	if err != nil {
		return err
	}
	return g.print(cmd.OutOrStdout(), res)
}

func (g *globalFlags) print(w io.Writer, res *scanner.ScanResult) error {
	if g.jsonOut || g.pretty {
		raw, err := json.Marshal(res)
		if err != nil {
			return err
		}
		return writeRaw(w, raw, g.pretty)
	}
	renderResult(w, res)
	return nil
}

func writeRaw(w io.Writer, raw []byte, pretty bool) error {
	raw = maybePrettyJSON(raw, pretty)
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		_, err := w.Write([]byte("\n"))
		return err
	}
	return nil
}

func maybePrettyJSON(raw []byte, pretty bool) []byte {
	if !pretty {
		return raw
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return raw
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return raw
	}
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(trimmed), "", "  "); err != nil {
		return raw
	}
	out.WriteByte('\n')
	return out.Bytes()
}

func runValidate(configPath, envFile string) error {
	restore, err := loadEnvFile(envFile)
	if err != nil {
		return err
	}
	defer restore()

	_, err = config.Load(configPath)
	return err
}

func runStorageCheck(configPath, envFile string) error {
	restore, err := loadEnvFile(envFile)
	if err != nil {
		return err
	}
	defer restore()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := storage.NewBadgerStoreWithKey(cfg.Storage.DBPath, cfg.Storage.EncryptionKeyBase64)
	if err != nil {
		return err
	}
	return store.Close()
}

// loadEnvFile applies KEY=VALUE pairs from path and returns a func that
// restores the environment as it was.
func loadEnvFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	previous := make(map[string]*string, len(values))
	for key, value := range values {
		if existing, ok := os.LookupEnv(key); ok {
			saved := existing
			previous[key] = &saved
		} else {
			previous[key] = nil
		}
		_ = os.Setenv(key, value)
	}
	return func() {
		for key, value := range previous {
			if value == nil {
				_ = os.Unsetenv(key)
				continue
			}
			_ = os.Setenv(key, *value)
		}
	}, nil
}
