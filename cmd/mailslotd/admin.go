package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/actual-software/mailslot/internal/config"
	mserrors "github.com/actual-software/mailslot/internal/errors"
	mslog "github.com/actual-software/mailslot/internal/logging"
	"github.com/actual-software/mailslot/internal/mailslot"
	"github.com/actual-software/mailslot/internal/session"
	"github.com/actual-software/mailslot/internal/stress"
)

const tabPadding = 2

// errStressFailed is returned when a stress run lost or duplicated payloads.
var errStressFailed = errors.New("stress run failed verification")

// adminCmd creates the admin command.
func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
		Long:  `Administrative commands for inspecting configuration and exercising channels.`,
	}

	cmd.AddCommand(configCmd())
	cmd.AddCommand(stressCmd())
	cmd.AddCommand(codesCmd())

	return cmd
}

// configCmd prints the effective configuration.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(tabPadding)

			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}

			return enc.Close()
		},
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file")

	return cmd
}

// stressParams holds the flag overrides of a stress run.
type stressParams struct {
	mode    string
	asJSON  bool
	verbose bool
}

// stressCmd runs writers and readers against an in-process registry.
func stressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Exchange random payloads between concurrent writers and readers",
		Long: `Builds a registry from the configuration, then runs writer and reader
goroutines against one channel and verifies every payload arrives exactly once.`,
		RunE: runStress,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().Int("channel", 0, "Channel id")
	cmd.Flags().Int("writers", 0, "Number of writers (0 uses the configured value)")
	cmd.Flags().Int("readers", 0, "Number of readers (0 uses the configured value)")
	cmd.Flags().Int("messages", 0, "Messages per writer (0 uses the configured value)")
	cmd.Flags().Int("max-length", 0, "Maximum payload length (0 uses the configured value)")
	cmd.Flags().Int64("seed", 0, "Payload generator seed")
	cmd.Flags().String("mode", "", "Channel mode for the run: blocking or non-blocking")
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	cmd.Flags().Bool("verbose", false, "Log channel activity to stderr")

	return cmd
}

func runStress(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	params, err := applyStressFlags(cmd, &cfg.Stress)
	if err != nil {
		return err
	}

	logger := zap.NewNop()

	if params.verbose {
		logger, err = mslog.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer mslog.Sync(logger)
	}

	report, err := executeStress(cmd.Context(), cfg, params.mode, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if params.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
	} else {
		_, _ = fmt.Fprint(out, report.Format())
	}

	if !report.OK() {
		return errStressFailed
	}

	return nil
}

func applyStressFlags(cmd *cobra.Command, s *config.StressConfig) (*stressParams, error) {
	flags := cmd.Flags()

	intOverrides := map[string]*int{
		"channel":    &s.Channel,
		"writers":    &s.Writers,
		"readers":    &s.Readers,
		"messages":   &s.MessagesPerWriter,
		"max-length": &s.MaxMessageLength,
	}

	for name, target := range intOverrides {
		if !flags.Changed(name) {
			continue
		}

		v, err := flags.GetInt(name)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", name, err)
		}

		*target = v
	}

	if flags.Changed("seed") {
		seed, err := flags.GetInt64("seed")
		if err != nil {
			return nil, fmt.Errorf("failed to get seed flag: %w", err)
		}

		s.Seed = seed
	}

	mode, err := flags.GetString("mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get mode flag: %w", err)
	}

	asJSON, err := flags.GetBool("json")
	if err != nil {
		return nil, fmt.Errorf("failed to get json flag: %w", err)
	}

	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}

	return &stressParams{mode: mode, asJSON: asJSON, verbose: verbose}, nil
}

// executeStress builds a registry from cfg and runs the exchange. A non-empty
// mode switches the stress channel before the run.
func executeStress(ctx context.Context, cfg *config.Config, mode string, logger *zap.Logger) (*stress.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := cfg.Channels.Settings()
	if err != nil {
		return nil, err
	}

	registry, err := mailslot.NewRegistry(settings, mailslot.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer registry.Shutdown()

	if mode != "" {
		m, err := mailslot.ParseMode(mode)
		if err != nil {
			return nil, err
		}

		if err := registry.SetBlockingMode(cfg.Stress.Channel, m); err != nil {
			return nil, err
		}
	}

	manager := session.NewManager(registry, logger)

	return stress.NewRunner(manager, cfg.Stress, logger).Run(ctx)
}

// codesCmd lists every error kind with its stable code.
func codesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List error kinds and codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabPadding, ' ', 0)
			_, _ = fmt.Fprintln(w, "KIND\tCODE\tSEVERITY\tRETRYABLE\tMESSAGE")

			infos := make([]mserrors.KindInfo, 0, len(mserrors.Kinds()))

			for _, kind := range mserrors.Kinds() {
				if info, ok := mserrors.GetKindInfo(kind); ok {
					infos = append(infos, info)
				}
			}

			slices.SortFunc(infos, func(a, b mserrors.KindInfo) int {
				return strings.Compare(a.Code, b.Code)
			})

			for _, info := range infos {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					info.Kind, info.Code, info.Severity, info.Retryable, info.Message)
			}

			return w.Flush()
		},
	}
}
