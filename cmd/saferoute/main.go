package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dpup/saferoute/server/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "saferoute",
	Short: "Rank walking routes by safety and cluster incident reports",
	Long: `Offline tools for the safe route engine.

Routes are ranked by travel time plus proximity to recent incident reports
and news. Candidates passing too close to a report or a severe news incident
are excluded; when every candidate is excluded the full set is ranked and
flagged instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		sets, _ := cmd.Flags().GetStringArray("set")
		overrides, err := parseOverrides(sets)
		if err != nil {
			return err
		}

		c, err := config.Load(path, overrides)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		level, _ := cmd.Flags().GetString("log-level")
		return initLogger(level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "YAML config file (SAFEROUTE_ env vars also apply)")
	f.StringArray("set", nil, "override a config key, e.g. --set risk.report_weight=1.5")
	f.String("log-level", "warn", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogger(level string) error {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.OutputPaths = []string{"stderr"}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return eris.Wrap(err, "parse log level")
	}
	zapCfg.Level.SetLevel(lvl)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// parseOverrides turns key=value pairs into a koanf map. Numbers and booleans
// are typed; everything else stays a string.
func parseOverrides(sets []string) (map[string]any, error) {
	overrides := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, eris.Errorf("invalid --set %q, expected key=value", s)
		}
		key = strings.TrimSpace(key)
		switch {
		case value == "true" || value == "false":
			overrides[key] = value == "true"
		default:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				overrides[key] = f
			} else {
				overrides[key] = value
			}
		}
	}
	return overrides, nil
}
