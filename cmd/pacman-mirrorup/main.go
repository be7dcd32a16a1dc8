// Package main implements the pacman-mirrorup command-line tool for
// selecting the fastest up-to-date Arch Linux mirrors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/bpetlert/pacman-mirrorup/internal/mirrorup"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pacman-mirrorup",
	Short: "Rank Arch Linux mirrors by measured transfer rate",
	Long: `pacman-mirrorup selects the best Arch Linux mirrors for your location:
it fetches the public mirror status document, keeps only fully synced
http/https mirrors, applies your exclusion rules, measures the transfer
rate of the most promising candidates, and writes a ranked pacman
mirrorlist.

Usage:
  # Print a ranked mirrorlist to stdout
  pacman-mirrorup

  # Write the mirrorlist and probe statistics to files
  pacman-mirrorup --output-file /tmp/mirrorlist --stats-file /tmp/stats.csv

  # Skip mirrors by domain, country, or country code
  pacman-mirrorup --exclude "country_code = SC" --exclude "!domain = keep.in.sc"

  # Load defaults from a configuration file
  pacman-mirrorup --config /etc/pacman-mirrorup.toml`,
	Run: runMirrorup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("pacman-mirrorup %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exclusion rules",
	Long:  "Validate the configuration file and exclusion rules, then exit.",
	Run:   runValidate,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")

	rootCmd.Flags().StringP("source-url", "S", "", "mirror status data source URL")
	rootCmd.Flags().StringP("target-db", "t", "", "speed test target database (core, extra, community, multilib)")
	rootCmd.Flags().StringP("output-file", "o", "", "mirrorlist output file (stdout when unset)")
	rootCmd.Flags().IntP("mirrors", "m", 0, "limit the list to the n best mirrors")
	rootCmd.Flags().Int("max-check", 0, "maximum number of mirrors to speed test")
	rootCmd.Flags().IntP("threads", "T", 0, "number of concurrent speed tests")
	rootCmd.Flags().Int("timeout", 0, "per-probe timeout in seconds")
	rootCmd.Flags().StringArrayP("exclude", "x", nil, "exclusion rule, evaluated after rules from --exclude-from (repeatable)")
	rootCmd.Flags().StringP("exclude-from", "X", "", "file with exclusion rules, one per line")
	rootCmd.Flags().StringP("stats-file", "s", "", "probe statistics output file (CSV)")
	rootCmd.Flags().Bool("no-progress", false, "disable the probing progress bar")
}

// formatError returns a human-friendly error message, optionally with
// stack trace.
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}

	return err.Error()
}

// loadConfig builds the effective configuration: defaults, then the
// optional TOML file, then command-line flags.
func loadConfig(cmd *cobra.Command) (*mirrorup.Config, error) {
	config := mirrorup.NewConfig()

	if configPath != "" {
		meta, err := toml.DecodeFile(configPath, config)
		if err != nil {
			return nil, errors.Wrap(err, "decode config file "+configPath)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Newf("unknown keys in config file %s: %v", configPath, undecoded)
		}
	}

	if err := applyFlags(cmd, config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyFlags overrides configuration values with explicitly set flags.
func applyFlags(cmd *cobra.Command, config *mirrorup.Config) error {
	flags := cmd.Flags()

	if flags.Changed("source-url") {
		value, _ := flags.GetString("source-url")
		if err := config.SourceURL.UnmarshalText([]byte(value)); err != nil {
			return errors.Wrap(err, "invalid --source-url")
		}
	}
	if flags.Changed("target-db") {
		value, _ := flags.GetString("target-db")
		if err := config.TargetDB.UnmarshalText([]byte(value)); err != nil {
			return errors.Wrap(err, "invalid --target-db")
		}
	}
	if flags.Changed("output-file") {
		config.OutputFile, _ = flags.GetString("output-file")
	}
	if flags.Changed("mirrors") {
		config.Mirrors, _ = flags.GetInt("mirrors")
	}
	if flags.Changed("max-check") {
		config.MaxCheck, _ = flags.GetInt("max-check")
	}
	if flags.Changed("threads") {
		config.Threads, _ = flags.GetInt("threads")
	}
	if flags.Changed("timeout") {
		config.Timeout, _ = flags.GetInt("timeout")
	}
	if flags.Changed("exclude") {
		config.Exclude, _ = flags.GetStringArray("exclude")
	}
	if flags.Changed("exclude-from") {
		config.ExcludeFrom, _ = flags.GetString("exclude-from")
	}
	if flags.Changed("stats-file") {
		config.StatsFile, _ = flags.GetString("stats-file")
	}
	if flags.Changed("no-progress") {
		config.NoProgress, _ = flags.GetBool("no-progress")
	}
	return nil
}

// assembleRules concatenates rules from the exclude file and then the
// --exclude options, so command-line rules override the file with the
// last-match-wins fold.
func assembleRules(config *mirrorup.Config) (mirrorup.Rules, error) {
	var rules mirrorup.Rules

	if config.ExcludeFrom != "" {
		file, err := os.Open(config.ExcludeFrom)
		if err != nil {
			return nil, errors.Wrap(err, "open exclude file")
		}
		rules, err = mirrorup.LoadRules(file)
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close exclude file", "path", config.ExcludeFrom, "error", closeErr)
		}
		if err != nil {
			return nil, errors.Wrap(err, config.ExcludeFrom)
		}
	}

	cliRules, err := mirrorup.ParseRules(config.Exclude)
	if err != nil {
		return nil, err
	}
	return append(rules, cliRules...), nil
}

// applyLogConfig configures slog from the config file, the --log-level
// flag, and --quiet, in that order.
func applyLogConfig(cmd *cobra.Command, config *mirrorup.Config) error {
	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
		config.NoProgress = true
	}
	return config.Log.Apply()
}

func runMirrorup(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	fail := func(msg string, err error) {
		slog.Error(msg, "error", formatError(err, verboseErrors))
		if !verboseErrors {
			slog.Info("run with --verbose-errors for detailed stack traces")
		}
		os.Exit(1)
	}

	config, err := loadConfig(cmd)
	if err != nil {
		fail("failed to load configuration", err)
	}
	if err := applyLogConfig(cmd, config); err != nil {
		fail("failed to apply log config", err)
	}
	if err := config.Check(); err != nil {
		fail("invalid configuration", err)
	}

	// Never overwrite existing output; refuse up front, before probing.
	for _, path := range []string{config.OutputFile, config.StatsFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			fail("output file already exists", errors.New(path))
		}
	}

	rules, err := assembleRules(config)
	if err != nil {
		fail("failed to parse exclusion rules", err)
	}

	selection, err := mirrorup.Run(context.Background(), config, rules)
	if err != nil {
		fail("mirror selection failed", err)
	}

	if config.StatsFile != "" {
		if err := writeFile(config.StatsFile, func(f *os.File) error {
			return mirrorup.WriteStats(f, selection.Candidates, selection.Probes)
		}); err != nil {
			fail("failed to write stats file", err)
		}
		slog.Info("stats file written", "path", config.StatsFile)
	}

	sourceURL := config.SourceURL.String()
	if config.OutputFile != "" {
		if err := writeFile(config.OutputFile, func(f *os.File) error {
			return mirrorup.WriteMirrorlist(f, selection.Mirrors, sourceURL, time.Now())
		}); err != nil {
			fail("failed to write mirrorlist", err)
		}
		slog.Info("mirrorlist written", "path", config.OutputFile)
		return
	}

	if err := mirrorup.WriteMirrorlist(os.Stdout, selection.Mirrors, sourceURL, time.Now()); err != nil {
		fail("failed to write mirrorlist to stdout", err)
	}
}

// writeFile creates path exclusively and hands it to write. O_EXCL keeps
// the no-overwrite guarantee even when the file appeared after the
// up-front check.
func writeFile(path string, write func(*os.File) error) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close output file", "path", path, "error", closeErr)
		}
		return err
	}
	return file.Close()
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	var validationErrors []error

	config, err := loadConfig(cmd)
	if err != nil {
		validationErrors = append(validationErrors, err)
		config = mirrorup.NewConfig()
	}

	if err := config.Log.Apply(); err != nil {
		validationErrors = append(validationErrors, errors.Wrap(err, "log config"))
	}
	if err := config.Check(); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if _, err := assembleRules(config); err != nil {
		validationErrors = append(validationErrors, err)
	}

	if len(validationErrors) > 0 {
		for _, err := range validationErrors {
			slog.Error("validation failed", "error", formatError(err, verboseErrors))
		}
		os.Exit(1)
	}
	fmt.Println("configuration is valid")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
