package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	regexcache "github.com/localrivet/regexcache"
	"github.com/spf13/cobra"
)

var (
	configPath    string
	caseSensitive bool
	version       = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "regexcache-demo PATTERN [FILE...]",
	Short: "Matches a pattern against stdin or files through a shared regexcache Manager",
	Long: `regexcache-demo drives a single regexcache.Manager against one or more
inputs, printing per-line match results and a final metrics document.

BASIC USAGE:
  regexcache-demo "error|warn" app.log              # Match each line of app.log
  echo "hello world" | regexcache-demo "hello"       # Match stdin
  regexcache-demo -i "TODO" *.go                      # Case-insensitive across files
  regexcache-demo -c config.yaml "pattern" input.txt  # Load cache tuning from YAML

UTILITY COMMANDS:
  regexcache-demo metrics "pattern" input.txt         # Print only the metrics document
  regexcache-demo version                             # Show version information`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMatch(args, false)
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics PATTERN [FILE...]",
	Short: "Run the match pass and print only the metrics document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMatch(args, true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("regexcache-demo %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML cache configuration document")
	// -i is registered before -s: both write caseSensitive, and each
	// registration stores its default there, so the last one sets it.
	rootCmd.Flags().BoolVarP(&caseSensitive, "ignore-case", "i", false, "Case-insensitive matching (overrides -s)")
	rootCmd.PersistentFlags().BoolVarP(&caseSensitive, "case-sensitive", "s", true, "Case-sensitive matching")

	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*regexcache.Config, error) {
	if configPath == "" {
		return regexcache.DefaultConfig(), nil
	}
	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return regexcache.LoadConfig(f)
}

func runMatch(args []string, metricsOnly bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mgr, err := regexcache.NewManager(cfg, regexcache.NewStdlibEngine(), logger)
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}
	defer mgr.Close(context.Background())

	pattern := args[0]
	paths := args[1:]

	ignoreCase := rootCmd.Flags().Changed("ignore-case")
	effectiveCaseSensitive := caseSensitive
	if ignoreCase {
		effectiveCaseSensitive = false
	}

	sources := paths
	if len(sources) == 0 {
		sources = []string{"-"}
	}

	start := time.Now()
	var matched, scanned int

	for _, path := range sources {
		n, m, err := matchSource(mgr, pattern, effectiveCaseSensitive, path, !metricsOnly)
		if err != nil {
			return err
		}
		scanned += n
		matched += m
	}

	doc, err := mgr.GetMetricsJSON()
	if err != nil {
		return fmt.Errorf("render metrics: %w", err)
	}

	if !metricsOnly {
		fmt.Fprintf(os.Stderr, "scanned %d lines, matched %d, in %s\n", scanned, matched, time.Since(start))
	}
	fmt.Println(doc)
	return nil
}

func matchSource(mgr *regexcache.Manager, pattern string, caseSensitive bool, path string, printMatches bool) (scanned, matched int, err error) {
	var in *os.File
	if path == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(path)
		if err != nil {
			return 0, 0, fmt.Errorf("open %s: %w", path, err)
		}
		defer in.Close()
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		scanned++
		ok, err := mgr.Match(pattern, caseSensitive, []byte(line))
		if err != nil {
			return scanned, matched, fmt.Errorf("match: %w", err)
		}
		if ok {
			matched++
			if printMatches {
				fmt.Println(line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return scanned, matched, fmt.Errorf("read %s: %w", path, err)
	}
	return scanned, matched, nil
}
