package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/wearlevel/pkg/common/log"
	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".state"),
	readline.PcItem(".blocks"),
	readline.PcItem(".stats"),
	readline.PcItem(".dump",
		readline.PcItem("zstd",
			readline.PcItem("fastest"),
			readline.PcItem("default"),
			readline.PcItem("better"),
			readline.PcItem("best"),
		),
		readline.PcItem("snappy"),
		readline.PcItem("none"),
	),
	readline.PcItem(".restore"),
	readline.PcItem(".fingerprint"),
	readline.PcItem(".save"),
	readline.PcItem("RECOVER"),
	readline.PcItem("READ"),
	readline.PcItem("WRITE"),
	readline.PcItem("FORMAT"),
)

const helpText = `
wlshell - inspect and drive a wear-leveled record store.

Usage:
  wlshell [options] [image_path]  - Start with an optional medium path

Options:
  -config DIR             - Directory holding the MANIFEST (default ".")
  -medium KIND            - Override the medium kind (memory, file, pebble)
  -log-level LEVEL        - Log level (debug, info, warn, error)
  -telemetry              - Export metrics and traces to stdout

Commands:
  .help                   - Show this help message
  .open PATH              - Open the medium at PATH and recover
  .close                  - Close the current medium
  .exit                   - Exit the program
  .state                  - Show the store cursor
  .blocks                 - Show every block in the ring
  .stats                  - Show operation statistics
  .dump FILE [CODEC] [LEVEL]
                          - Snapshot the reserved range to FILE; CODEC is
                            zstd, snappy or none, LEVEL a zstd level
                            (fastest, default, better, best)
  .restore FILE           - Restore a snapshot and recover
  .fingerprint            - Print the xxhash64 of the reserved range
  .save                   - Write the current configuration to the MANIFEST

  RECOVER                 - Locate the active block again
  READ                    - Print the current record
  WRITE 0xHEX | TEXT      - Write a record, zero padded to the record size
  FORMAT                  - Erase the reserved range
  FORMAT start stop       - Erase [start, stop)
`

// Options holds the command line configuration
type Options struct {
	ConfigDir   string
	MediumKind  string
	MediumPath  string
	LogLevel    string
	Telemetry   bool
	HistoryFile string
}

func main() {
	opts := parseFlags()

	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	log.SetDefaultLogger(logger)

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}

	tel, err := setupTelemetry(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
		}
	}()

	sess := newSession(cfg, opts.ConfigDir, tel, logger, os.Stdout)
	defer sess.close()

	if opts.MediumPath != "" || cfg.Medium.Kind == config.MediumMemory {
		fmt.Printf("Opening %s medium %s\n", cfg.Medium.Kind, opts.MediumPath)
		if err := sess.open(opts.MediumPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening medium: %s\n", err)
			os.Exit(1)
		}
	}

	runInteractive(sess, opts.HistoryFile)
}

// parseFlags parses command line flags and returns the options
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "wlshell - interactive shell for a wear-leveled record store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: wlshell [options] [image_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor commands, start wlshell and type .help\n")
	}

	configDir := flag.String("config", ".", "Directory holding the MANIFEST")
	mediumKind := flag.String("medium", "", "Override the medium kind (memory, file, pebble)")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	tel := flag.Bool("telemetry", false, "Export metrics and traces to stdout")

	flag.Parse()

	var mediumPath string
	if flag.NArg() > 0 {
		mediumPath = flag.Arg(0)
	}

	return Options{
		ConfigDir:   *configDir,
		MediumKind:  *mediumKind,
		MediumPath:  mediumPath,
		LogLevel:    *logLevel,
		Telemetry:   *tel,
		HistoryFile: filepath.Join(os.TempDir(), ".wlshell_history"),
	}
}

// loadConfig reads the MANIFEST in opts.ConfigDir, falling back to defaults,
// then applies environment and flag overrides
func loadConfig(opts Options) (*config.Config, error) {
	cfg, err := config.LoadConfigFromManifest(opts.ConfigDir)
	if err != nil {
		if !errors.Is(err, config.ErrManifestNotFound) {
			return nil, err
		}
		cfg = config.NewDefaultConfig(opts.ConfigDir)
	}

	cfg.LoadFromEnv()

	if opts.MediumKind != "" {
		cfg.Update(func(c *config.Config) {
			c.Medium.Kind = config.MediumKind(opts.MediumKind)
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupTelemetry(opts Options) (telemetry.Telemetry, error) {
	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	if opts.Telemetry {
		telCfg.Enabled = true
	}
	return telemetry.New(telCfg)
}

// runInteractive starts the interactive CLI mode
func runInteractive(sess *session, historyFile string) {
	fmt.Println("wlshell version 0.1.0")
	fmt.Println("Enter .help for usage hints.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wlshell> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		if sess.isOpen() {
			rl.SetPrompt(fmt.Sprintf("wlshell:%s> ", sess.name()))
		} else {
			rl.SetPrompt("wlshell> ")
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		exit, err := sess.execute(context.Background(), line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		if exit {
			fmt.Println("Goodbye!")
			return
		}
	}
}
