package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/metricstore"
)

// Run is the main entry point. Returns exit code.
func Run(out, errOut io.Writer, args []string) int {
	globalFlags := flag.NewFlagSet("metricstore", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagDir := globalFlags.String("dir", "", "Override the engine data `directory`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		DirOverride:     *flagDir,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	commands := allCommands()

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)
		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	// Each invocation is a one-shot process (or a single REPL session), so
	// background maintenance/compaction never gets a chance to tick;
	// disable both loops rather than start goroutines Shutdown would just
	// stop moments later.
	eng, err := metricstore.Open(metricstore.EngineOptions{
		Dir:                 cfg.Dir,
		Peers:               cfg.Peers,
		SealAfter:           cfg.SealAfter(),
		MaxAge:              cfg.MaxAge(),
		MaintenanceInterval: -1 * time.Second,
		CompactionInterval:  -1 * time.Second,
		Parallelism:         cfg.Parallelism,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}
	defer eng.Shutdown()

	cmdIO := NewIO(out, errOut)

	return cmd.Run(context.Background(), cmdIO, eng, commandAndArgs[1:])
}

// allCommands returns all commands in display order.
func allCommands() []*Command {
	return []*Command{
		IncrementCmd(),
		HistogramCmd(),
		QueryCmd(),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  --dir <dir>            Override engine data directory`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: metricstore [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'metricstore --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "metricstore - embeddable time-series counter store demo")
	fprintln(w)
	fprintln(w, "Usage: metricstore [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
