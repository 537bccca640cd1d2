package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// runREPL starts an interactive "query>" session against q, the same role
// liner plays in the teacher's sloty REPL: history-enabled line editing with
// tab completion over the reserved paramDict keys.
func runREPL(o *IO, q queryable, counterName string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(paramCompleter)

	if f, err := os.Open(historyFile()); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}

	o.Printf("metricstore query> (counter=%s, Ctrl-D to exit)\n", counterName)

	for {
		input, err := line.Prompt("query> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				o.Println("bye")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			break
		}

		params, err := parseDims(strings.Fields(input))
		if err != nil {
			o.ErrPrintln("error:", err)
			continue
		}

		samples, err := q.Query(params)
		if err != nil {
			o.ErrPrintln("error:", err)
			continue
		}

		printSamples(o, samples)
	}

	saveHistory(line)

	return nil
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".metricstore_history")
}

func saveHistory(line *liner.State) {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}

func paramCompleter(partial string) []string {
	keys := []string{"start=", "end=", "dimension=", "aggregate=", "percentile=", "exit", "quit"}

	var completions []string

	for _, k := range keys {
		if strings.HasPrefix(k, partial) {
			completions = append(completions, k)
		}
	}

	return completions
}
