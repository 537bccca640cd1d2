package cli

import (
	"context"
	"fmt"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/metricstore"
)

// queryable is implemented by both *metricstore.HitCounter and
// *metricstore.HistogramCounter; the query command doesn't otherwise care
// which kind of counter it's talking to.
type queryable interface {
	Query(paramDict map[string]string) ([]metricstore.Sample, error)
}

// QueryCmd returns the "query" command. With --repl it opens an interactive
// session against the named counter instead of running one query.
func QueryCmd() *Command {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)

	counterType := fs.String("type", "hit", "counter type to open: hit|histogram")
	dimNames := fs.StringArray("dim", nil, "declare a dimension `name` for the counter (repeatable; must match every run)")
	params := fs.StringArray("param", nil, "query parameter as `key=value` (repeatable); reserved keys: start, end, dimension, aggregate, percentile")
	interactive := fs.Bool("repl", false, "start an interactive query> session instead of running one query")

	return &Command{
		Flags: fs,
		Usage: "query <counter> [flags]",
		Short: "Run a query against a counter, or start an interactive session",
		Exec: func(_ context.Context, o *IO, eng *metricstore.Engine, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: query <counter> [flags]")
			}

			dims := make([]metricstore.Dimension, len(*dimNames))
			for i, n := range *dimNames {
				dims[i] = metricstore.NewDimension(n)
			}

			counterName := args[0]

			var q queryable

			switch *counterType {
			case "hit":
				c, err := eng.CreateHitCounter(counterName, dims...)
				if err != nil {
					return err
				}

				q = c
			case "histogram":
				c, err := eng.CreateHistogramCounter(counterName, dims...)
				if err != nil {
					return err
				}

				q = c
			default:
				return fmt.Errorf("unknown --type %q, expected hit|histogram", *counterType)
			}

			if *interactive {
				return runREPL(o, q, counterName)
			}

			paramDict, err := parseDims(*params)
			if err != nil {
				return err
			}

			samples, err := q.Query(paramDict)
			if err != nil {
				return err
			}

			printSamples(o, samples)

			return nil
		},
	}
}

func printSamples(o *IO, samples []metricstore.Sample) {
	if len(samples) == 0 {
		o.Println("(no samples)")
		return
	}

	for _, s := range samples {
		o.Printf("[%d, %d) %s\n", s.StartMS, s.EndMS, formatDims(s.Dimensions))

		if s.Histogram != nil {
			for _, p := range s.Histogram {
				o.Printf("  value=%d freq=%d\n", p.Value, p.Frequency)
			}

			continue
		}

		o.Printf("  hits=%d percentile=%d average=%d min=%d max=%d\n",
			s.HitCount, s.Percentile, s.Average, s.Min, s.Max)
	}
}

func formatDims(dims map[string]string) string {
	if len(dims) == 0 {
		return ""
	}

	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s=%s ", k, dims[k])
	}

	return out
}
