package cli

import (
	"context"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/metricstore"
)

// IncrementCmd returns the "increment" command.
func IncrementCmd() *Command {
	fs := flag.NewFlagSet("increment", flag.ContinueOnError)

	dimNames := fs.StringArray("dim", nil, "declare a dimension `name` for the counter (repeatable; must match every run)")
	sets := fs.StringArray("set", nil, "set a dimension value as `key=value` (repeatable)")
	atMS := fs.Int64("at", 0, "sample timestamp in ms since Unix epoch UTC; defaults to now")

	return &Command{
		Flags: fs,
		Usage: "increment <counter> <amount> [flags]",
		Short: "Add amount to a hit counter",
		Exec: func(_ context.Context, o *IO, eng *metricstore.Engine, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: increment <counter> <amount>")
			}

			dims := make([]metricstore.Dimension, len(*dimNames))
			for i, n := range *dimNames {
				dims[i] = metricstore.NewDimension(n)
			}

			hc, err := eng.CreateHitCounter(args[0], dims...)
			if err != nil {
				return err
			}

			var amount int64
			if _, err := fmt.Sscanf(args[1], "%d", &amount); err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			values, err := parseDims(*sets)
			if err != nil {
				return err
			}

			ts := time.Now()
			if *atMS != 0 {
				ts = time.UnixMilli(*atMS).UTC()
			}

			if err := hc.Increment(amount, values, ts); err != nil {
				return err
			}

			o.Printf("OK: %s += %d\n", args[0], amount)

			return nil
		},
	}
}
