package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/metricstore"
)

var roundingModes = map[string]metricstore.RoundingMode{
	"none":               metricstore.RoundNone,
	"significant-digits": metricstore.RoundSignificantDigits,
	"byte-count":         metricstore.RoundByteCount,
}

// HistogramCmd returns the "histogram" command.
func HistogramCmd() *Command {
	fs := flag.NewFlagSet("histogram", flag.ContinueOnError)

	dimNames := fs.StringArray("dim", nil, "declare a dimension `name` for the counter (repeatable; must match every run)")
	sets := fs.StringArray("set", nil, "set a dimension value as `key=value` (repeatable)")
	atMS := fs.Int64("at", 0, "sample timestamp in ms since Unix epoch UTC; defaults to now")
	round := fs.String("round", "none", "rounding mode: none|significant-digits|byte-count")
	factor := fs.Int("factor", 0, "rounding factor (meaning depends on --round)")

	return &Command{
		Flags: fs,
		Usage: "histogram <counter> <value> [flags]",
		Short: "Feed a value into a histogram counter",
		Exec: func(_ context.Context, o *IO, eng *metricstore.Engine, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: histogram <counter> <value>")
			}

			dims := make([]metricstore.Dimension, len(*dimNames))
			for i, n := range *dimNames {
				dims[i] = metricstore.NewDimension(n)
			}

			hist, err := eng.CreateHistogramCounter(args[0], dims...)
			if err != nil {
				return err
			}

			value, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}

			values, err := parseDims(*sets)
			if err != nil {
				return err
			}

			mode, ok := roundingModes[*round]
			if !ok {
				return fmt.Errorf("unknown --round %q, expected none|significant-digits|byte-count", *round)
			}

			ts := time.Now()
			if *atMS != 0 {
				ts = time.UnixMilli(*atMS).UTC()
			}

			if err := hist.AddValueRounded(value, values, ts, mode, *factor); err != nil {
				return err
			}

			o.Printf("OK: %s <- %d\n", args[0], value)

			return nil
		},
	}
}
