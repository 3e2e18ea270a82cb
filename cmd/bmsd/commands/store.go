package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bmscore-go/store"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func newStoreCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and edit the persisted battery parameters",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "dump",
			Short: "Print the raw image and the decoded settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(g, func(st store.Store) error { return dump(cmd.OutOrStdout(), st) })
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Invalidate the image so the next boot restores defaults",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(g, func(st store.Store) error {
					if err := store.Invalidate(st); err != nil {
						return err
					}
					green.Fprintln(cmd.OutOrStdout(), "store invalidated; defaults apply on next boot")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <field> <value>",
			Short: "Change one setting and save the image",
			Long: "Fields: " + strings.Join(fieldNames(), ", ") + `.

Thresholds are volts or degrees Celsius; max_cycle is milliseconds.`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(g, func(st store.Store) error {
					s, _, err := store.Load(st, store.Defaults())
					if err != nil {
						yellow.Fprintf(cmd.OutOrStdout(), "stored image rejected (%v), starting from defaults\n", err)
					}
					if err := setField(&s, args[0], args[1]); err != nil {
						return err
					}
					if err := store.Save(st, s); err != nil {
						return fmt.Errorf("failed to save settings: %w", err)
					}
					green.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
					return nil
				})
			},
		},
	)
	return cmd
}

func withStore(g *globalFlags, fn func(store.Store) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(st)
}

func dump(w io.Writer, st store.Store) error {
	img, err := store.Dump(st)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	valid := img[store.AddrValidity] == store.ValidMarker

	cyan.Fprint(w, "image:")
	for i, b := range img {
		switch {
		case i == store.AddrValidity && valid:
			green.Fprintf(w, " %02x", b)
		case i == store.AddrValidity:
			red.Fprintf(w, " %02x", b)
		default:
			fmt.Fprintf(w, " %02x", b)
		}
	}
	fmt.Fprintln(w)

	if !valid {
		red.Fprintln(w, "no valid image: defaults apply")
		return nil
	}
	s, _, err := store.Load(st, store.Defaults())
	if err != nil {
		red.Fprintf(w, "stored image rejected: %v\n", err)
		return nil
	}
	row := func(k string, v any) { fmt.Fprintf(w, "  %-10s %v\n", k, v) }
	row("mode", s.Mode)
	row("slaves", s.Slaves)
	row("max_cycle", s.MaxCycle)
	row("cells", fmt.Sprintf("%d..%d", s.Cells.Start, s.Cells.End))
	row("aux", fmt.Sprintf("%d..%d", s.Aux.Start, s.Aux.End))
	row("uv", s.UnderVoltage)
	row("ov", s.OverVoltage)
	row("ut", s.UnderTemp)
	row("ot", s.OverTemp)
	row("ic_config", fmt.Sprintf("% x", s.IC[:]))
	return nil
}

var fields = map[string]func(s *store.Settings, v string) error{
	"mode": func(s *store.Settings, v string) error {
		switch v {
		case "drive":
			s.Mode = store.ModeDrive
		case "charge":
			s.Mode = store.ModeCharge
		default:
			return fmt.Errorf("mode must be drive or charge")
		}
		return nil
	},
	"slaves":     intField(func(s *store.Settings, n int) { s.Slaves = n }),
	"max_cycle":  intField(func(s *store.Settings, n int) { s.MaxCycle = time.Duration(n) * time.Millisecond }),
	"cell_start": intField(func(s *store.Settings, n int) { s.Cells.Start = n }),
	"cell_end":   intField(func(s *store.Settings, n int) { s.Cells.End = n }),
	"aux_start":  intField(func(s *store.Settings, n int) { s.Aux.Start = n }),
	"aux_end":    intField(func(s *store.Settings, n int) { s.Aux.End = n }),
	"uv":         floatField(func(s *store.Settings, f float64) { s.UnderVoltage = f }),
	"ov":         floatField(func(s *store.Settings, f float64) { s.OverVoltage = f }),
	"ut":         floatField(func(s *store.Settings, f float64) { s.UnderTemp = f }),
	"ot":         floatField(func(s *store.Settings, f float64) { s.OverTemp = f }),
}

func intField(set func(*store.Settings, int)) func(*store.Settings, string) error {
	return func(s *store.Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		set(s, n)
		return nil
	}
}

func floatField(set func(*store.Settings, float64)) func(*store.Settings, string) error {
	return func(s *store.Settings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", v)
		}
		set(s, f)
		return nil
	}
}

func fieldNames() []string {
	return []string{"mode", "slaves", "max_cycle", "cell_start", "cell_end", "aux_start", "aux_end", "uv", "ov", "ut", "ot"}
}

// setField applies one textual assignment. Range checks are left to
// Settings.Validate on save.
func setField(s *store.Settings, name, value string) error {
	fn, ok := fields[name]
	if !ok {
		return fmt.Errorf("unknown field %q (want one of %s)", name, strings.Join(fieldNames(), ", "))
	}
	return fn(s, value)
}
