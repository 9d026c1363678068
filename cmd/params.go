package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/nats"
	"github.com/smazurov/monocam/internal/params"
)

// Problem is one invalid entry of a parameter file.
type Problem struct {
	Name   string
	Reason string
}

// ValidateOverrides checks file values against the declared parameters.
func ValidateOverrides(store *params.Store, overrides map[string]any) []Problem {
	var problems []Problem
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		d, ok := store.Definition(name)
		if !ok {
			problems = append(problems, Problem{Name: name, Reason: "unknown parameter"})
			continue
		}
		if _, err := d.Check(overrides[name]); err != nil {
			problems = append(problems, Problem{Name: name, Reason: err.Error()})
		}
	}
	return problems
}

// ParseChange parses name=value. The value is read as a TOML literal, so
// true, 4, 2.5 and "text" keep their types; anything else is a string.
func ParseChange(arg string) (params.Change, error) {
	name, raw, ok := strings.Cut(arg, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return params.Change{}, fmt.Errorf("expected name=value, got %q", arg)
	}
	raw = strings.TrimSpace(raw)

	var doc struct {
		V any `toml:"v"`
	}
	if err := toml.Unmarshal([]byte("v = "+raw), &doc); err != nil || doc.V == nil {
		return params.Change{Name: name, Value: raw}, nil
	}
	if i, isInt := doc.V.(int64); isInt {
		return params.Change{Name: name, Value: int(i)}, nil
	}
	return params.Change{Name: name, Value: doc.V}, nil
}

func printParameters(w io.Writer, store *params.Store) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tACCESS\tVALUE\tDEFAULT\tDESCRIPTION")
	current := store.Current()
	for _, d := range store.Definitions() {
		value, _ := current.Value(d.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%v\t%s\n", d.Name, d.Type, d.Access, value, d.Default, d.Description)
	}
	tw.Flush()
}

// CreateParamsCmd creates the params command and its subcommands.
func CreateParamsCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Inspect and change camera parameters",
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "config.toml", "Path to configuration file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List declared parameters with their values from the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, _, err := loadParameters(configFile, logging.GetLogger("params"))
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(store.Current().Map())
			}
			printParameters(cmd.OutOrStdout(), store)
			return nil
		},
	}
	listCmd.Flags().Bool("json", false, "Print name to value as JSON")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the [camera] table of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, overrides, _, err := loadParameters(configFile, logging.GetLogger("params"))
			if err != nil {
				return err
			}
			problems := ValidateOverrides(store, overrides)
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintf(out, "%s: %s\n", p.Name, p.Reason)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d invalid parameter(s) in %s", len(problems), configFile)
			}
			fmt.Fprintf(out, "%s: %d parameter(s) ok\n", configFile, len(overrides))
			return nil
		},
	}

	var natsURL, cameraName string
	var timeout time.Duration
	setCmd := &cobra.Command{
		Use:   "set name=value...",
		Short: "Apply dynamic parameter changes to a running node over NATS",
		Long: `Sends the changes as one batch. The node applies every change or none; ` +
			`read-only and unknown parameters reject the whole batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes := make([]params.Change, 0, len(args))
			for _, arg := range args {
				c, err := ParseChange(arg)
				if err != nil {
					return err
				}
				changes = append(changes, c)
			}

			client, err := nats.NewParameterClient(natsURL, logging.GetLogger("nats"))
			if err != nil {
				return fmt.Errorf("connect %s: %w", natsURL, err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			reply, err := client.Apply(ctx, cameraName, changes, "cli")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range reply.Results {
				status := "ok"
				if r.Error != "" {
					status = r.Error
				}
				fmt.Fprintf(out, "%s: %s\n", r.Name, status)
			}
			if !reply.Applied {
				if reply.Error != "" {
					return errors.New(reply.Error)
				}
				return errors.New("changes rejected")
			}
			return nil
		},
	}
	setCmd.Flags().StringVar(&natsURL, "nats", "nats://127.0.0.1:4222", "NATS server URL")
	setCmd.Flags().StringVar(&cameraName, "camera", "zed_one", "Camera name")
	setCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Reply timeout")

	cmd.AddCommand(listCmd, validateCmd, setCmd)
	return cmd
}
