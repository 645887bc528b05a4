package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/convert"
)

func (a *app) convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a FHIR JSON instance to another release",
		ArgsUsage: "<file|->",
		Flags: append(loadFlags(),
			&cli.StringFlag{
				Name:    "mapping",
				Aliases: []string{"m"},
				Usage:   "mapping table (YAML); defaults to the project file's mapping",
			},
			&cli.StringFlag{Name: "from", Usage: "source release (default: the table's)"},
			&cli.StringFlag{Name: "to", Usage: "target release (default: the table's)"},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write the converted instance to this file instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "keep-invalid",
				Usage: "keep values that do not narrow to the target primitive instead of dropping them",
			},
		),
		Action: a.convert,
	}
}

func (a *app) convert(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return errors.New("convert needs one instance file, or - for stdin")
	}
	f, err := a.project(c)
	if err != nil {
		return err
	}
	if m := c.String("mapping"); m != "" {
		f.Mapping = m
	}
	if f.Mapping == "" {
		return errors.New("no mapping table: pass --mapping or set mapping in the project file")
	}
	table, err := f.Table()
	if err != nil {
		return err
	}

	from, to := table.Versions()
	if v := c.String("from"); v != "" {
		if from, err = parseVersion(v); err != nil {
			return err
		}
	}
	if v := c.String("to"); v != "" {
		if to, err = parseVersion(v); err != nil {
			return err
		}
	}

	opts := []convert.Option{convert.WithTable(table)}
	// Packages are optional; with them nested types are found through the
	// source release graph.
	if len(f.Packages) > 0 {
		g, diags, err := a.load(ctx, c, f, nil)
		if err != nil {
			return err
		}
		a.report(fc.Filter(diags, fc.KindParseFailure), false)
		opts = append(opts, convert.WithGraph(g))
	}
	if c.Bool("keep-invalid") {
		opts = append(opts, convert.WithFallback(func(_ string, value any, _ string, _ error) (any, error) {
			return value, nil
		}))
	}

	data, err := readInput(c.Args().First())
	if err != nil {
		return err
	}
	node, err := convert.ParseNode(data)
	if err != nil {
		return err
	}

	out, diags, convErr := convert.New(opts...).Convert(ctx, node, from, to)
	a.report(diags, false)
	var partial *convert.ConversionError
	if convErr != nil && !errors.As(convErr, &partial) {
		return convErr
	}

	raw, err := out.MarshalJSON()
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')

	if path := c.String("output"); path != "" {
		if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	} else if _, err := a.out.Write(pretty.Bytes()); err != nil {
		return err
	}
	// A partial conversion is written, then reported as a failure.
	return convErr
}

func parseVersion(s string) (fc.FHIRVersion, error) {
	v, ok := fc.ParseVersion(s)
	if !ok {
		return "", fmt.Errorf("unsupported FHIR version %q", s)
	}
	return v, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
