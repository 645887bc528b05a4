package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/config"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/pkg/logger"
	"github.com/gofhir/codegen/pkg/resolver"
)

// app carries what the commands share.
type app struct {
	out    io.Writer
	errOut io.Writer
}

func newApp(out, errOut io.Writer) *cli.Command {
	a := &app{out: out, errOut: errOut}
	return &cli.Command{
		Name:      "fhir-codegen",
		Usage:     "Generate source code and schemas from FHIR conformance packages",
		Version:   build(),
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:    "cache",
				Usage:   "FHIR package cache directory (default ~/.fhir/packages)",
				Sources: cli.EnvVars("FHIR_PACKAGE_CACHE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "project file (YAML)",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := logger.SetLevel(c.String("log-level")); err != nil {
				return ctx, fmt.Errorf("failed to parse log level: %w", err)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			a.generateCommand(),
			a.diffCommand(),
			a.convertCommand(),
			a.inspectCommand(),
			{
				Name:  "emitters",
				Usage: "List the available emitters",
				Action: func(ctx context.Context, c *cli.Command) error {
					for _, name := range emit.DefaultRegistry.Names() {
						fmt.Fprintln(a.out, name)
					}
					return nil
				},
			},
		},
	}
}

// loadFlags are accepted by every command that loads packages.
func loadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "package",
			Aliases: []string{"p"},
			Usage:   "package to load as name#version, in override order (repeatable)",
		},
		&cli.StringFlag{
			Name:  "fhir-version",
			Usage: "FHIR release (R3, R4, R4B, R5)",
		},
		&cli.StringFlag{
			Name:  "parse-mode",
			Usage: "document parse pipeline: object or stream",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "abort the load on any document parse failure",
		},
	}
}

// project loads the --config file, or the defaults, and applies the load
// flags on top.
func (a *app) project(c *cli.Command) (*config.File, error) {
	var (
		f   *config.File
		err error
	)
	if path := c.String("config"); path != "" {
		f, err = config.Load(path)
	} else {
		f, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if pkgs := c.StringSlice("package"); len(pkgs) > 0 {
		f.Packages = pkgs
		f.Primary = ""
	}
	if v := c.String("fhir-version"); v != "" {
		f.FHIRVersion = v
	}
	if m := c.String("parse-mode"); m != "" {
		f.Load.ParseMode = fc.ParseMode(m)
	}
	if c.IsSet("strict") {
		strict := c.Bool("strict")
		f.Load.Strict = &strict
	}
	return f, nil
}

// load reads the project's packages and resolves them. The returned
// diagnostics merge load failures and resolution problems.
func (a *app) load(ctx context.Context, c *cli.Command, f *config.File, metrics *fc.Metrics) (*resolver.Graph, []fc.Diagnostic, error) {
	opts := f.Options()
	l := loader.New(opts)
	l.SetMetrics(metrics)

	res, err := l.LoadPackages(ctx, f.PrimaryPackage(), f.Entries(f.CacheDir(c.String("cache"))))
	if err != nil {
		return nil, nil, err
	}
	g, diags := resolver.Resolve(ctx, res.Collection, opts)
	if g == nil {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		return nil, nil, errors.New("resolution aborted")
	}
	all := append(res.Diagnostics(), diags...)
	fc.SortDiagnostics(all)
	metrics.RecordDiagnostics(all)
	return g, all, nil
}

// report writes diagnostics to the error stream. Information is shown
// only with verbose.
func (a *app) report(diags []fc.Diagnostic, verbose bool) {
	for _, d := range diags {
		if d.Severity == fc.SeverityInformation && !verbose {
			continue
		}
		where := ""
		switch {
		case d.Source != "" && d.Path != "":
			where = fmt.Sprintf(" @ %s %s", d.Source, d.Path)
		case d.Source != "":
			where = " @ " + d.Source
		}
		fmt.Fprintf(a.errOut, "  %s [%s] %s%s\n", severityLabel(d.Severity), d.Kind, d.Message, where)
	}
}

func severityLabel(s fc.Severity) string {
	switch s {
	case fc.SeverityFatal:
		return "FATAL"
	case fc.SeverityError:
		return "ERROR"
	case fc.SeverityWarning:
		return "WARN "
	case fc.SeverityInformation:
		return "INFO "
	default:
		return "     "
	}
}
