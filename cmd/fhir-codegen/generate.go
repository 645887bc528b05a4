package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/config"
	"github.com/gofhir/codegen/pkg/emit"
	"github.com/gofhir/codegen/pkg/loader"
	"github.com/gofhir/codegen/pkg/logger"
	"github.com/gofhir/codegen/pkg/resolver"
	"github.com/gofhir/codegen/pkg/session"
)

// watchInterval is how often watch mode checks for an invalidated package.
const watchInterval = 250 * time.Millisecond

func (a *app) generateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Run emitters over the resolved packages",
		Flags: append(loadFlags(),
			&cli.StringSliceFlag{
				Name:    "emitter",
				Aliases: []string{"e"},
				Usage:   "emitter to run (repeatable, default: all registered)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output directory",
			},
			&cli.StringSliceFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "emit only these types and what they reference (repeatable)",
			},
			&cli.StringFlag{Name: "namespace", Usage: "namespace wrapping the emitted declarations"},
			&cli.StringFlag{Name: "format", Usage: "file layout: single, multi, json, yaml"},
			&cli.StringFlag{Name: "extensions", Usage: "extension support: none, official, full"},
			&cli.StringFlag{Name: "order", Usage: "type order: canonical, resource-first, element-first"},
			&cli.BoolFlag{Name: "no-comments", Usage: "omit documentation comments"},
			&cli.BoolFlag{Name: "verbose", Usage: "show informational diagnostics and stage timings"},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "regenerate whenever the primary package or its dependencies change in the cache",
			},
		),
		Action: a.generate,
	}
}

func (a *app) generate(ctx context.Context, c *cli.Command) error {
	f, err := a.project(c)
	if err != nil {
		return err
	}
	if err := applyEmitFlags(c, f); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	emitters, err := emittersFor(f.Emitters)
	if err != nil {
		return err
	}

	if c.Bool("watch") {
		return a.watch(ctx, c, f, emitters)
	}

	metrics := fc.NewMetrics()
	g, diags, err := a.load(ctx, c, f, metrics)
	if err != nil {
		return err
	}
	return a.export(ctx, c, f, g, diags, emitters, metrics)
}

// applyEmitFlags lets the command line override the project file.
func applyEmitFlags(c *cli.Command, f *config.File) error {
	if names := c.StringSlice("emitter"); len(names) > 0 {
		f.Emitters = names
	}
	if out := c.String("output"); out != "" {
		abs, err := filepath.Abs(out)
		if err != nil {
			return fmt.Errorf("output directory: %w", err)
		}
		f.Output = abs
	}
	if targets := c.StringSlice("target"); len(targets) > 0 {
		f.Emit.Targets = targets
	}
	if ns := c.String("namespace"); ns != "" {
		f.Emit.Namespace = ns
	}
	if format := c.String("format"); format != "" {
		f.Emit.FileFormat = emit.FileFormat(format)
	}
	if ext := c.String("extensions"); ext != "" {
		f.Emit.ExtensionSupport = emit.ExtensionSupport(ext)
	}
	if order := c.String("order"); order != "" {
		f.Emit.Order = emit.Order(order)
	}
	if c.Bool("no-comments") {
		f.Emit.IncludeComments = false
	}
	return nil
}

// emittersFor looks up the named emitters; no names selects all of them.
func emittersFor(names []string) ([]emit.Emitter, error) {
	if len(names) == 0 {
		names = emit.DefaultRegistry.Names()
	}
	out := make([]emit.Emitter, 0, len(names))
	for _, name := range names {
		e, err := emit.DefaultRegistry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("%w (available: %v)", err, emit.DefaultRegistry.Names())
		}
		out = append(out, e)
	}
	return out, nil
}

// export runs the emitters into the output directory, one subdirectory per
// emitter, and prints the diagnostics and a summary.
func (a *app) export(ctx context.Context, c *cli.Command, f *config.File, g *resolver.Graph, diags []fc.Diagnostic, emitters []emit.Emitter, metrics *fc.Metrics) error {
	start := time.Now()
	out := f.Path(f.Output)
	opts := f.Emit
	opts.Metrics = metrics

	emitted, err := emit.ExportAll(ctx, g, emitters, nil, emit.NewDirSink(out), opts)
	all := append(append([]fc.Diagnostic(nil), diags...), emitted...)
	fc.SortDiagnostics(all)
	verbose := c.Bool("verbose")
	a.report(all, verbose)
	if err != nil {
		return err
	}

	var errs, warnings int
	for _, d := range all {
		switch {
		case d.IsError():
			errs++
		case d.Severity == fc.SeverityWarning:
			warnings++
		}
	}
	snap := metrics.Snapshot()
	fmt.Fprintf(a.errOut, "Generated %d file(s) for FHIR %s into %s in %s (errors: %d, warnings: %d)\n",
		snap.FilesEmitted, g.Release(), out, time.Since(start).Round(time.Millisecond), errs, warnings)
	if verbose {
		for _, st := range snap.Stages {
			fmt.Fprintf(a.errOut, "  %-20s %6d  avg %s\n", st.Name, st.Invocations, st.AvgTime)
		}
	}
	return nil
}

// watch keeps the primary package loaded through a session and regenerates
// whenever the package cache reports a change, until ctx is done.
func (a *app) watch(ctx context.Context, c *cli.Command, f *config.File, emitters []emit.Emitter) error {
	log := logger.Component("cli")
	d := primaryDirective(f)
	metrics := fc.NewMetrics()
	m := session.NewManager(f.Options(),
		session.WithCacheDir(f.CacheDir(c.String("cache"))),
		session.WithMetrics(metrics),
	)
	defer m.Close()

	ready := make(chan struct{})
	watchErr := make(chan error, 1)
	go func() { watchErr <- m.Watch(ctx, ready) }()
	select {
	case <-ready:
	case err := <-watchErr:
		return err
	}
	fmt.Fprintf(a.errOut, "Watching %s (Ctrl-C to stop)\n", d)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		if m.StateForDirective(d) == session.StateUnknown {
			if _, err := m.RequestLoad(ctx, d); err != nil {
				return err
			}
			_, err := m.Wait(ctx, d)
			switch {
			case ctx.Err() != nil:
				return nil
			case err != nil:
				log.Warn().Err(err).Str("directive", d.String()).Msg("load failed")
				fmt.Fprintf(a.errOut, "Load of %s failed: %v\n", d, err)
			default:
				g, diags, err := m.Graph(d)
				if err == nil {
					err = a.export(ctx, c, f, g, diags, emitters, fc.NewMetrics())
				}
				if err != nil {
					fmt.Fprintf(a.errOut, "Generation failed: %v\n", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case <-ticker.C:
		}
	}
}

// primaryDirective returns the listed package named primary, or the core
// package of the configured release.
func primaryDirective(f *config.File) loader.Directive {
	primary := f.PrimaryPackage()
	for _, p := range f.Packages {
		if d := loader.ParseDirective(p); d.Name == primary {
			return d
		}
	}
	return loader.CoreEntry("", f.Version()).Directive
}
