package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
	"github.com/gofhir/codegen/pkg/resolver"
)

func (a *app) inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize the resolved packages, or show one resolved type",
		ArgsUsage: "[type]",
		Flags: append(loadFlags(),
			&cli.BoolFlag{Name: "dump", Usage: "dump the type's definition record"},
			&cli.IntFlag{Name: "depth", Usage: "maximum nesting of --dump", Value: 4},
		),
		Action: a.inspect,
	}
}

func (a *app) inspect(ctx context.Context, c *cli.Command) error {
	f, err := a.project(c)
	if err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	metrics := fc.NewMetrics()
	g, diags, err := a.load(ctx, c, f, metrics)
	if err != nil {
		return err
	}

	if c.NArg() == 0 {
		a.report(diags, false)
		return a.summary(g, metrics)
	}

	name := c.Args().First()
	t, ok := g.Lookup(name)
	if !ok {
		return fmt.Errorf("type %q not found in FHIR %s", name, g.Version())
	}
	for _, d := range diags {
		if d.Source == t.URL() {
			a.report([]fc.Diagnostic{d}, true)
		}
	}
	if c.Bool("dump") {
		cfg := spew.ConfigState{
			Indent:                  "  ",
			MaxDepth:                int(c.Int("depth")),
			DisablePointerAddresses: true,
			DisableCapacities:       true,
			SortKeys:                true,
		}
		cfg.Fdump(a.out, t.Record)
		return nil
	}
	return a.describe(g, t)
}

// summary prints the number of types per kind and the load counters.
func (a *app) summary(g *resolver.Graph, metrics *fc.Metrics) error {
	snap := metrics.Snapshot()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "FHIR %s (%s)\n\n", g.Release(), g.Version())
	for _, k := range []definition.Kind{
		definition.KindPrimitive, definition.KindComplex, definition.KindResource,
		definition.KindLogical, definition.KindExtension,
	} {
		fmt.Fprintf(tw, "%s\t%d\n", k, len(g.TypesOfKind(k)))
	}
	fmt.Fprintf(tw, "value-set\t%d\n", len(g.Collection.ValueSets()))
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "documents\t%d\n", snap.DocumentsParsed)
	fmt.Fprintf(tw, "parse failures\t%d\n", snap.ParseFailures)
	fmt.Fprintf(tw, "overrides\t%d\n", snap.Overrides)
	fmt.Fprintf(tw, "errors\t%d\n", snap.ErrorsTotal)
	fmt.Fprintf(tw, "warnings\t%d\n", snap.WarningsTotal)
	return tw.Flush()
}

// describe prints a type's inheritance chain and its elements.
func (a *app) describe(g *resolver.Graph, t *resolver.Type) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s)\n", t.Name(), t.Kind())
	fmt.Fprintf(tw, "url\t%s\n", t.URL())

	chain := make([]string, 0, len(t.Chain))
	for _, r := range t.Chain {
		if rec := g.Record(r); rec != nil {
			chain = append(chain, rec.Name)
		} else {
			chain = append(chain, r.URL)
		}
	}
	if t.Failed {
		chain = append(chain, "(broken)")
	}
	fmt.Fprintf(tw, "chain\t%s\n", strings.Join(chain, " -> "))
	if deps := t.Dependencies(); len(deps) > 0 {
		fmt.Fprintf(tw, "uses\t%s\n", strings.Join(deps, ", "))
	}
	fmt.Fprintln(tw)

	for _, e := range t.Elements {
		types := make([]string, 0, len(e.Types))
		for _, tr := range e.Types {
			s := tr.Name()
			if !tr.Ref.Resolved() {
				s += "?"
			}
			types = append(types, s)
		}
		binding := ""
		if e.Binding != nil {
			binding = fmt.Sprintf("%s %s", e.Binding.Strength, e.Binding.ValueSet)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Path, e.Cardinality, strings.Join(types, "|"), binding)
	}
	return tw.Flush()
}
