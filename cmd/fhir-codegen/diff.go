package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/diff"
	"github.com/gofhir/codegen/pkg/loader"
)

// errDifferences makes diff --exit-code fail when the packages differ.
var errDifferences = errors.New("packages differ")

func (a *app) diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare the definitions of two packages",
		ArgsUsage: "<from> <to>",
		Description: "Each side is a package directive (name#version) read from the cache,\n" +
			"a package directory or a .tgz file.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "report format: text, json, yaml",
				Value: "text",
			},
			&cli.StringSliceFlag{
				Name:  "class",
				Usage: "report only these classes (added, removed, narrowed, widened, retyped, binding-changed)",
			},
			&cli.BoolFlag{
				Name:  "exit-code",
				Usage: "exit with status 1 when there are differences",
			},
		},
		Action: a.diff,
	}
}

// diffReport is the machine readable diff output.
type diffReport struct {
	From    string             `json:"from" yaml:"from"`
	To      string             `json:"to" yaml:"to"`
	Summary map[diff.Class]int `json:"summary" yaml:"summary"`
	Entries []diff.Entry       `json:"entries" yaml:"entries"`
}

func (a *app) diff(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("diff needs two packages, got %d", c.NArg())
	}
	cacheDir := c.String("cache")
	if cacheDir == "" {
		cacheDir = loader.DefaultPackagePath()
	}

	l := loader.New(fc.DefaultOptions())
	var sides [2]*loader.Result
	for i, arg := range c.Args().Slice() {
		e, err := entryFor(arg, cacheDir)
		if err != nil {
			return err
		}
		res, err := l.LoadPackages(ctx, e.Directive.Name, []loader.Entry{e})
		if err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		a.report(res.Diagnostics(), false)
		sides[i] = res
	}

	res := diff.Compare(sides[0].Collection, sides[1].Collection)
	if classes := c.StringSlice("class"); len(classes) > 0 {
		filtered := &diff.Result{From: res.From, To: res.To}
		for _, class := range classes {
			filtered.Entries = append(filtered.Entries, res.Filter(diff.Class(class))...)
		}
		res = filtered
	}

	if err := a.writeDiff(res, c.String("format")); err != nil {
		return err
	}
	if c.Bool("exit-code") && !res.Empty() {
		return errDifferences
	}
	return nil
}

func (a *app) writeDiff(res *diff.Result, format string) error {
	report := diffReport{From: res.From, To: res.To, Summary: res.Summary(), Entries: res.Entries}
	switch format {
	case "text", "":
		return res.WriteText(a.out)
	case "json":
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// entryFor maps a command line package argument to a loader entry: a .tgz
// file, a package directory, or a directive in the cache.
func entryFor(arg, cacheDir string) (loader.Entry, error) {
	if strings.HasSuffix(arg, ".tgz") {
		name := strings.TrimSuffix(filepath.Base(arg), ".tgz")
		return loader.Entry{Directive: loader.Directive{Name: name}, Source: loader.TgzSource{Path: arg}}, nil
	}
	if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
		src := loader.DirSource{Path: arg}
		d := loader.Directive{Name: filepath.Base(arg)}
		if data, err := os.ReadFile(filepath.Join(src.ContentDir(), loader.ManifestName)); err == nil {
			m, err := loader.ParseManifest(data)
			if err != nil {
				return loader.Entry{}, fmt.Errorf("%s: %w", arg, err)
			}
			d = m.Directive()
		}
		return loader.Entry{Directive: d, Source: src}, nil
	}
	d := loader.ParseDirective(arg)
	if d.Name == "" || d.Version == "" {
		return loader.Entry{}, fmt.Errorf("%q is neither a package path nor name#version", arg)
	}
	return loader.Entry{Directive: d, Source: loader.CacheSource(cacheDir, d)}, nil
}
