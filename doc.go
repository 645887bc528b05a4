// Package fhircodegen generates source code from FHIR conformance packages.
//
// The pipeline loads versioned definition packages (StructureDefinitions and
// ValueSets), normalizes them into a queryable collection, resolves type
// references and inheritance into a graph, and drives pluggable per-language
// emitters off that graph with byte-identical output across runs.
//
// # Quick Start
//
//	import (
//	    fc "github.com/gofhir/codegen"
//	    "github.com/gofhir/codegen/pkg/emit"
//	    _ "github.com/gofhir/codegen/pkg/emit/all"
//	    "github.com/gofhir/codegen/pkg/loader"
//	    "github.com/gofhir/codegen/pkg/resolver"
//	)
//
//	opts := fc.NewOptions(fc.WithParseMode(fc.ParseModeStream))
//	l := loader.New(opts)
//	res, err := l.LoadPackages(ctx, "hl7.fhir.r4.core", entries)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	graph, diags := resolver.Resolve(ctx, res.Collection, opts)
//
//	e, _ := emit.DefaultRegistry.Get("typescript")
//	_, err = e.Export(ctx, graph, emit.AllTypes(graph), emit.NewDirSink("out"), emit.DefaultOptions())
//
// # Components
//
//   - pkg/loader: package sources, the object and stream parse pipelines
//   - pkg/definition: the definition collection with override policies
//   - pkg/resolver: type references, inheritance chains, bindings
//   - pkg/convert: mapping-table driven cross-version conversion
//   - pkg/emit: emitter contract, registry, naming, sinks and backends
//   - pkg/diff: structural comparison of two collections
//   - pkg/session: load-state tracking for long-running sessions
//   - pkg/config: the YAML project file
//   - cmd/fhir-codegen: the command line (generate, diff, convert, inspect)
//
// # Diagnostics
//
// Expected conditions (an unresolved reference, an unparsable document, a
// dropped element) are returned as Diagnostic values next to a best-effort
// result. Only unreadable input and invalid configuration are errors.
package fhircodegen
