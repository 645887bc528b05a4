// Package all registers every emitter backend with emit.DefaultRegistry.
package all

import (
	_ "github.com/gofhir/codegen/pkg/emit/csharp"
	_ "github.com/gofhir/codegen/pkg/emit/info"
	_ "github.com/gofhir/codegen/pkg/emit/openapi"
	_ "github.com/gofhir/codegen/pkg/emit/typescript"
)
