// Package primitive knows the JSON representation and lexical form of the
// FHIR primitive types. The converter uses it to narrow values to a target
// primitive; emitters use it for schema types and patterns.
package primitive

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// JSONType is the JSON category of a value.
type JSONType int

const (
	JSONUnknown JSONType = iota
	JSONNull
	JSONBoolean
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

func (t JSONType) String() string {
	switch t {
	case JSONNull:
		return "null"
	case JSONBoolean:
		return "boolean"
	case JSONNumber:
		return "number"
	case JSONString:
		return "string"
	case JSONArray:
		return "array"
	case JSONObject:
		return "object"
	default:
		return "unknown"
	}
}

// ErrInvalid is wrapped by every Cast failure.
var ErrInvalid = errors.New("value does not fit primitive type")

// patterns holds the lexical form of each primitive (FHIR R4 regex
// extension values). The value must match the whole pattern.
var patterns = map[string]string{
	"boolean":      `true|false`,
	"integer":      `-?([0]|([1-9][0-9]*))`,
	"integer64":    `-?([0]|([1-9][0-9]*))`,
	"decimal":      `-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?`,
	"positiveInt":  `\+?[1-9][0-9]*`,
	"unsignedInt":  `[0]|([1-9][0-9]*)`,
	"string":       `[ \r\n\t\S]+`,
	"markdown":     `\s*(\S|\s)*`,
	"code":         `[^\s]+(\s[^\s]+)*`,
	"id":           `[A-Za-z0-9\-\.]{1,64}`,
	"uri":          `\S*`,
	"url":          `\S*`,
	"canonical":    `\S*`,
	"oid":          `urn:oid:[0-2](\.(0|[1-9][0-9]*))+`,
	"uuid":         `urn:uuid:[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`,
	"base64Binary": `(\s*([0-9a-zA-Z\+/=]){4}\s*)+`,
	"date":         `([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)(-(0[1-9]|1[0-2])(-(0[1-9]|[1-2][0-9]|3[0-1]))?)?`,
	"dateTime":     `([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)(-(0[1-9]|1[0-2])(-(0[1-9]|[1-2][0-9]|3[0-1])(T([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?(Z|(\+|-)((0[0-9]|1[0-3]):[0-5][0-9]|14:00)))?)?)?`,
	"instant":      `([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)-(0[1-9]|1[0-2])-(0[1-9]|[1-2][0-9]|3[0-1])T([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?(Z|(\+|-)((0[0-9]|1[0-3]):[0-5][0-9]|14:00))`,
	"time":         `([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?`,
	"xhtml":        `(?s).*`,
}

var (
	regexMu    sync.RWMutex
	regexCache = make(map[string]*regexp.Regexp)
)

// Names returns the known primitive type names.
func Names() []string {
	out := make([]string, 0, len(patterns))
	for name := range patterns {
		out = append(out, name)
	}
	return out
}

// IsPrimitive reports whether typeName is a known FHIR primitive.
func IsPrimitive(typeName string) bool {
	_, ok := patterns[typeName]
	return ok
}

// Pattern returns the lexical regular expression of typeName, unanchored,
// or "" for an unknown type.
func Pattern(typeName string) string {
	return patterns[typeName]
}

// Expected returns the JSON type a primitive is serialized as.
func Expected(typeName string) JSONType {
	switch typeName {
	case "boolean":
		return JSONBoolean
	case "integer", "decimal", "positiveInt", "unsignedInt":
		return JSONNumber
	default:
		// integer64 is a string in JSON, like every other primitive
		return JSONString
	}
}

// TypeOf returns the JSON type of a decoded value.
func TypeOf(value any) JSONType {
	if value == nil {
		return JSONNull
	}
	switch value.(type) {
	case bool:
		return JSONBoolean
	case float64, float32, int, int64, json.Number:
		return JSONNumber
	case string:
		return JSONString
	case []any:
		return JSONArray
	case map[string]any:
		return JSONObject
	default:
		return JSONUnknown
	}
}

// Match reports whether s is a lexically valid value of typeName. Unknown
// types match everything.
func Match(typeName, s string) bool {
	re := compiled(typeName)
	if re == nil {
		return true
	}
	return re.MatchString(s)
}

func compiled(typeName string) *regexp.Regexp {
	regexMu.RLock()
	re, ok := regexCache[typeName]
	regexMu.RUnlock()
	if ok {
		return re
	}

	pattern, known := patterns[typeName]
	if !known {
		return nil
	}
	// Anchored so the whole value must match.
	re = regexp.MustCompile("^(?:" + pattern + ")$")

	regexMu.Lock()
	regexCache[typeName] = re
	regexMu.Unlock()
	return re
}

// Cast converts value to the JSON representation of typeName: numbers for
// numeric types, bool for boolean and strings otherwise. Strings holding a
// number or boolean are converted, and numbers or booleans become strings
// for string-based types. The result must match the type's lexical form.
func Cast(value any, typeName string) (any, error) {
	if !IsPrimitive(typeName) {
		return nil, fmt.Errorf("%w: unknown primitive %q", ErrInvalid, typeName)
	}
	lexical, err := lexicalForm(value, typeName)
	if err != nil {
		return nil, err
	}
	if !Match(typeName, lexical) {
		return nil, fmt.Errorf("%w: %q is not a valid %s", ErrInvalid, truncate(lexical), typeName)
	}

	switch Expected(typeName) {
	case JSONBoolean:
		return lexical == "true", nil
	case JSONNumber:
		if typeName != "decimal" {
			n, err := strconv.ParseInt(strings.TrimPrefix(lexical, "+"), 10, 64)
			if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
				return nil, fmt.Errorf("%w: %s out of range for %s", ErrInvalid, truncate(lexical), typeName)
			}
			return json.Number(strconv.FormatInt(n, 10)), nil
		}
		return json.Number(lexical), nil
	default:
		return lexical, nil
	}
}

// lexicalForm renders value as the string that is matched against the
// type's pattern.
func lexicalForm(value any, typeName string) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("%w: null is not a valid %s", ErrInvalid, typeName)
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		return formatNumber(v.String(), typeName), nil
	case float64:
		if typeName != "decimal" && v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return "", fmt.Errorf("%w: %s value is not a valid %s", ErrInvalid, TypeOf(value), typeName)
}

// formatNumber turns a whole decimal ("3.0") into an integer literal for the
// integer types, so that narrowing decimal to integer keeps whole values.
func formatNumber(s, typeName string) string {
	switch typeName {
	case "integer", "positiveInt", "unsignedInt", "integer64":
		if whole, frac, ok := strings.Cut(s, "."); ok && strings.Trim(frac, "0") == "" {
			return whole
		}
	}
	return s
}

func truncate(value string) string {
	if len(value) > 50 {
		return value[:47] + "..."
	}
	return value
}
