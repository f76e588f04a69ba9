package governance

import (
	"fmt"
	"reflect"
	"sort"
	"unicode/utf8"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
	"github.com/Mindburn-Labs/failsafe/pkg/policypack"
)

// validateSchema checks data against fields. Per field the first of
// missing/type failures short-circuits; the remaining checks all run.
// Keys absent from the schema are reported once each, in sorted order.
func validateSchema(data map[string]any, fields []contracts.FieldContract) []contracts.PolicyViolation {
	var out []contracts.PolicyViolation
	declared := make(map[string]bool, len(fields))

	for i := range fields {
		f := &fields[i]
		declared[f.Name] = true

		value := data[f.Name]
		if value == nil {
			if f.Required {
				v := RuleRequiredFieldMissing.violation(fmt.Sprintf("Required field '%s' is missing", f.Name), f.Name)
				v.Expected, v.Actual = "present", "missing"
				out = append(out, v)
			}
			continue
		}

		if actual := typeName(value); !typeMatches(f.Type, value) {
			v := RuleTypeMismatch.violation(fmt.Sprintf("Field '%s' expected type '%s', got '%s'", f.Name, f.Type, actual), f.Name)
			v.Expected, v.Actual = string(f.Type), actual
			out = append(out, v)
			continue
		}

		if f.Pattern != "" {
			if s := stringify(value); !f.MatchPattern(s) {
				v := RulePatternMismatch.violation(fmt.Sprintf("Field '%s' does not match pattern '%s'", f.Name, f.Pattern), f.Name)
				v.Expected, v.Actual = f.Pattern, s
				out = append(out, v)
			}
		}

		if len(f.EnumValues) > 0 && !inEnum(value, f.EnumValues) {
			v := RuleInvalidEnumValue.violation(fmt.Sprintf("Field '%s' has invalid value '%v'. Allowed: %v", f.Name, value, f.EnumValues), f.Name)
			v.Expected, v.Actual = f.EnumValues, value
			out = append(out, v)
		}

		if n, ok := number(value); ok {
			if f.MinValue != nil && n < *f.MinValue {
				v := RuleBelowMinimum.violation(fmt.Sprintf("Field '%s' value %v is below minimum %v", f.Name, value, *f.MinValue), f.Name)
				v.Expected, v.Actual = fmt.Sprintf(">= %v", *f.MinValue), value
				out = append(out, v)
			}
			if f.MaxValue != nil && n > *f.MaxValue {
				v := RuleAboveMaximum.violation(fmt.Sprintf("Field '%s' value %v is above maximum %v", f.Name, value, *f.MaxValue), f.Name)
				v.Expected, v.Actual = fmt.Sprintf("<= %v", *f.MaxValue), value
				out = append(out, v)
			}
		}

		if s, ok := value.(string); ok && f.MaxLength != nil {
			if n := utf8.RuneCountInString(s); n > *f.MaxLength {
				v := RuleExceedsMaxLength.violation(fmt.Sprintf("Field '%s' length %d exceeds max %d", f.Name, n, *f.MaxLength), f.Name)
				v.Expected, v.Actual = *f.MaxLength, n
				out = append(out, v)
			}
		}
	}

	extra := make([]string, 0)
	for k := range data {
		if !declared[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, RuleUnexpectedField.violation(fmt.Sprintf("Unexpected field '%s' not defined in contract", k), k))
	}
	return out
}

// number accepts numeric kinds only; booleans and numeric strings are not numbers.
func number(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return policypack.ToFloat(v)
}

func typeMatches(t contracts.FieldType, v any) bool {
	switch t {
	case contracts.FieldString:
		_, ok := v.(string)
		return ok
	case contracts.FieldNumber:
		_, ok := number(v)
		return ok
	case contracts.FieldBoolean:
		_, ok := v.(bool)
		return ok
	case contracts.FieldObject:
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	case contracts.FieldArray:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return true
}

func typeName(v any) string {
	switch {
	case v == nil:
		return "null"
	case typeMatches(contracts.FieldString, v):
		return "string"
	case typeMatches(contracts.FieldBoolean, v):
		return "boolean"
	case typeMatches(contracts.FieldNumber, v):
		return "number"
	case typeMatches(contracts.FieldObject, v):
		return "object"
	case typeMatches(contracts.FieldArray, v):
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// inEnum compares numbers by value so 1 and 1.0 are the same member.
func inEnum(v any, allowed []any) bool {
	n, isNum := number(v)
	for _, a := range allowed {
		if isNum {
			if m, ok := number(a); ok && m == n {
				return true
			}
			continue
		}
		if reflect.DeepEqual(v, a) {
			return true
		}
	}
	return false
}

// DeclaredOnly returns the subset of data whose keys the contract declares
// for direction d. Callers that accumulate state across several hops use it
// to keep keys set by earlier hops from reporting as unexpected fields.
func DeclaredOnly(c *contracts.HandoffContract, d contracts.Direction, data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for _, f := range c.Schema(d) {
		if v, ok := data[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}
