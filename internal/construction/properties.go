package construction

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apperr"
	"github.com/ZanzyTHEbar/ontograph-libsql-go/internal/apptype"
)

const dateLayout = "2006-01-02"

// validateValue checks v against the declared data type of p and returns the
// normalized value to store.
func validateValue(p apptype.PropertyDef, v any) (any, error) {
	out, ok := coerce(p.DataType, v)
	if !ok {
		return nil, apperr.Validation("property_type:"+p.Name,
			"property %q expects %s, got %s", p.Name, describeType(p.DataType), describeValue(v))
	}
	return out, nil
}

func coerce(dt apptype.DataType, v any) (any, bool) {
	switch dt {
	case apptype.DataTypeString:
		s, ok := v.(string)
		s = strings.TrimSpace(s)
		return s, ok && s != ""

	case apptype.DataTypeInteger:
		switch x := v.(type) {
		case int:
			return int64(x), true
		case int32:
			return int64(x), true
		case int64:
			return x, true
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) || math.Abs(x) > 1<<53 {
				return nil, false
			}
			return int64(x), true
		case json.Number:
			n, err := x.Int64()
			return n, err == nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			return n, err == nil
		}

	case apptype.DataTypeNumber:
		var f float64
		switch x := v.(type) {
		case int:
			f = float64(x)
		case int64:
			f = float64(x)
		case float32:
			f = float64(x)
		case float64:
			f = x
		case json.Number:
			n, err := x.Float64()
			if err != nil {
				return nil, false
			}
			f = n
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, false
			}
			f = n
		default:
			return nil, false
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true

	case apptype.DataTypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "yes":
				return true, true
			case "false", "no":
				return false, true
			}
		}

	case apptype.DataTypeDate:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		s = strings.TrimSpace(s)
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, false
		}
		return s, true

	case apptype.DataTypeEmail:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		s = strings.TrimSpace(s)
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s || addr.Name != "" {
			return nil, false
		}
		return s, true
	}
	return nil, false
}

func describeType(dt apptype.DataType) string {
	switch dt {
	case apptype.DataTypeString:
		return "a non-empty string"
	case apptype.DataTypeInteger:
		return "an integer"
	case apptype.DataTypeNumber:
		return "a number"
	case apptype.DataTypeBoolean:
		return "a boolean"
	case apptype.DataTypeDate:
		return "a date (YYYY-MM-DD)"
	case apptype.DataTypeEmail:
		return "an email address"
	}
	return string(dt)
}

func describeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nothing"
	case string:
		if strings.TrimSpace(x) == "" {
			return "an empty string"
		}
		return strconv.Quote(x)
	}
	return fmt.Sprintf("%v (%T)", v, v)
}

// propertiesFromDescription picks "key: value" lines whose key names a
// property of the schema. Keys match case-insensitively with spaces or
// dashes standing in for underscores.
func propertiesFromDescription(desc string, schema []apptype.PropertyDef) map[string]string {
	names := make(map[string]string, len(schema))
	for _, p := range schema {
		names[normalizeKey(p.Name)] = p.Name
	}
	out := map[string]string{}
	for _, line := range strings.Split(desc, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, known := names[normalizeKey(key)]
		value = strings.TrimSpace(value)
		if !known || value == "" {
			continue
		}
		if _, seen := out[name]; !seen {
			out[name] = value
		}
	}
	return out
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.Trim(k, "-* \t")
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

// gatherProperties assembles the initial property map of a create_new
// candidate. Extracted values are validated opportunistically: bad or
// unknown ones are dropped and described in discarded. Reviewer values in
// supplied are validated strictly.
func gatherProperties(t apptype.EntityType, proposed map[string]any, desc string, supplied map[string]any) (props map[string]any, discarded []string, err error) {
	strict, err := validateSupplied(t, supplied)
	if err != nil {
		return nil, nil, err
	}

	props = map[string]any{}
	for _, name := range sortedKeys(proposed) {
		p, ok := t.Property(name)
		if !ok {
			discarded = append(discarded, fmt.Sprintf("%s: not a property of %s", name, t.Name))
			continue
		}
		v, err := validateValue(p, proposed[name])
		if err != nil {
			discarded = append(discarded, fmt.Sprintf("%s: %s", name, err.(*apperr.Error).Message))
			continue
		}
		props[name] = v
	}
	for name, raw := range propertiesFromDescription(desc, t.Properties) {
		if _, ok := props[name]; ok {
			continue
		}
		p, _ := t.Property(name)
		v, err := validateValue(p, raw)
		if err != nil {
			discarded = append(discarded, fmt.Sprintf("%s: %s", name, err.(*apperr.Error).Message))
			continue
		}
		props[name] = v
	}
	for name, v := range strict {
		props[name] = v
	}
	sort.Strings(discarded)
	return props, discarded, nil
}

// validateSupplied strictly validates reviewer supplied values.
func validateSupplied(t apptype.EntityType, supplied map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(supplied))
	for _, name := range sortedKeys(supplied) {
		p, ok := t.Property(name)
		if !ok {
			return nil, apperr.Validation("property:"+name, "entity type %s has no property %q", t.Name, name)
		}
		v, err := validateValue(p, supplied[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// missingRequired lists required properties absent from props, in schema order.
func missingRequired(t apptype.EntityType, props map[string]any) []string {
	var out []string
	for _, p := range t.Required() {
		if _, ok := props[p.Name]; !ok {
			out = append(out, p.Name)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
