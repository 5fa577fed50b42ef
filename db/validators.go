package db

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// langTagRegex validates language tags of lang-string literals.
var langTagRegex = regexp.MustCompile(`^[a-zA-Z]{1,8}(-[a-zA-Z0-9]{1,8})*$`)

// millisLayout renders timestamps in ISO-8601 with millisecond precision.
const millisLayout = "2006-01-02T15:04:05.000"

// booleanStrings are string renderings accepted as boolean values,
// lowercased. Quoted forms appear in RDF literals carried through as raw
// strings.
var booleanStrings = map[string]bool{
	"true": true, `"true"`: true, "false": true, `"false"`: true,
	"0": true, "1": true, "0.0": true, "1.0": true, "-0": true, "-0.0": true,
}

// truthyStrings are the string renderings coerced to boolean true.
var truthyStrings = map[string]bool{
	"true": true, `"true"`: true, "1": true, "1.0": true,
}

// ValidateLanguageTag reports whether a language tag matches the accepted
// format.
func ValidateLanguageTag(language string) bool {
	return langTagRegex.MatchString(language)
}

// ValidateValue reports whether a value can be safely converted to the
// given search engine type. String and text fields accept everything;
// unknown destination types reject.
func ValidateValue(value any, esType string) bool {
	if value == nil {
		return false
	}
	switch esType {
	case TypeString, TypeText:
		return true
	case TypeBoolean:
		return validateBoolean(value)
	case TypeDouble:
		return validateDouble(value)
	case TypeLong:
		return validateLong(value)
	case TypeDate:
		return validateDate(value)
	case TypeGeoPoint:
		return validateGeoPoint(value)
	default:
		return false
	}
}

func validateBoolean(value any) bool {
	switch v := value.(type) {
	case bool:
		return true
	case string:
		return booleanStrings[strings.ToLower(v)]
	default:
		f, ok := numericValue(value)
		if !ok {
			return false
		}
		return f == 0 || f == 1
	}
}

func validateDouble(value any) bool {
	switch v := value.(type) {
	case bool, time.Time:
		return false
	case string:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	default:
		_, ok := numericValue(value)
		return ok
	}
}

func validateLong(value any) bool {
	switch value.(type) {
	case bool, time.Time:
		return false
	}
	f, ok := numericValue(value)
	if !ok {
		if s, isString := value.(string); isString {
			parsed, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return false
			}
			f = parsed
		} else {
			return false
		}
	}
	// The value must be integral and its magnitude representable in 63
	// bits, which excludes the most negative 64-bit integer.
	if f != math.Trunc(f) {
		return false
	}
	return f > math.MinInt64 && f < math.MaxInt64
}

func validateDate(value any) bool {
	switch v := value.(type) {
	case time.Time:
		return true
	case json.Number:
		// Integers convert to epoch milliseconds; floating literals reject.
		_, err := v.Int64()
		return err == nil
	case int, int64:
		return true
	case float64:
		return false
	case string:
		if isIntegralString(v) {
			return true
		}
		// A fractional numeric string is not a textual date.
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return false
		}
		_, err := dateparse.ParseAny(v)
		return err == nil
	default:
		return false
	}
}

func validateGeoPoint(value any) bool {
	raw, ok := value.(string)
	if !ok {
		return false
	}
	components := strings.Split(strings.ReplaceAll(raw, " ", ""), ",")
	if len(components) != 2 {
		return false
	}
	lat, err := strconv.ParseFloat(components[0], 64)
	if err != nil {
		return false
	}
	lon, err := strconv.ParseFloat(components[1], 64)
	if err != nil {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}

// ConvertToSearchValue transforms a predicate value to the representation
// stored for the given search engine type. Conversion mirrors the
// validators; a value that fails to convert is returned unchanged rather
// than raising, so a racing mapping change degrades to a string value
// instead of aborting the batch.
func ConvertToSearchValue(esType string, value any) any {
	switch esType {
	case TypeDouble:
		if f, ok := floatValue(value); ok {
			return f
		}
		return value
	case TypeLong:
		// Go through a float parse to accept renderings like "111.00".
		if f, ok := floatValue(value); ok {
			return int64(f)
		}
		return value
	case TypeDate:
		return convertDateValue(value)
	case TypeBoolean:
		if b, ok := value.(bool); ok {
			return b
		}
		return truthyStrings[strings.ToLower(Stringify(value))]
	default:
		return Stringify(value)
	}
}

// DateTimeFromMillis converts epoch milliseconds to an ISO-8601 string with
// millisecond precision.
func DateTimeFromMillis(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(millisLayout)
}

func convertDateValue(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.Format(millisLayout)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return DateTimeFromMillis(n)
		}
		return value
	case int:
		return DateTimeFromMillis(int64(v))
	case int64:
		return DateTimeFromMillis(v)
	case string:
		// Integral strings are epoch milliseconds.
		if isIntegralString(v) {
			f, _ := strconv.ParseFloat(v, 64)
			return DateTimeFromMillis(int64(f))
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return value
		}
		parsed, err := dateparse.ParseAny(v)
		if err != nil {
			return value
		}
		return parsed.Format(millisLayout)
	default:
		return value
	}
}

// Stringify renders a value the way it entered the stream: numbers keep
// their literal form, booleans lowercase.
func Stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// numericValue extracts a float64 from numeric value types, without
// accepting strings.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// floatValue extracts a float64 from numeric types or numeric strings.
func floatValue(value any) (float64, bool) {
	if f, ok := numericValue(value); ok {
		return f, true
	}
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// isIntegralString reports whether the string parses as a number with zero
// fractional part, e.g. "128" or "128.0".
func isIntegralString(s string) bool {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return f == math.Trunc(f)
}
