package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateBoolean(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{name: "NativeBool", value: true, valid: true},
		{name: "TrueString", value: "TRUE", valid: true},
		{name: "QuotedTrue", value: `"true"`, valid: true},
		{name: "FalseMixedCase", value: "FaLsE", valid: true},
		{name: "ZeroString", value: "0", valid: true},
		{name: "OneDotZeroString", value: "1.0", valid: true},
		{name: "NegativeZero", value: "-0.0", valid: true},
		{name: "ZeroNumber", value: json.Number("0"), valid: true},
		{name: "OneFloatNumber", value: json.Number("1.0"), valid: true},
		{name: "OtherNumber", value: json.Number("123"), valid: false},
		{name: "ArbitraryString", value: "abc", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateValue(tt.value, TypeBoolean))
		})
	}
}

func TestValidateDouble(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{name: "Integer", value: json.Number("123"), valid: true},
		{name: "Float", value: json.Number("12.3"), valid: true},
		{name: "IntegerString", value: "111", valid: true},
		{name: "FloatString", value: "11.1", valid: true},
		{name: "ArbitraryString", value: "abc", valid: false},
		{name: "Bool", value: true, valid: false},
		{name: "Date", value: time.Now(), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateValue(tt.value, TypeDouble))
		})
	}
}

func TestValidateLong(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{name: "Integer", value: json.Number("123"), valid: true},
		{name: "Fractional", value: json.Number("12.3"), valid: false},
		{name: "IntegralFloat", value: json.Number("11.0"), valid: true},
		{name: "IntegerString", value: "111", valid: true},
		{name: "IntegralFloatString", value: "111.00", valid: true},
		{name: "FractionalString", value: "11.1", valid: false},
		{name: "MostNegativeLong", value: "-9223372036854775808", valid: false},
		{name: "ArbitraryString", value: "abc", valid: false},
		{name: "Bool", value: true, valid: false},
		{name: "Date", value: time.Now(), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateValue(tt.value, TypeLong))
		})
	}
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{name: "Time", value: time.Now(), valid: true},
		{name: "EpochMillis", value: json.Number("1700000000000"), valid: true},
		{name: "FloatNumber", value: json.Number("12.45"), valid: false},
		{name: "ISODate", value: "2016-01-01", valid: true},
		{name: "ISODateTime", value: "2003-09-25T10:49:41", valid: true},
		{name: "SlashDate", value: "2003/09/25", valid: true},
		{name: "EpochString", value: "1700000000000", valid: true},
		{name: "Garbage", value: "abcdef", valid: false},
		{name: "Bool", value: true, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateValue(tt.value, TypeDate))
		})
	}
}

func TestValidateGeoPoint(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{name: "Valid", value: "45.5,-122.6", valid: true},
		{name: "ValidWithSpace", value: "45.5, -122.6", valid: true},
		{name: "LatitudeOutOfRange", value: "91,0", valid: false},
		{name: "LongitudeOutOfRange", value: "0,181", valid: false},
		{name: "SingleComponent", value: "45.5", valid: false},
		{name: "NotNumeric", value: "a,b", valid: false},
		{name: "NotString", value: json.Number("1"), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateValue(tt.value, TypeGeoPoint))
		})
	}
}

func TestValidateStringAlwaysAccepts(t *testing.T) {
	assert.True(t, ValidateValue("anything", TypeString))
	assert.True(t, ValidateValue(json.Number("5"), TypeText))
	assert.False(t, ValidateValue(nil, TypeString))
	assert.False(t, ValidateValue("x", "unknown"))
}

func TestValidateLanguageTag(t *testing.T) {
	assert.True(t, ValidateLanguageTag("es"))
	assert.True(t, ValidateLanguageTag("en-US"))
	assert.True(t, ValidateLanguageTag("zh-Hant-TW"))
	assert.False(t, ValidateLanguageTag("!!invalid"))
	assert.False(t, ValidateLanguageTag("toolonglanguage"))
	assert.False(t, ValidateLanguageTag(""))
}

func TestConvertToSearchValue(t *testing.T) {
	assert.Equal(t, int64(111), ConvertToSearchValue(TypeLong, "111.00"))
	assert.Equal(t, 1.5, ConvertToSearchValue(TypeDouble, "1.5"))
	assert.Equal(t, 42.0, ConvertToSearchValue(TypeDouble, json.Number("42")))
	assert.Equal(t, true, ConvertToSearchValue(TypeBoolean, "TRUE"))
	assert.Equal(t, true, ConvertToSearchValue(TypeBoolean, json.Number("1.0")))
	assert.Equal(t, false, ConvertToSearchValue(TypeBoolean, "yes"))
	assert.Equal(t, "5", ConvertToSearchValue(TypeString, json.Number("5")))

	// Epoch milliseconds render as ISO-8601 with millisecond precision.
	assert.Equal(t, "1970-01-01T00:00:00.000", ConvertToSearchValue(TypeDate, json.Number("0")))
	assert.Equal(t, "1970-01-01T00:00:01.500", ConvertToSearchValue(TypeDate, "1500"))

	// Unparseable values fall back to the original rather than raising.
	assert.Equal(t, "123.45", ConvertToSearchValue(TypeDate, "123.45"))
}

func TestSearchTypeForSourceType(t *testing.T) {
	tests := []struct {
		source   string
		expected string
	}{
		{source: "int", expected: TypeLong},
		{source: "unsignedShort", expected: TypeLong},
		{source: "decimal", expected: TypeDouble},
		{source: "dateTime", expected: TypeDate},
		{source: "bool", expected: TypeBoolean},
		{source: "time", expected: TypeString},
		{source: "", expected: TypeString},
		{source: "mystery", expected: TypeString},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SearchTypeForSourceType(tt.source), "source type %q", tt.source)
	}
}
