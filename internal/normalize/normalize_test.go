package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"formatted", "(205) 955-7605", "2059557605"},
		{"bare digits", "2059557605", "2059557605"},
		{"country code plus stray suffix", "12059557605x", "2059557605"},
		{"trailing stray digit", "20595576051", "2059557605"},
		{"country code", "+1 205 955 7605", "2059557605"},
		{"too short", "955-7605", ""},
		{"empty", "", ""},
		{"letters only", "n/a", ""},
		{"dots and spaces", "205.955.7605", "2059557605"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Phone(tt.raw))
		})
	}
}

func TestPhoneSameValueNormalizesIdentically(t *testing.T) {
	variants := []string{"(205) 955-7605", "2059557605", " 205-955-7605 ", "12059557605x"}
	for _, v := range variants {
		require.Equal(t, "2059557605", Phone(v), "variant %q", v)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "jones", Name("  Jones "))
	assert.Equal(t, "o'brien", Name("O'Brien"))
	assert.Equal(t, "", Name(""))
	assert.Equal(t, "", Name("   "))
}

func TestPreferredName(t *testing.T) {
	tests := []struct {
		raw       string
		first     string
		preferred string
	}{
		{`Patricia "Pat"`, "Patricia", "Pat"},
		{`Robert 'Bob'`, "Robert", "Bob"},
		{`Robert (Bob)`, "Robert", "Bob"},
		{`Robert`, "Robert", ""},
		{`Mary Anne`, "Mary Anne", ""},
		{`  William "Bill"  `, "William", "Bill"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			first, preferred := PreferredName(tt.raw)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.preferred, preferred)
		})
	}
}

func TestPreferredNameQuotePriority(t *testing.T) {
	// Double quotes win over parentheses when both are present.
	first, preferred := PreferredName(`Patricia "Pat" (Patty)`)
	assert.Equal(t, "Patricia", first)
	assert.Equal(t, "Pat", preferred)
}

func TestParseDate(t *testing.T) {
	want := time.Date(1957, 3, 14, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"1957-03-14", "03/14/1957", "3/14/1957", "March 14, 1957"} {
		got := ParseDate(raw)
		require.NotNil(t, got, "layout %q", raw)
		assert.True(t, want.Equal(*got), "layout %q", raw)
	}
	assert.Nil(t, ParseDate(""))
	assert.Nil(t, ParseDate("not a date"))
	assert.Nil(t, ParseDate("14/25/1957"))
}

func TestSplitFullName(t *testing.T) {
	tests := []struct {
		raw   string
		first string
		last  string
		ok    bool
	}{
		{"Jones, Patricia", "Patricia", "Jones", true},
		{"Patricia Jones", "Patricia", "Jones", true},
		{"Mary Anne Smith", "Mary Anne", "Smith", true},
		{"Cher", "", "Cher", true},
		{"", "", "", false},
		{"  Jones ,  Pat  ", "Pat", "Jones", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			first, last, ok := SplitFullName(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestHeaderKey(t *testing.T) {
	assert.Equal(t, "patient id", HeaderKey("Patient_ID"))
	assert.Equal(t, "patient id", HeaderKey("  patient  id "))
	assert.Equal(t, "mrn", HeaderKey("MRN"))
}
