package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "UNICEF", "unicef"},
		{"expands ampersand", "Care & Share", "care and share"},
		{"drops parentheticals", "Norwegian Refugee Council (NRC)", "norwegian refugee council"},
		{"keeps norwegian vowels", "Røde Kors", "røde kors"},
		{"keeps hyphens", "Øst-Europa Fondet", "øst-europa fondet"},
		{"strips punctuation", "Save the Children, Int'l.", "save the children int l"},
		{"collapses whitespace", "  Flyktninghjelpen   Norge ", "flyktninghjelpen norge"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizeRef(t *testing.T) {
	assert.Equal(t, "NO-BRC-971277882", NormalizeRef(" no-brc-971277882 "))
	assert.Equal(t, "XM-DAC-41122", NormalizeRef("xm-dac- 41122"))
	assert.Equal(t, "", NormalizeRef("   "))
}

func TestSlugKey(t *testing.T) {
	assert.Equal(t, "torbjorn-jagland", SlugKey("Torbjørn Jagland"))
	assert.Equal(t, "terje-rod-larsen", SlugKey("Terje Rød-Larsen"))
	assert.Equal(t, "borge-brende", SlugKey("Børge Brende"))
	assert.Equal(t, "naerings-og-fiskeridepartementet", SlugKey("Nærings- og fiskeridepartementet"))
	assert.Equal(t, "", SlugKey("--"))
}

func TestExternalRecipientKey(t *testing.T) {
	assert.Equal(t, "acme co", ExternalRecipientKey("Acme & Co."))
	assert.Equal(t, "røde kors", ExternalRecipientKey("Røde Kors"))
	assert.Equal(t, "al quds society", ExternalRecipientKey("Al-Quds Society"))
	assert.Equal(t, "unknown", ExternalRecipientKey("   "))
	assert.Equal(t, "unknown", ExternalRecipientKey("!!!"))
}

func TestCountryFromRef(t *testing.T) {
	no := CountryFromRef("NO-BRC-971277882")
	if assert.NotNil(t, no) {
		assert.Equal(t, "NO", *no)
	}

	gb := CountryFromRef("gb-chc-285776")
	if assert.NotNil(t, gb) {
		assert.Equal(t, "GB", *gb)
	}

	// Registrar prefixes are not countries.
	assert.Nil(t, CountryFromRef("XI-IATI-1002"))
	assert.Nil(t, CountryFromRef("XM-DAC-41122"))
	assert.Nil(t, CountryFromRef("41122"))
	assert.Nil(t, CountryFromRef(""))
}

func TestEventKey(t *testing.T) {
	a := EventKey([]string{"https://x/y.xml", "NO-1", "", "3", "2021-05-01"})
	b := EventKey([]string{"https://x/y.xml", "NO-1", "", "3", "2021-05-01"})
	c := EventKey([]string{"https://x/y.xml", "NO-1", "", "3", "2021-05-02"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	// Position matters: a trailing empty part changes the basis.
	assert.NotEqual(t, EventKey([]string{"a"}), EventKey([]string{"a", ""}))
}
