package iati

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstandal/NorConnect/internal/fetcher"
)

const sampleActivityXML = `<?xml version="1.0" encoding="UTF-8"?>
<iati-activities version="2.03">
  <iati-activity default-currency="NOK">
    <iati-identifier>NO-GOV-1-QZA-2021</iati-identifier>
    <title><narrative>Humanitarian support  Gaza</narrative></title>
    <reporting-org ref="NO-GOV-1" type="10"><narrative>Norad</narrative></reporting-org>
    <recipient-country code="ps"/>
    <participating-org role="4" ref="NO-BRC-971277882"><narrative>Flyktninghjelpen</narrative></participating-org>
    <transaction ref="tx-1">
      <transaction-type code="3"/>
      <transaction-date iso-date="2021-05-01"/>
      <value currency="USD" value-date="2021-05-03">125000.50</value>
      <receiver-org ref="XM-DAC-41122"><narrative>UNICEF</narrative></receiver-org>
      <provider-org ref="NO-GOV-1"><narrative>Norad</narrative></provider-org>
    </transaction>
    <transaction>
      <transaction-type code="2"/>
      <transaction-date iso-date="2021-06-15T00:00:00Z"/>
      <value>98000</value>
    </transaction>
    <transaction>
      <transaction-type code="3"/>
      <value>not-a-number</value>
    </transaction>
  </iati-activity>
</iati-activities>`

func decodeSampleActivity(t *testing.T, raw string) *Activity {
	t.Helper()
	var activities []Activity
	err := fetcher.StreamXML(strings.NewReader(raw), "iati-activity", func(a *Activity) error {
		activities = append(activities, *a)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	return &activities[0]
}

func testMeta() ResourceMeta {
	return ResourceMeta{
		RegistryQuery:   "publisher_iati_id:NO-GOV-1",
		PackageName:     "norad-activities",
		PackageURL:      "https://iatiregistry.org/dataset/norad-activities",
		PublisherIATIID: "NO-GOV-1",
		ResourceURL:     "https://x/norad.xml",
	}
}

func TestExtractTransactions_ExplicitFields(t *testing.T) {
	a := decodeSampleActivity(t, sampleActivityXML)
	rows := ExtractTransactions(a, testMeta())
	require.Len(t, rows, 2) // the unparseable amount is dropped

	tx := rows[0]
	assert.Equal(t, "NO-GOV-1-QZA-2021", tx.ActivityIATIIdentifier)
	assert.Equal(t, "Humanitarian support Gaza", *tx.ActivityTitle)
	assert.Equal(t, "PS", *tx.RecipientCountryCode)
	assert.Equal(t, "tx-1", *tx.TransactionRef)
	assert.Equal(t, "3", *tx.TransactionTypeCode)
	assert.Equal(t, 125000.50, tx.ValueAmount)
	assert.Equal(t, "USD", *tx.ValueCurrency)
	assert.Equal(t, "2021-05-01", tx.TransactionDate.Format("2006-01-02"))
	// value-date wins over transaction-date.
	assert.Equal(t, "2021-05-03", tx.ValueDate.Format("2006-01-02"))
	assert.Equal(t, "XM-DAC-41122", *tx.ReceiverOrgRef)
	assert.Equal(t, "UNICEF", *tx.ReceiverOrgName)
	assert.Equal(t, "https://x/norad.xml", tx.ResourceURL)
	assert.Len(t, tx.EventKey, 64)
}

func TestExtractTransactions_Fallbacks(t *testing.T) {
	a := decodeSampleActivity(t, sampleActivityXML)
	rows := ExtractTransactions(a, testMeta())
	require.Len(t, rows, 2)

	tx := rows[1]
	// No receiver-org: the implementing participating-org steps in.
	assert.Equal(t, "NO-BRC-971277882", *tx.ReceiverOrgRef)
	assert.Equal(t, "Flyktninghjelpen", *tx.ReceiverOrgName)
	// No provider-org: the reporting-org steps in.
	assert.Equal(t, "NO-GOV-1", *tx.ProviderOrgRef)
	assert.Equal(t, "Norad", *tx.ProviderOrgName)
	// No value currency: activity default-currency applies.
	assert.Equal(t, "NOK", *tx.ValueCurrency)
	// No value-date: transaction-date applies, time component tolerated.
	assert.Equal(t, "2021-06-15", tx.ValueDate.Format("2006-01-02"))
	assert.Equal(t, 98000.0, tx.ValueAmount)
}

func TestExtractTransactions_EventKeyStable(t *testing.T) {
	a := decodeSampleActivity(t, sampleActivityXML)
	first := ExtractTransactions(a, testMeta())
	second := ExtractTransactions(a, testMeta())
	require.Len(t, first, 2)
	assert.Equal(t, first[0].EventKey, second[0].EventKey)
	assert.NotEqual(t, first[0].EventKey, first[1].EventKey)

	// A different resource URL changes the key.
	other := testMeta()
	other.ResourceURL = "https://x/other.xml"
	moved := ExtractTransactions(a, other)
	assert.NotEqual(t, first[0].EventKey, moved[0].EventKey)
}

func TestExtractTransactions_NoIdentifier(t *testing.T) {
	raw := `<iati-activities><iati-activity>
		<transaction><value>100</value></transaction>
	</iati-activity></iati-activities>`
	a := decodeSampleActivity(t, raw)
	assert.Empty(t, ExtractTransactions(a, testMeta()))
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "NOK", normalizeCurrency(" nok "))
	assert.Equal(t, "", normalizeCurrency("NOKK"))
	assert.Equal(t, "", normalizeCurrency(""))
}

func TestParseISODate(t *testing.T) {
	d := parseISODate("2021-05-01T12:00:00Z")
	require.NotNil(t, d)
	assert.Equal(t, "2021-05-01", d.Format("2006-01-02"))
	assert.Nil(t, parseISODate("not-a-date"))
	assert.Nil(t, parseISODate(""))
}
