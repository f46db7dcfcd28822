package iati

import (
	"strings"
	"time"
)

// Activity mirrors the subset of an <iati-activity> element the harvester
// extracts. Decoded with fetcher.StreamXML.
type Activity struct {
	DefaultCurrency  string        `xml:"default-currency,attr"`
	Identifier       string        `xml:"iati-identifier"`
	Title            *Narrated     `xml:"title"`
	ReportingOrg     *OrgNode      `xml:"reporting-org"`
	RecipientCountry *CodedElement `xml:"recipient-country"`
	Participating    []OrgNode     `xml:"participating-org"`
	Transactions     []Transaction `xml:"transaction"`
}

// Narrated is an element whose text lives either in <narrative> children or
// directly in the element body.
type Narrated struct {
	Narratives []string `xml:"narrative"`
	Text       string   `xml:",chardata"`
}

// OrgNode is a reporting-org, participating-org, receiver-org, or
// provider-org element.
type OrgNode struct {
	Ref        string   `xml:"ref,attr"`
	Role       string   `xml:"role,attr"`
	Narratives []string `xml:"narrative"`
	Text       string   `xml:",chardata"`
}

// CodedElement is an element identified by a code attribute.
type CodedElement struct {
	Code string `xml:"code,attr"`
}

// Transaction is one <transaction> element.
type Transaction struct {
	Ref      string        `xml:"ref,attr"`
	Type     *CodedElement `xml:"transaction-type"`
	Date     *DatedElement `xml:"transaction-date"`
	Value    *Value        `xml:"value"`
	Receiver *OrgNode      `xml:"receiver-org"`
	Provider *OrgNode      `xml:"provider-org"`
}

// DatedElement is an element identified by an iso-date attribute.
type DatedElement struct {
	ISODate string `xml:"iso-date,attr"`
}

// Value is a transaction <value> element; the amount is the element body.
type Value struct {
	Currency  string `xml:"currency,attr"`
	ValueDate string `xml:"value-date,attr"`
	Amount    string `xml:",chardata"`
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// narratedText prefers the first non-empty narrative, then the element body.
func narratedText(narratives []string, body string) string {
	for _, n := range narratives {
		if t := collapseSpace(n); t != "" {
			return t
		}
	}
	return collapseSpace(body)
}

// Name returns the display name of an org element.
func (o *OrgNode) Name() string {
	if o == nil {
		return ""
	}
	return narratedText(o.Narratives, o.Text)
}

// TitleText returns the activity title.
func (a *Activity) TitleText() string {
	if a.Title == nil {
		return ""
	}
	return narratedText(a.Title.Narratives, a.Title.Text)
}

// parseISODate accepts an ISO date, tolerating a trailing time component.
func parseISODate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// normalizeCurrency uppercases a currency code and rejects anything that is
// not three letters.
func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return ""
	}
	return code
}
