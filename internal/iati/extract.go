package iati

import (
	"strconv"
	"strings"
	"time"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

// ExtractTransactions flattens one activity into staging rows. Transactions
// without a parseable amount are dropped. Receiver falls back to the
// participating org with the implementing role, provider to the reporting
// org, and currency to the activity default. The event key fingerprints the
// resource URL plus every identity-bearing field of the transaction.
func ExtractTransactions(a *Activity, meta ResourceMeta) []model.IATITransaction {
	identifier := collapseSpace(a.Identifier)
	if identifier == "" {
		return nil
	}

	title := a.TitleText()
	reportingRef := strings.TrimSpace(a.ReportingOrg.refOrEmpty())
	reportingName := a.ReportingOrg.Name()

	countryCode := ""
	if a.RecipientCountry != nil {
		code := strings.ToUpper(strings.TrimSpace(a.RecipientCountry.Code))
		if len(code) == 2 {
			countryCode = code
		}
	}

	// Implementing partner (role 4) backs up transactions without an
	// explicit receiver.
	var fallbackReceiver *OrgNode
	for i := range a.Participating {
		org := &a.Participating[i]
		if strings.TrimSpace(org.Role) != "4" {
			continue
		}
		if strings.TrimSpace(org.Ref) != "" || org.Name() != "" {
			fallbackReceiver = org
			break
		}
	}

	defaultCurrency := normalizeCurrency(a.DefaultCurrency)
	rows := make([]model.IATITransaction, 0, len(a.Transactions))

	for _, tx := range a.Transactions {
		txRef := strings.TrimSpace(tx.Ref)

		typeCode := ""
		if tx.Type != nil {
			typeCode = strings.TrimSpace(tx.Type.Code)
		}

		var txDate *time.Time
		if tx.Date != nil {
			txDate = parseISODate(tx.Date.ISODate)
		}

		rawAmount := ""
		currency := defaultCurrency
		valueDate := txDate
		if tx.Value != nil {
			rawAmount = strings.TrimSpace(tx.Value.Amount)
			if c := normalizeCurrency(tx.Value.Currency); c != "" {
				currency = c
			}
			if d := parseISODate(tx.Value.ValueDate); d != nil {
				valueDate = d
			}
		}
		amount, err := strconv.ParseFloat(rawAmount, 64)
		if rawAmount == "" || err != nil {
			continue
		}

		receiverRef := strings.TrimSpace(tx.Receiver.refOrEmpty())
		receiverName := tx.Receiver.Name()
		if receiverRef == "" && receiverName == "" && fallbackReceiver != nil {
			receiverRef = strings.TrimSpace(fallbackReceiver.Ref)
			receiverName = fallbackReceiver.Name()
		}

		providerRef := strings.TrimSpace(tx.Provider.refOrEmpty())
		providerName := tx.Provider.Name()
		if providerRef == "" && providerName == "" {
			providerRef = reportingRef
			providerName = reportingName
		}

		eventKey := resolve.EventKey([]string{
			meta.ResourceURL,
			identifier,
			txRef,
			typeCode,
			isoOrEmpty(txDate),
			isoOrEmpty(valueDate),
			rawAmount,
			currency,
			receiverRef,
			receiverName,
			providerRef,
			providerName,
		})

		rows = append(rows, model.IATITransaction{
			RegistryQuery:          strPtr(meta.RegistryQuery),
			PackageName:            strPtr(meta.PackageName),
			PackageTitle:           strPtr(meta.PackageTitle),
			PackageURL:             strPtr(meta.PackageURL),
			PublisherIATIID:        strPtr(meta.PublisherIATIID),
			ResourceURL:            meta.ResourceURL,
			ActivityIATIIdentifier: identifier,
			ActivityTitle:          strPtr(title),
			ReportingOrgRef:        strPtr(reportingRef),
			ReportingOrgName:       strPtr(reportingName),
			RecipientCountryCode:   strPtr(countryCode),
			TransactionRef:         strPtr(txRef),
			TransactionTypeCode:    strPtr(typeCode),
			TransactionDate:        txDate,
			ValueDate:              valueDate,
			ValueAmount:            amount,
			ValueCurrency:          strPtr(currency),
			ReceiverOrgRef:         strPtr(receiverRef),
			ReceiverOrgName:        strPtr(receiverName),
			ProviderOrgRef:         strPtr(providerRef),
			ProviderOrgName:        strPtr(providerName),
			EventKey:               eventKey,
		})
	}

	return rows
}

func (o *OrgNode) refOrEmpty() string {
	if o == nil {
		return ""
	}
	return o.Ref
}

func isoOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
