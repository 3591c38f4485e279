package models

import "strconv"

// Kind is the storage type of a column.
type Kind int

// Column kinds.
const (
	KindText Kind = iota
	KindMoney
)

// Field maps one schema column to its upstream API field and default.
type Field struct {
	text      func(*Award) *string
	money     func(*Award) *float64
	Column    string
	Source    string
	Fallback  string
	Kind      Kind
	Contracts bool // requested only for contract award groups
}

// Fields is the ordered award schema. Extraction, CSV encoding and
// dashboard lookups all iterate this table.
var Fields = []Field{
	money("award_amount", "Award Amount", func(a *Award) *float64 { return &a.AwardAmount }),
	money("covid_19_obligations", "COVID-19 Obligations", func(a *Award) *float64 { return &a.Covid19Obligations }),
	money("covid_19_outlays", "COVID-19 Outlays", func(a *Award) *float64 { return &a.Covid19Outlays }),
	money("infrastructure_obligations", "Infrastructure Obligations", func(a *Award) *float64 { return &a.InfrastructureObligations }),
	money("infrastructure_outlays", "Infrastructure Outlays", func(a *Award) *float64 { return &a.InfrastructureOutlays }),

	text("award_id", "Award ID", "", func(a *Award) *string { return &a.AwardID }),
	text("recipient_name", "Recipient Name", UnknownRecipient, func(a *Award) *string { return &a.RecipientName }),
	text("recipient_id", "recipient_id", "No ID", func(a *Award) *string { return &a.RecipientID }),
	text("recipient_uei", "Recipient UEI", "No UEI", func(a *Award) *string { return &a.RecipientUEI }),

	text("awarding_agency", "Awarding Agency", UnknownAgency, func(a *Award) *string { return &a.AwardingAgency }),
	text("awarding_agency_code", "Awarding Agency Code", "Unknown Code", func(a *Award) *string { return &a.AwardingAgencyCode }),
	text("awarding_sub_agency", "Awarding Sub Agency", "Unknown Sub Agency", func(a *Award) *string { return &a.AwardingSubAgency }),
	text("awarding_sub_agency_code", "Awarding Sub Agency Code", "Unknown Code", func(a *Award) *string { return &a.AwardingSubAgencyCode }),
	text("funding_agency", "Funding Agency", "Unknown Funding Agency", func(a *Award) *string { return &a.FundingAgency }),
	text("funding_agency_code", "Funding Agency Code", "Unknown Code", func(a *Award) *string { return &a.FundingAgencyCode }),
	text("funding_sub_agency", "Funding Sub Agency", "Unknown Sub Agency", func(a *Award) *string { return &a.FundingSubAgency }),
	text("funding_sub_agency_code", "Funding Sub Agency Code", "Unknown Code", func(a *Award) *string { return &a.FundingSubAgencyCode }),

	text("place_of_performance_state_code", "Place of Performance State Code", UnknownState, func(a *Award) *string { return &a.StateCode }),
	text("place_of_performance_country_code", "Place of Performance Country Code", "USA", func(a *Award) *string { return &a.CountryCode }),
	text("place_of_performance_zip5", "Place of Performance Zip5", "Unknown", func(a *Award) *string { return &a.Zip5 }),

	text("description", "Description", "No Description", func(a *Award) *string { return &a.Description }),
	text("contract_award_type", "Contract Award Type", "N/A", func(a *Award) *string { return &a.ContractAwardType }),
	contractText("naics_code", "naics_code", func(a *Award) *string { return &a.NAICSCode }),
	contractText("naics_description", "naics_description", func(a *Award) *string { return &a.NAICSDescription }),
	contractText("psc_code", "psc_code", func(a *Award) *string { return &a.PSCCode }),
	contractText("psc_description", "psc_description", func(a *Award) *string { return &a.PSCDescription }),

	text("last_modified_date", "Last Modified Date", UnknownDate, func(a *Award) *string { return &a.LastModifiedDate }),
	text("base_obligation_date", "Base Obligation Date", UnknownDate, func(a *Award) *string { return &a.BaseObligationDate }),
	text("start_date", "Start Date", UnknownDate, func(a *Award) *string { return &a.StartDate }),
	text("end_date", "End Date", UnknownDate, func(a *Award) *string { return &a.EndDate }),

	text("fetched_at", "", "", func(a *Award) *string { return &a.FetchedAt }),
}

func money(column, source string, get func(*Award) *float64) Field {
	return Field{Column: column, Source: source, Kind: KindMoney, Fallback: "0", money: get}
}

func text(column, source, fallback string, get func(*Award) *string) Field {
	return Field{Column: column, Source: source, Kind: KindText, Fallback: fallback, text: get}
}

func contractText(column, source string, get func(*Award) *string) Field {
	f := text(column, source, "Unknown", get)
	f.Contracts = true

	return f
}

// ColumnNames returns the schema column names in order.
func ColumnNames() []string {
	names := make([]string, len(Fields))
	for i, f := range Fields {
		names[i] = f.Column
	}

	return names
}

// FieldByColumn looks up a schema field by column name.
func FieldByColumn(column string) (Field, bool) {
	for _, f := range Fields {
		if f.Column == column {
			return f, true
		}
	}

	return Field{}, false
}

// Text returns the string value of a text column.
func (f Field) Text(a *Award) string {
	if f.text == nil {
		return f.Format(a)
	}

	return *f.text(a)
}

// Money returns the value of a money column, or 0 for text columns.
func (f Field) Money(a *Award) float64 {
	if f.money == nil {
		return 0
	}

	return *f.money(a)
}

// SetText assigns a text column.
func (f Field) SetText(a *Award, v string) {
	if f.text != nil {
		*f.text(a) = v
	}
}

// SetMoney assigns a money column.
func (f Field) SetMoney(a *Award, v float64) {
	if f.money != nil {
		*f.money(a) = v
	}
}

// Format renders the column value as it appears in CSV output.
func (f Field) Format(a *Award) string {
	if f.Kind == KindMoney {
		return strconv.FormatFloat(*f.money(a), 'f', -1, 64)
	}

	return *f.text(a)
}

// Defaults returns an award with every column set to its sentinel default.
func Defaults() Award {
	var a Award

	for _, f := range Fields {
		if f.Kind == KindText {
			f.SetText(&a, f.Fallback)
		}
	}

	return a
}
