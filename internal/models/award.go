// Package models defines the award record schema shared by the collector and the dashboard.
package models

import "strings"

// RawRecord is one untyped result object as decoded from the search API.
type RawRecord map[string]any

// Award is a normalized award record. Every field is always populated:
// missing upstream values are replaced with the column's sentinel default.
type Award struct {
	AwardAmount               float64 `json:"award_amount"`
	Covid19Obligations        float64 `json:"covid_19_obligations"`
	Covid19Outlays            float64 `json:"covid_19_outlays"`
	InfrastructureObligations float64 `json:"infrastructure_obligations"`
	InfrastructureOutlays     float64 `json:"infrastructure_outlays"`

	AwardID       string `json:"award_id"`
	RecipientName string `json:"recipient_name"`
	RecipientID   string `json:"recipient_id"`
	RecipientUEI  string `json:"recipient_uei"`

	AwardingAgency        string `json:"awarding_agency"`
	AwardingAgencyCode    string `json:"awarding_agency_code"`
	AwardingSubAgency     string `json:"awarding_sub_agency"`
	AwardingSubAgencyCode string `json:"awarding_sub_agency_code"`
	FundingAgency         string `json:"funding_agency"`
	FundingAgencyCode     string `json:"funding_agency_code"`
	FundingSubAgency      string `json:"funding_sub_agency"`
	FundingSubAgencyCode  string `json:"funding_sub_agency_code"`

	StateCode   string `json:"place_of_performance_state_code"`
	CountryCode string `json:"place_of_performance_country_code"`
	Zip5        string `json:"place_of_performance_zip5"`

	Description       string `json:"description"`
	ContractAwardType string `json:"contract_award_type"`
	NAICSCode         string `json:"naics_code"`
	NAICSDescription  string `json:"naics_description"`
	PSCCode           string `json:"psc_code"`
	PSCDescription    string `json:"psc_description"`

	LastModifiedDate   string `json:"last_modified_date"`
	BaseObligationDate string `json:"base_obligation_date"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`

	FetchedAt string `json:"fetched_at"`
}

// Sentinel defaults for identity fields.
const (
	UnknownIDPrefix  = "UNKNOWN_ID_"
	UnknownRecipient = "Unknown Recipient"
	UnknownAgency    = "Unknown Agency"
	UnknownDate      = "Unknown Date"
	UnknownState     = "Unknown"
)

// HasIdentity reports whether the award carries a real id and recipient.
func (a *Award) HasIdentity() bool {
	id := strings.TrimSpace(a.AwardID)
	name := strings.TrimSpace(a.RecipientName)

	if id == "" || strings.HasPrefix(id, UnknownIDPrefix) {
		return false
	}

	return name != "" && name != UnknownRecipient
}

// RecordSet is an ordered table of awards with its column list.
type RecordSet struct {
	Columns []string
	Records []Award
}

// NewRecordSet builds a RecordSet carrying the full schema column list.
func NewRecordSet(records []Award) RecordSet {
	return RecordSet{
		Columns: ColumnNames(),
		Records: records,
	}
}

// Len returns the number of records.
func (s RecordSet) Len() int {
	return len(s.Records)
}

// HasColumn reports whether the set declares the named column.
func (s RecordSet) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}

	return false
}

// FetchBatch is the result of one page request.
type FetchBatch struct {
	Err       error
	Records   []Award
	Page      int
	Requested int
	Returned  int
}
