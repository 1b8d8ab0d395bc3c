// Package ingest reads county tax-roll, adjudicated-property, and GIS
// extracts in CSV form and feeds each row to an entity resolver, grounded on
// the original tax-roll ingestor's column-alias normalization: every parish
// exports slightly different header names for the same fields, so headers
// are matched against a known alias set rather than a fixed position.
package ingest

import "strings"

// standardColumn names mirror the original universal normalizer's
// StandardColumns constants.
const (
	colParcelID         = "parcel_id"
	colOwnerName        = "owner_name"
	colMailingZip       = "mailing_zip"
	colSitusAddr        = "situs_address"
	colSitusZip         = "situs_zip"
	colParish           = "parish"
	colAcres            = "acres"
	colLandValue        = "land_value"
	colImprovementValue = "improvement_value"
	colVacant           = "vacant_land"
	colAdjudicated      = "adjudicated"
	colDelinquent       = "delinquent_years"
	colPhone            = "phone"
)

// headerAliases maps every header spelling seen across parish exports to its
// standard column name. Matching is case-insensitive and ignores surrounding
// whitespace.
var headerAliases = map[string]string{
	"parcel_number":      colParcelID,
	"parcel_id":          colParcelID,
	"parcelid":           colParcelID,
	"tax_parcel_id":      colParcelID,
	"owner_name":         colOwnerName,
	"owner":              colOwnerName,
	"mailing_zip":        colMailingZip,
	"mailing_zip_code":   colMailingZip,
	"owner_zip":          colMailingZip,
	"situs_address":        colSitusAddr,
	"property_address":     colSitusAddr,
	"site_address":         colSitusAddr,
	"situs_zip":             colSitusZip,
	"property_zip":          colSitusZip,
	"site_zip":              colSitusZip,
	"parish":               colParish,
	"parish_name":          colParish,
	"county":               colParish,
	"acreage":              colAcres,
	"acres":                colAcres,
	"lot_size_acres":       colAcres,
	"land_value":           colLandValue,
	"assessed_land_value":  colLandValue,
	"improvement_value":    colImprovementValue,
	"assessed_improvement_value": colImprovementValue,
	"vacant_land":          colVacant,
	"is_vacant":            colVacant,
	"adjudicated":          colAdjudicated,
	"is_adjudicated":       colAdjudicated,
	"delinquent_years":     colDelinquent,
	"years_tax_delinquent": colDelinquent,
	"tax_delinquent_years": colDelinquent,
	"phone":                colPhone,
	"owner_phone":          colPhone,
	"phone_number":         colPhone,
}

// columnIndex maps a standard column name to its position in a CSV row.
type columnIndex map[string]int

// normalizeHeader resolves a raw CSV header row to a columnIndex, skipping
// any header with no known alias (extra parish-specific columns are ignored,
// not an error).
func normalizeHeader(headers []string) columnIndex {
	idx := make(columnIndex, len(headers))
	for i, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if std, ok := headerAliases[key]; ok {
			idx[std] = i
		}
	}
	return idx
}

func (c columnIndex) get(row []string, std string) string {
	i, ok := c[std]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
