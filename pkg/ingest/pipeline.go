package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ebrland/orchestrator/pkg/resolver"
)

// Stats accumulates per-run counters, mirroring the original ingestor's
// TaxRollIngestionStats.
type Stats struct {
	RowsProcessed int
	RowsSkipped   int
	LeadsCreated  int
	Errors        int
}

// RowError pairs a 1-indexed data row number (header excluded) with the
// failure that occurred resolving it.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Pipeline drives CSV rows through an entity resolver.
type Pipeline struct {
	resolver *resolver.Resolver
}

func New(r *resolver.Resolver) *Pipeline {
	return &Pipeline{resolver: r}
}

// IngestCSV reads a tax-roll, adjudicated-property, or GIS extract and
// resolves every row into Party/Owner/Parcel/Lead records. A row-level
// failure is caught, counted, and recorded; it never aborts the batch —
// this is the row-level failure isolation the original ingestor relies on
// to tolerate one malformed row in a file of tens of thousands.
func (p *Pipeline) IngestCSV(ctx context.Context, src io.Reader, marketCode string) (*Stats, []RowError, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1 // parish exports are not always rectangular

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := normalizeHeader(header)
	if _, ok := cols[colParcelID]; !ok {
		return nil, nil, fmt.Errorf("no recognizable parcel id column in header %v", header)
	}

	stats := &Stats{}
	var rowErrs []RowError
	rowNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.Errors++
			rowErrs = append(rowErrs, RowError{Row: rowNum + 1, Err: err})
			rowNum++
			continue
		}
		rowNum++

		rec, err := toRawRecord(cols, record, marketCode)
		if err != nil {
			stats.RowsSkipped++
			rowErrs = append(rowErrs, RowError{Row: rowNum, Err: err})
			continue
		}

		result, err := p.resolver.Resolve(ctx, rec)
		if err != nil {
			stats.Errors++
			rowErrs = append(rowErrs, RowError{Row: rowNum, Err: err})
			continue
		}

		stats.RowsProcessed++
		if result.Created {
			stats.LeadsCreated++
		}
	}

	return stats, rowErrs, nil
}

// toRawRecord converts one normalized CSV row to a resolver.RawRecord.
// Malformed numeric fields are dropped (left nil/zero) rather than failing
// the row outright, matching the original's lenient _parse_currency/
// _parse_float helpers.
func toRawRecord(cols columnIndex, row []string, marketCode string) (resolver.RawRecord, error) {
	parcelID := cols.get(row, colParcelID)
	ownerName := cols.get(row, colOwnerName)
	if parcelID == "" || ownerName == "" {
		return resolver.RawRecord{}, fmt.Errorf("missing required parcel id or owner name")
	}

	rec := resolver.RawRecord{
		ParcelID:     parcelID,
		OwnerName:    ownerName,
		OwnerZip:     cols.get(row, colMailingZip),
		SitusAddress: cols.get(row, colSitusAddr),
		SitusZip:     cols.get(row, colSitusZip),
		Parish:       cols.get(row, colParish),
		MarketCode:   marketCode,
		VacantLand:   truthy(cols.get(row, colVacant)),
	}

	if v := cols.get(row, colAcres); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Acreage = &f
		}
	}
	if v := cols.get(row, colLandValue); v != "" {
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(v)
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			rec.AssessedLandVal = &f
		}
	}
	if v := cols.get(row, colImprovementValue); v != "" {
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(v)
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			rec.ImprovementValue = &f
		}
	}
	if v := cols.get(row, colAdjudicated); v != "" {
		rec.Adjudicated = truthy(v)
	}
	if v := cols.get(row, colDelinquent); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rec.DelinquentYears = n
		}
	}
	if v := cols.get(row, colPhone); v != "" {
		rec.Phone = &v
	}

	return rec, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y", "t":
		return true
	default:
		return false
	}
}
