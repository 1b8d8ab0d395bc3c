package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebrland/orchestrator/pkg/resolver"
	"github.com/ebrland/orchestrator/pkg/store/memstore"
)

const sampleCSV = `parcel_number,owner_name,mailing_zip,situs_address,parish,acreage,land_value,adjudicated,phone
12-034-5678,Jane Doe,70808,100 Oak Ln,East Baton Rouge,2.5,"$45,000",false,(225) 555-0134
,Missing Parcel,70808,1 No Id Ln,East Baton Rouge,1.0,10000,false,
99-999-9999,John Roe,70809,200 Pine Rd,East Baton Rouge,0.75,12000,true,225-555-0199
`

func TestIngestCSV_ProcessesRowsAndSkipsInvalid(t *testing.T) {
	s := memstore.New()
	pipeline := New(resolver.New(s))

	stats, rowErrs, err := pipeline.IngestCSV(context.Background(), strings.NewReader(sampleCSV), "EBR")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RowsProcessed, "expected 2 processed rows")
	assert.Equal(t, 1, stats.RowsSkipped, "expected 1 skipped row (missing parcel id)")
	assert.Len(t, rowErrs, 1, "expected exactly one row error recorded")
	assert.Equal(t, 2, stats.LeadsCreated, "expected 2 newly created leads")
}

func TestIngestCSV_UnrecognizedHeaderFails(t *testing.T) {
	s := memstore.New()
	pipeline := New(resolver.New(s))

	_, _, err := pipeline.IngestCSV(context.Background(), strings.NewReader("foo,bar\n1,2\n"), "EBR")
	require.Error(t, err, "expected an error for a header with no recognizable parcel id column")
}

func TestIngestCSV_ReingestingSameFileIsIdempotent(t *testing.T) {
	s := memstore.New()
	pipeline := New(resolver.New(s))

	first, _, err := pipeline.IngestCSV(context.Background(), strings.NewReader(sampleCSV), "EBR")
	require.NoError(t, err)
	second, _, err := pipeline.IngestCSV(context.Background(), strings.NewReader(sampleCSV), "EBR")
	require.NoError(t, err)

	assert.Equal(t, 0, second.LeadsCreated, "expected zero net new leads on reingestion")
	assert.Equal(t, first.RowsProcessed, second.RowsProcessed, "expected same processed-row count on reingestion")
}
