package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []*Entry {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return []*Entry{
		{
			ID: 2, TaskID: 5, FieldName: FieldStatus, Operation: OperationStatusChange,
			OldValue: StringPtr("To Do"), NewValue: StringPtr("Done"),
			ActorID: actorPtr(3), ActorName: "alice", OccurredAt: at.Add(time.Hour),
		},
		{
			ID: 1, TaskID: 5, FieldName: FieldTask, Operation: OperationCreate,
			NewValue: StringPtr(ValueCreated), Note: StringPtr("Task created: Ship it"), OccurredAt: at,
		},
	}
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("NDJSON")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatNDJSON, f)

	f, err = ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatJSON, f)

	_, err = ParseExportFormat("xml")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExport_JSONShape(t *testing.T) {
	data, err := Export(sampleEntries(), ExportFormatJSON, DefaultExportOptions())
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)

	status := records[0]
	assert.Equal(t, float64(2), status["id"])
	assert.Equal(t, "status", status["fieldName"])
	assert.Equal(t, "To Do", status["oldValue"])
	assert.Equal(t, "Done", status["newValue"])
	assert.Equal(t, "STATUS_CHANGE", status["operationType"])
	assert.Equal(t, "2024-01-15T11:30:00Z", status["changedAt"])
	assert.Equal(t, "Status Change changed from 'To Do' to 'Done'", status["description"])
	assert.Equal(t, map[string]any{"id": float64(3), "username": "alice"}, status["changedBy"])
	assert.NotContains(t, status, "taskId")

	created := records[1]
	assert.NotContains(t, created, "oldValue")
	assert.NotContains(t, created, "changedBy")
	assert.Equal(t, "Task created: Ship it", created["description"])
}

func TestExport_IncludeNulls(t *testing.T) {
	opts := DefaultExportOptions()
	opts.IncludeNulls = true
	opts.IncludeTaskID = true

	data, err := Export(sampleEntries()[1:], ExportFormatJSON, opts)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Contains(t, records[0], "oldValue")
	assert.Nil(t, records[0]["oldValue"])
	assert.Contains(t, records[0], "changedBy")
	assert.Equal(t, float64(5), records[0]["taskId"])
}

func TestExport_CompactAndEmpty(t *testing.T) {
	data, err := Export(nil, ExportFormatJSON, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestExport_RoundTrip(t *testing.T) {
	opts := DefaultExportOptions()
	opts.IncludeTaskID = true

	for _, format := range []ExportFormat{ExportFormatJSON, ExportFormatNDJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Export(sampleEntries(), format, opts)
			require.NoError(t, err)

			var parsed []*Entry
			if format == ExportFormatJSON {
				parsed, err = ParseJSON(data)
			} else {
				parsed, err = ParseNDJSON(data)
			}
			require.NoError(t, err)
			require.Len(t, parsed, 2)

			for i, want := range sampleEntries() {
				got := parsed[i]
				assert.Equal(t, want.ID, got.ID)
				assert.Equal(t, want.TaskID, got.TaskID)
				assert.Equal(t, want.FieldName, got.FieldName)
				assert.Equal(t, want.OldValue, got.OldValue)
				assert.Equal(t, want.NewValue, got.NewValue)
				assert.Equal(t, want.Operation, got.Operation)
				assert.Equal(t, want.ActorID, got.ActorID)
				assert.True(t, want.OccurredAt.Equal(got.OccurredAt))
				assert.Equal(t, want.Describe(), got.Describe())
			}
		})
	}
}

func TestExport_NDJSONOneRecordPerLine(t *testing.T) {
	data, err := Export(sampleEntries(), ExportFormatNDJSON, DefaultExportOptions())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)))
	}
}

func TestExport_CSV(t *testing.T) {
	data, err := Export(sampleEntries(), ExportFormatCSV, DefaultExportOptions())
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, []string{"2", "5", "status", "To Do", "Done", "STATUS_CHANGE", "3", "alice",
		"2024-01-15T11:30:00Z", "Status Change changed from 'To Do' to 'Done'"}, rows[1])
	assert.Equal(t, "", rows[2][6])
}

func TestExport_UnsupportedFormat(t *testing.T) {
	_, err := Export(sampleEntries(), ExportFormat("xml"), DefaultExportOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestParseJSON_Errors(t *testing.T) {
	_, err := ParseJSON([]byte("{not json"))
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = ParseJSON([]byte(`[{"id":1,"operationType":"CREATE","changedAt":"yesterday"}]`))
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestParseJSON_LenientOperation(t *testing.T) {
	entries, err := ParseJSON([]byte(`[{"id":1,"operationType":"Status Change","changedAt":"2024-01-15T10:30:00"},{"id":2,"operationType":"bogus"}]`))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OperationStatusChange, entries[0].Operation)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), entries[0].OccurredAt)
	assert.Equal(t, OperationUpdate, entries[1].Operation)
}
