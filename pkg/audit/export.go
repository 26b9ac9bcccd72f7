package audit

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportFormat represents the format for exporting change history
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
	ExportFormatCSV    ExportFormat = "csv"
)

// ParseExportFormat maps a query value to a format, defaulting to JSON
func ParseExportFormat(value string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(value))) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatNDJSON:
		return ExportFormatNDJSON, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	default:
		return "", NewValidationError("format", fmt.Sprintf("unsupported export format %q", value))
	}
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// ExportOptions controls serialization. There is no package level default
// state; every call states its own options.
type ExportOptions struct {
	// Indent is used for JSON arrays; empty means compact output
	Indent string
	// TimeLayout formats changedAt; empty means RFC 3339 in UTC
	TimeLayout string
	// IncludeNulls writes absent optional fields as null instead of omitting them
	IncludeNulls bool
	// IncludeTaskID adds taskId to every record, used by archives
	IncludeTaskID bool
}

// DefaultExportOptions matches the documented wire shape: indented, ISO-8601
// timestamps, null fields omitted.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{Indent: "  ", TimeLayout: time.RFC3339}
}

// ExportedActor identifies who made a change
type ExportedActor struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// ExportRecord is the wire shape of one entry
type ExportRecord struct {
	ID            int64          `json:"id"`
	TaskID        int64          `json:"taskId,omitempty"`
	FieldName     *string        `json:"fieldName,omitempty"`
	OldValue      *string        `json:"oldValue,omitempty"`
	NewValue      *string        `json:"newValue,omitempty"`
	OperationType string         `json:"operationType"`
	ChangedBy     *ExportedActor `json:"changedBy,omitempty"`
	ChangedAt     string         `json:"changedAt"`
	Description   string         `json:"description"`
}

// exportRecordWithNulls has the same fields without omitempty on optional values
type exportRecordWithNulls struct {
	ID            int64          `json:"id"`
	TaskID        int64          `json:"taskId,omitempty"`
	FieldName     *string        `json:"fieldName"`
	OldValue      *string        `json:"oldValue"`
	NewValue      *string        `json:"newValue"`
	OperationType string         `json:"operationType"`
	ChangedBy     *ExportedActor `json:"changedBy"`
	ChangedAt     string         `json:"changedAt"`
	Description   string         `json:"description"`
}

// ToRecord converts an entry into its wire shape
func ToRecord(e *Entry, opts ExportOptions) ExportRecord {
	layout := opts.TimeLayout
	if layout == "" {
		layout = time.RFC3339
	}

	rec := ExportRecord{
		ID:            e.ID,
		OldValue:      e.OldValue,
		NewValue:      e.NewValue,
		OperationType: string(e.Operation),
		ChangedAt:     e.OccurredAt.UTC().Format(layout),
		Description:   e.Describe(),
	}
	if opts.IncludeTaskID {
		rec.TaskID = e.TaskID
	}
	if e.FieldName != "" {
		rec.FieldName = StringPtr(e.FieldName)
	}
	if e.ActorID != nil {
		rec.ChangedBy = &ExportedActor{ID: *e.ActorID, Username: e.ActorName}
	}
	return rec
}

func (r ExportRecord) marshalValue(opts ExportOptions) any {
	if opts.IncludeNulls {
		return exportRecordWithNulls(r)
	}
	return r
}

// Export serializes entries in format. Failures are returned as *SerializationError.
func Export(entries []*Entry, format ExportFormat, opts ExportOptions) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case ExportFormatJSON, "":
		format = ExportFormatJSON
		data, err = exportJSON(entries, opts)
	case ExportFormatNDJSON:
		data, err = exportNDJSON(entries, opts)
	case ExportFormatCSV:
		data, err = exportCSV(entries, opts)
	default:
		err = fmt.Errorf("unsupported format")
	}

	if err != nil {
		return nil, &SerializationError{Format: format, Err: err}
	}
	return data, nil
}

func exportJSON(entries []*Entry, opts ExportOptions) ([]byte, error) {
	records := make([]any, 0, len(entries))
	for _, e := range entries {
		records = append(records, ToRecord(e, opts).marshalValue(opts))
	}

	if opts.Indent == "" {
		return json.Marshal(records)
	}
	return json.MarshalIndent(records, "", opts.Indent)
}

func exportNDJSON(entries []*Entry, opts ExportOptions) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, e := range entries {
		if err := encoder.Encode(ToRecord(e, opts).marshalValue(opts)); err != nil {
			return nil, fmt.Errorf("failed to encode entry %d: %w", e.ID, err)
		}
	}

	return buf.Bytes(), nil
}

func exportCSV(entries []*Entry, opts ExportOptions) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"TaskID",
		"FieldName",
		"OldValue",
		"NewValue",
		"OperationType",
		"ChangedByID",
		"ChangedBy",
		"ChangedAt",
		"Description",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		rec := ToRecord(e, opts)
		var actorID, actorName string
		if rec.ChangedBy != nil {
			actorID = strconv.FormatInt(rec.ChangedBy.ID, 10)
			actorName = rec.ChangedBy.Username
		}

		row := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.TaskID, 10),
			e.FieldName,
			deref(e.OldValue),
			deref(e.NewValue),
			rec.OperationType,
			actorID,
			actorName,
			rec.ChangedAt,
			rec.Description,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseJSON reads a JSON array produced by Export. Operation names that are
// not recognized fall back to OperationUpdate; malformed JSON or timestamps
// are returned as *SerializationError.
func ParseJSON(data []byte) ([]*Entry, error) {
	var records []ExportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &SerializationError{Format: ExportFormatJSON, Err: err}
	}
	return fromRecords(records, ExportFormatJSON)
}

// ParseNDJSON reads newline-delimited records, skipping blank lines
func ParseNDJSON(data []byte) ([]*Entry, error) {
	var records []ExportRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, &SerializationError{Format: ExportFormatNDJSON, Err: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, &SerializationError{Format: ExportFormatNDJSON, Err: err}
	}
	return fromRecords(records, ExportFormatNDJSON)
}

var parseLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

func fromRecords(records []ExportRecord, format ExportFormat) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(records))
	for _, rec := range records {
		entry := &Entry{
			ID:        rec.ID,
			TaskID:    rec.TaskID,
			FieldName: deref(rec.FieldName),
			OldValue:  rec.OldValue,
			NewValue:  rec.NewValue,
			Operation: ParseOperationKind(rec.OperationType),
		}
		if rec.Description != "" {
			entry.Note = StringPtr(rec.Description)
		}
		if rec.ChangedBy != nil {
			id := rec.ChangedBy.ID
			entry.ActorID = &id
			entry.ActorName = rec.ChangedBy.Username
		}
		if rec.ChangedAt != "" {
			t, err := parseTimestamp(rec.ChangedAt)
			if err != nil {
				return nil, &SerializationError{Format: format, Err: fmt.Errorf("entry %d: %w", rec.ID, err)}
			}
			entry.OccurredAt = t
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
