package queryengine

import "encoding/json"

// ErrorRecord is a parsed {code, message, retriable, reason, context}
// tuple from a server error entry. The wire uses the field name
// "retriable" in analytics responses and "retry" in some query responses;
// both are accepted.
type ErrorRecord struct {
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Retriable bool           `json:"-"`
	Reason    map[string]any `json:"reason,omitempty"`
	Context   map[string]any `json:"-"`
}

// parseErrorRecords parses the raw bytes of an /errors array into a list
// of ErrorRecord. If the bytes cannot be parsed as a JSON array of error
// objects, a single plaintext fallback record is returned instead: the
// server is allowed to emit malformed or non-JSON error bodies (e.g. an
// HTML error page proxied in front of the service) and the client must
// still surface something actionable.
func parseErrorRecords(raw []byte) []ErrorRecord {
	var rawRecords []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawRecords); err != nil {
		return []ErrorRecord{plaintextErrorRecord(raw)}
	}

	records := make([]ErrorRecord, 0, len(rawRecords))
	for _, rawRecord := range rawRecords {
		records = append(records, parseOneErrorRecord(rawRecord))
	}

	return records
}

func parseOneErrorRecord(rawRecord map[string]json.RawMessage) ErrorRecord {
	rec := ErrorRecord{Context: map[string]any{}}

	for key, val := range rawRecord {
		switch key {
		case "code":
			_ = json.Unmarshal(val, &rec.Code)
		case "msg", "message":
			var s string
			if err := json.Unmarshal(val, &s); err == nil && s != "" {
				rec.Message = s
			}
		case "retriable", "retry":
			var b bool
			if err := json.Unmarshal(val, &b); err == nil {
				rec.Retriable = b
			}
		case "reason":
			var m map[string]any
			if err := json.Unmarshal(val, &m); err == nil {
				rec.Reason = m
			}
		default:
			var v any
			if err := json.Unmarshal(val, &v); err == nil {
				rec.Context[key] = v
			}
		}
	}

	return rec
}

func plaintextErrorRecord(raw []byte) ErrorRecord {
	return ErrorRecord{
		Message: string(raw),
		Context: map[string]any{"raw": string(raw)},
	}
}

// primaryErrorRecord chooses the record the retry loop and the public
// QueryError should treat as authoritative: the first non-retriable
// record, or if all records are retriable, the first record.
func primaryErrorRecord(records []ErrorRecord) ErrorRecord {
	for _, r := range records {
		if !r.Retriable {
			return r
		}
	}

	return records[0]
}

// allRetriable reports whether every record in records is retriable.
// A response is only retried when every error in it is retriable - a
// single non-retriable entry makes the whole attempt non-retriable.
func allRetriable(records []ErrorRecord) bool {
	for _, r := range records {
		if !r.Retriable {
			return false
		}
	}

	return true
}
