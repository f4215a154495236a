package job

import (
	"bytes"
	"encoding/json"
	"fmt"

	"runproxy/internal/apperrors"
)

// recordKeys is the exact key set every batch item must carry.
var recordKeys = []string{"comment_id", "comment_text", "question_type"}

// ParseBatch decodes a request body into records.
// The body must be a JSON array of objects; an empty array is accepted.
func ParseBatch(body []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, apperrors.Validation("batch", "batch must be a JSON array")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, apperrors.Validation("batch", "batch is not valid JSON")
	}

	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, apperrors.Validation(field(i), "batch item must be a JSON object")
		}
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, apperrors.Validation(field(i), "batch item must be a JSON object")
		}
		records = append(records, rec)
	}
	return records, nil
}

// ValidateBatch checks that every record carries exactly the expected keys.
// The first violation rejects the whole batch. Values are not inspected.
func ValidateBatch(records []Record) error {
	for i, rec := range records {
		if len(rec) != len(recordKeys) {
			return apperrors.Validation(field(i), fmt.Sprintf("record must have exactly the keys %v", recordKeys))
		}
		for _, key := range recordKeys {
			if _, ok := rec[key]; !ok {
				return apperrors.Validation(field(i), fmt.Sprintf("record is missing key %q", key))
			}
		}
	}
	return nil
}

func field(i int) string {
	return fmt.Sprintf("batch[%d]", i)
}
