package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marchway/mailsync/id"
)

// Scan/encode helpers shared by the per-subsystem files. database/sql
// has no native map or nullable-time support, so metadata travels as
// JSON text and optional timestamps through sql.NullTime.

func encodeMeta(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("mailsync/sqlite: decode metadata: %w", err)
	}
	return m, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func workerStr(w id.WorkerID) string {
	if w.IsNil() {
		return ""
	}
	return w.String()
}
