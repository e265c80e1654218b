package audit

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/upb/agent-safe-grid/models"
)

// TimestampFormat is the ISO-8601 millisecond layout used in exports
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"id", "timestamp", "action", "user", "status", "details", "hash"}

// ExportCSV writes entries as CSV with a header row
func ExportCSV(w io.Writer, entries []*models.AuditLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.ID.String(),
			e.Timestamp.UTC().Format(TimestampFormat),
			e.Action,
			e.User,
			string(e.Status),
			e.Details,
			e.Hash,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
