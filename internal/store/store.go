// Package store holds the pieces shared by the SQL incident stores.
package store

import (
	"database/sql"
	"time"

	"github.com/loykin/workshop/internal/incident"
)

// Columns lists incident columns in the order ScanIncidents expects.
const Columns = "seq, id, occurred, app_id, event, cause, details, outcome, annotation"

// NullString maps an empty string to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ScanIncidents reads rows selected with Columns. occurred holds Unix nanoseconds.
func ScanIncidents(rows *sql.Rows) ([]incident.Incident, error) {
	out := make([]incident.Incident, 0)
	for rows.Next() {
		var (
			inc                                 incident.Incident
			occurred                            int64
			event                               string
			cause, details, outcome, annotation sql.NullString
		)
		if err := rows.Scan(&inc.Seq, &inc.ID, &occurred, &inc.AppID, &event, &cause, &details, &outcome, &annotation); err != nil {
			return nil, err
		}
		inc.Timestamp = time.Unix(0, occurred)
		inc.Event = incident.Event(event)
		inc.Cause = cause.String
		inc.Details = details.String
		inc.Outcome = incident.Outcome(outcome.String)
		inc.Annotation = annotation.String
		out = append(out, inc)
	}
	return out, rows.Err()
}
