// Package db implements the recording metadata store on SQLite and Postgres.
package db

import (
	"database/sql"
	"time"

	"github.com/jwulff/quill/internal/recording"
)

// recordingRow mirrors the recordings table.
type recordingRow struct {
	ID              string
	UserID          string
	Title           string
	AudioURL        sql.NullString
	DurationSeconds sql.NullInt64
	Transcript      sql.NullString
	Summary         sql.NullString
	CreatedAt       int64
	UpdatedAt       int64
}

func (r recordingRow) toRecording() recording.Recording {
	rec := recording.Recording{
		ID:        r.ID,
		OwnerID:   r.UserID,
		Title:     r.Title,
		CreatedAt: timeFromMillis(r.CreatedAt),
		UpdatedAt: timeFromMillis(r.UpdatedAt),
	}
	if r.AudioURL.Valid {
		rec.AssetURL = recording.StringPtr(r.AudioURL.String)
	}
	if r.DurationSeconds.Valid {
		rec.DurationSeconds = recording.IntPtr(int(r.DurationSeconds.Int64))
	}
	if r.Transcript.Valid {
		rec.Transcript = recording.StringPtr(r.Transcript.String)
	}
	if r.Summary.Valid {
		rec.Summary = recording.StringPtr(r.Summary.String)
	}
	return rec
}

// patchColumns lists the columns a patch sets, in a fixed order.
func patchColumns(p recording.Patch) ([]string, []any) {
	var cols []string
	var args []any
	if p.Title != nil {
		cols = append(cols, "title")
		args = append(args, *p.Title)
	}
	if p.Summary != nil {
		cols = append(cols, "summary")
		args = append(args, *p.Summary)
	}
	if p.Transcript != nil {
		cols = append(cols, "transcript")
		args = append(args, *p.Transcript)
	}
	return cols, args
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
