package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const episodeColumns = `id, episode_number, title, publish_date, audio_url, duration_minutes, description,
	podcast_name, transcription_status, transcription_error, diarization_status, diarization_error,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var (
		ep                      Episode
		number                  sql.NullInt64
		duration                sql.NullFloat64
		publishDate, audioURL   sql.NullString
		description, podcast    sql.NullString
		transErr, diarErr       sql.NullString
		createdAt, updatedAt    sql.NullString
		transStatus, diarStatus string
	)
	if err := row.Scan(&ep.ID, &number, &ep.Title, &publishDate, &audioURL, &duration, &description,
		&podcast, &transStatus, &transErr, &diarStatus, &diarErr, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if number.Valid {
		n := int(number.Int64)
		ep.EpisodeNumber = &n
	}
	if duration.Valid {
		d := duration.Float64
		ep.DurationMinutes = &d
	}
	ep.PublishDate = publishDate.String
	ep.AudioURL = audioURL.String
	ep.Description = description.String
	ep.PodcastName = podcast.String
	ep.TranscriptionStatus = TranscriptionStatus(transStatus)
	ep.TranscriptionError = transErr.String
	ep.DiarizationStatus = DiarizationStatus(diarStatus)
	ep.DiarizationError = diarErr.String
	ep.CreatedAt = createdAt.String
	ep.UpdatedAt = updatedAt.String
	return &ep, nil
}

// ListEpisodes returns episodes published on or after since (YYYY-MM-DD),
// newest first. An empty since returns every episode.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, since string) ([]*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes`
	args := []any{}
	if strings.TrimSpace(since) != "" {
		query += ` WHERE publish_date >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY publish_date DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	out := make([]*Episode, 0)
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEpisode(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode %d: %w", id, err)
	}
	return ep, nil
}

// InsertEpisode inserts a row without any dedupe check. Feed sync goes
// through ReconcileEpisodes; this is the fixture entry point other
// packages' tests use to seed episodes.
func (s *SQLiteStore) InsertEpisode(ctx context.Context, podcastName string, meta EpisodeMetadata) (int64, error) {
	res, err := s.exec(ctx, `INSERT INTO episodes
		(episode_number, title, publish_date, audio_url, duration_minutes, description, podcast_name, transcription_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt(meta.EpisodeNumber), meta.Title, nullableString(meta.PublishDate), nullableString(meta.AudioURL),
		nullableFloat(meta.DurationMinutes), nullableString(meta.Description), nullableString(podcastName),
		string(TranscriptionNotStarted))
	if err != nil {
		return 0, fmt.Errorf("insert episode: %w", err)
	}
	return res.LastInsertId()
}

// ReconcileEpisodes removes duplicate (title, publish_date) rows keeping the
// lowest id, then inserts every record whose key is not present yet. Both
// steps run in one transaction, so each existence check sees the rows
// inserted earlier in the same pass.
func (s *SQLiteStore) ReconcileEpisodes(ctx context.Context, podcastName string, records []EpisodeMetadata) (ReconcileResult, error) {
	var result ReconcileResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result = ReconcileResult{}

		res, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE id NOT IN (
			SELECT MIN(id) FROM episodes GROUP BY title, publish_date
		)`)
		if err != nil {
			return fmt.Errorf("remove duplicate episodes: %w", err)
		}
		result.DuplicatesRemoved, _ = res.RowsAffected()

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO episodes
			(episode_number, title, publish_date, audio_url, duration_minutes, description, podcast_name, transcription_status)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM episodes WHERE title = ? AND publish_date IS ?)`)
		if err != nil {
			return fmt.Errorf("prepare episode insert: %w", err)
		}
		defer stmt.Close()

		for _, meta := range records {
			publishDate := nullableString(meta.PublishDate)
			res, err := stmt.ExecContext(ctx,
				nullableInt(meta.EpisodeNumber), meta.Title, publishDate, nullableString(meta.AudioURL),
				nullableFloat(meta.DurationMinutes), nullableString(meta.Description), nullableString(podcastName),
				string(TranscriptionNotStarted),
				meta.Title, publishDate)
			if err != nil {
				return fmt.Errorf("insert episode %q: %w", meta.Title, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				result.Inserted++
			}
		}
		return nil
	})
	return result, err
}

// SetTranscriptionStatus writes the runner-owned status columns. An empty
// message clears transcription_error.
func (s *SQLiteStore) SetTranscriptionStatus(ctx context.Context, id int64, status TranscriptionStatus, message string) error {
	return s.setStatus(ctx, "transcription", id, string(status), message)
}

func (s *SQLiteStore) SetDiarizationStatus(ctx context.Context, id int64, status DiarizationStatus, message string) error {
	return s.setStatus(ctx, "diarization", id, string(status), message)
}

func (s *SQLiteStore) setStatus(ctx context.Context, prefix string, id int64, status, message string) error {
	query := fmt.Sprintf(`UPDATE episodes SET %[1]s_status = ?, %[1]s_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, prefix)
	res, err := s.exec(ctx, query, status, nullableString(message), id)
	if err != nil {
		return fmt.Errorf("update %s status of episode %d: %w", prefix, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %d: %w", id, ErrNotFound)
	}
	return nil
}
