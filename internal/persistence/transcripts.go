package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetTranscript returns the most recent transcript of an episode.
func (s *SQLiteStore) GetTranscript(ctx context.Context, episodeID int64) (*Transcript, error) {
	var (
		t                         Transcript
		segments, model, lang, at sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, episode_id, full_text, segments_json, model_name, language, created_at
		FROM transcripts WHERE episode_id = ? ORDER BY id DESC LIMIT 1`, episodeID).
		Scan(&t.ID, &t.EpisodeID, &t.FullText, &segments, &model, &lang, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transcript of episode %d: %w", episodeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transcript of episode %d: %w", episodeID, err)
	}
	t.SegmentsJSON = segments.String
	t.ModelName = model.String
	t.Language = lang.String
	t.CreatedAt = at.String
	return &t, nil
}

// SaveTranscript replaces any previous transcript of the episode.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, t Transcript) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE episode_id = ?`, t.EpisodeID); err != nil {
			return fmt.Errorf("clear transcripts: %w", err)
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO transcripts (episode_id, full_text, segments_json, model_name, language)
			VALUES (?, ?, ?, ?, ?)`,
			t.EpisodeID, t.FullText, nullableString(t.SegmentsJSON), nullableString(t.ModelName), nullableString(t.Language))
		if err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// SetTranscriptLanguage backfills the language column of stored transcripts.
func (s *SQLiteStore) SetTranscriptLanguage(ctx context.Context, episodeID int64, lang string) error {
	if _, err := s.exec(ctx, `UPDATE transcripts SET language = ? WHERE episode_id = ?`, nullableString(lang), episodeID); err != nil {
		return fmt.Errorf("update transcript language: %w", err)
	}
	return nil
}

// DeleteTranscript removes the transcript rows and resets the episode to not_started.
func (s *SQLiteStore) DeleteTranscript(ctx context.Context, episodeID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE episode_id = ?`, episodeID); err != nil {
			return fmt.Errorf("delete transcript: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE episodes SET transcription_status = ?, transcription_error = NULL,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(TranscriptionNotStarted), episodeID)
		if err != nil {
			return fmt.Errorf("reset transcription status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("episode %d: %w", episodeID, ErrNotFound)
		}
		return nil
	})
}
