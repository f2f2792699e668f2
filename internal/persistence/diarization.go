package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *SQLiteStore) ListDiarizationSegments(ctx context.Context, episodeID int64) ([]DiarizationSegment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, episode_id, start_ms, end_ms, speaker_label, corrected_speaker, confidence
		FROM diarization_segments WHERE episode_id = ? ORDER BY start_ms, id`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("query diarization segments: %w", err)
	}
	defer rows.Close()

	out := make([]DiarizationSegment, 0)
	for rows.Next() {
		var (
			seg       DiarizationSegment
			corrected sql.NullString
			conf      sql.NullFloat64
		)
		if err := rows.Scan(&seg.ID, &seg.EpisodeID, &seg.StartMs, &seg.EndMs, &seg.SpeakerLabel, &corrected, &conf); err != nil {
			return nil, fmt.Errorf("scan diarization segment: %w", err)
		}
		if corrected.Valid {
			v := corrected.String
			seg.CorrectedSpeaker = &v
		}
		if conf.Valid {
			v := conf.Float64
			seg.Confidence = &v
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// ReplaceDiarizationSegments swaps the stored segments of an episode for segs.
func (s *SQLiteStore) ReplaceDiarizationSegments(ctx context.Context, episodeID int64, segs []DiarizationSegment) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM diarization_segments WHERE episode_id = ?`, episodeID); err != nil {
			return fmt.Errorf("clear diarization segments: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO diarization_segments
			(episode_id, start_ms, end_ms, speaker_label, confidence) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare segment insert: %w", err)
		}
		defer stmt.Close()
		for _, seg := range segs {
			if _, err := stmt.ExecContext(ctx, episodeID, seg.StartMs, seg.EndMs, seg.SpeakerLabel, nullableFloat(seg.Confidence)); err != nil {
				return fmt.Errorf("insert diarization segment: %w", err)
			}
		}
		return nil
	})
}

// CorrectSegment sets the manual speaker overlay; the original label is kept.
func (s *SQLiteStore) CorrectSegment(ctx context.Context, segmentID int64, speaker string) error {
	res, err := s.exec(ctx, `UPDATE diarization_segments SET corrected_speaker = ? WHERE id = ?`, nullableString(speaker), segmentID)
	if err != nil {
		return fmt.Errorf("correct segment %d: %w", segmentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("segment %d: %w", segmentID, ErrNotFound)
	}
	return nil
}

// FlipEpisodeSpeakers swaps SPEAKER_0 and SPEAKER_1 in the overlay of every
// segment of the episode.
func (s *SQLiteStore) FlipEpisodeSpeakers(ctx context.Context, episodeID int64) error {
	_, err := s.exec(ctx, `UPDATE diarization_segments SET corrected_speaker = CASE
			WHEN COALESCE(corrected_speaker, speaker_label) = 'SPEAKER_0' THEN 'SPEAKER_1'
			WHEN COALESCE(corrected_speaker, speaker_label) = 'SPEAKER_1' THEN 'SPEAKER_0'
			ELSE corrected_speaker
		END
		WHERE episode_id = ?`, episodeID)
	if err != nil {
		return fmt.Errorf("flip speakers of episode %d: %w", episodeID, err)
	}
	return nil
}

// SpeakerTotals aggregates speaking time per effective speaker for every
// episode whose diarization status is in statuses. An episode without
// segments yields one row with an empty speaker.
func (s *SQLiteStore) SpeakerTotals(ctx context.Context, statuses ...DiarizationStatus) ([]SpeakerTotal, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(st))
	}

	rows, err := s.db.QueryContext(ctx, `SELECT e.id, e.title, COALESCE(e.publish_date, ''), COALESCE(e.audio_url, ''),
			e.diarization_status, COALESCE(ds.corrected_speaker, ds.speaker_label, '') AS speaker,
			COALESCE(SUM(ds.end_ms - ds.start_ms), 0), COUNT(ds.id)
		FROM episodes e
		LEFT JOIN diarization_segments ds ON ds.episode_id = e.id
		WHERE e.diarization_status IN (`+placeholders+`)
		GROUP BY e.id, speaker
		ORDER BY e.publish_date DESC, e.id DESC, speaker`, args...)
	if err != nil {
		return nil, fmt.Errorf("query speaker totals: %w", err)
	}
	defer rows.Close()

	out := make([]SpeakerTotal, 0)
	for rows.Next() {
		var (
			t      SpeakerTotal
			status string
		)
		if err := rows.Scan(&t.EpisodeID, &t.Title, &t.PublishDate, &t.AudioURL, &status, &t.Speaker, &t.SpeakingMs, &t.Turns); err != nil {
			return nil, fmt.Errorf("scan speaker total: %w", err)
		}
		t.DiarizationStatus = DiarizationStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
