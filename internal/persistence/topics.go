package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *SQLiteStore) ListTopics(ctx context.Context, episodeID int64) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, episode_id, name, confidence FROM topics
		WHERE episode_id = ? ORDER BY confidence DESC, id`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	out := make([]Topic, 0)
	for rows.Next() {
		var (
			t    Topic
			conf sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.EpisodeID, &t.Name, &conf); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if conf.Valid {
			v := conf.Float64
			t.Confidence = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
