// Package models defines the entities persisted and exchanged by the
// recalculation platform: users, scores, beatmaps, reworks, and the
// rework-scoped results derived from them.
package models

import "time"

// User is read-only from this system's perspective.
type User struct {
	ID             int32  `db:"id" json:"id"`
	Username       string `db:"username" json:"username"`
	UsernameSafe   string `db:"username_safe" json:"username_safe"`
	PasswordBcrypt string `db:"password_md5" json:"-"`
	Country        string `db:"country" json:"country"`
	Privileges     int32  `db:"privileges" json:"privileges"`
}

// Restricted reports whether the user is excluded from leaderboards and
// session creation.
func (u User) Restricted() bool {
	return u.Privileges&1 == 0
}

// RippleScore is a row from one of the three mod-class score tables
// (scores, scores_relax, scores_ap), selected by a Rework's RX tag.
type RippleScore struct {
	ID           int64   `db:"id"`
	BeatmapMD5   string  `db:"beatmap_md5"`
	UserID       int32   `db:"userid"`
	Score        int64   `db:"score"`
	MaxCombo     int32   `db:"max_combo"`
	FullCombo    bool    `db:"full_combo"`
	Mods         int32   `db:"mods"`
	Count300     int32   `db:"300_count"`
	Count100     int32   `db:"100_count"`
	Count50      int32   `db:"50_count"`
	CountKatu    int32   `db:"katus_count"`
	CountGeki    int32   `db:"gekis_count"`
	CountMiss    int32   `db:"misses_count"`
	Time         int64   `db:"time"`
	PlayMode     int32   `db:"play_mode"`
	Completed    int32   `db:"completed"`
	Accuracy     float64 `db:"accuracy"`
	PP           float64 `db:"pp"`
	Checksum     *string `db:"checksum"`
	Patcher      bool    `db:"patcher"`
	Pinned       bool    `db:"pinned"`
	BeatmapID    int32   `db:"beatmap_id"`
	BeatmapsetID int32   `db:"beatmapset_id"`
}

// Beatmap identifies a ranked map; BeatmapMD5 is the join key to scores.
type Beatmap struct {
	BeatmapID    int32  `db:"beatmap_id" json:"beatmap_id"`
	BeatmapMD5   string `db:"beatmap_md5" json:"-"`
	BeatmapsetID int32  `db:"beatmapset_id" json:"beatmapset_id"`
	SongName     string `db:"song_name" json:"song_name"`
	FileName     string `db:"file_name" json:"-"`
	Ranked       int32  `db:"ranked" json:"-"`
}

// Rework is a candidate PP algorithm under evaluation. UpdatedAt is the
// algorithm-version watermark: queue rows processed before this instant are
// stale and eligible for re-processing.
type Rework struct {
	ReworkID   int32     `db:"rework_id" json:"rework_id"`
	ReworkName string    `db:"rework_name" json:"rework_name"`
	Mode       int32     `db:"mode" json:"mode"`
	RX         int32     `db:"rx" json:"rx"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ScoresTable returns the source score table for this rework's RX tag.
func (r Rework) ScoresTable() string {
	switch r.RX {
	case 1:
		return "scores_relax"
	case 2:
		return "scores_ap"
	default:
		return "scores"
	}
}

// ReworkScore is the rework-scoped recomputation of a single live score.
// Keyed by (ScoreID, ReworkID); upserted on every recalculation.
type ReworkScore struct {
	ScoreID      int64   `db:"score_id"`
	UserID       int32   `db:"user_id"`
	ReworkID     int32   `db:"rework_id"`
	BeatmapID    int32   `db:"beatmap_id"`
	BeatmapsetID int32   `db:"beatmapset_id"`
	MaxCombo     int32   `db:"max_combo"`
	Mods         int32   `db:"mods"`
	Accuracy     float64 `db:"accuracy"`
	Score        int64   `db:"score"`
	Count300     int32   `db:"num_300s"`
	Count100     int32   `db:"num_100s"`
	Count50      int32   `db:"num_50s"`
	CountGeki    int32   `db:"num_gekis"`
	CountKatu    int32   `db:"num_katus"`
	CountMiss    int32   `db:"num_misses"`
	OldPP        float64 `db:"old_pp"`
	NewPP        float64 `db:"new_pp"`
}

// FromRippleScore builds a ReworkScore from a live score row, snapshotting
// its current pp as OldPP.
func FromRippleScore(s RippleScore, reworkID int32) ReworkScore {
	return ReworkScore{
		ScoreID:      s.ID,
		UserID:       s.UserID,
		ReworkID:     reworkID,
		BeatmapID:    s.BeatmapID,
		BeatmapsetID: s.BeatmapsetID,
		MaxCombo:     s.MaxCombo,
		Mods:         s.Mods,
		Accuracy:     s.Accuracy,
		Score:        s.Score,
		Count300:     s.Count300,
		Count100:     s.Count100,
		Count50:      s.Count50,
		CountGeki:    s.CountGeki,
		CountKatu:    s.CountKatu,
		CountMiss:    s.CountMiss,
		OldPP:        s.PP,
	}
}

// APIBaseReworkScore adds the live-vs-rework rank pair computed by the SQL
// window function in the scores listing query.
type APIBaseReworkScore struct {
	UserID       int32   `db:"user_id"`
	BeatmapID    int32   `db:"beatmap_id"`
	BeatmapsetID int32   `db:"beatmapset_id"`
	SongName     string  `db:"song_name"`
	ReworkID     int32   `db:"rework_id"`
	ScoreID      int64   `db:"score_id"`
	MaxCombo     int32   `db:"max_combo"`
	Mods         int32   `db:"mods"`
	Accuracy     float64 `db:"accuracy"`
	Score        int64   `db:"score"`
	Count300     int32   `db:"num_300s"`
	Count100     int32   `db:"num_100s"`
	Count50      int32   `db:"num_50s"`
	CountGeki    int32   `db:"num_gekis"`
	CountKatu    int32   `db:"num_katus"`
	CountMiss    int32   `db:"num_misses"`
	OldPP        float64 `db:"old_pp"`
	NewPP        float64 `db:"new_pp"`
	OldRank      int64   `db:"old_rank"`
	NewRank      int64   `db:"new_rank"`
}

// APIReworkScore embeds the joined beatmap used by the scores listing
// endpoint.
type APIReworkScore struct {
	APIBaseReworkScore
	Beatmap Beatmap `json:"beatmap"`
}

// FromBase attaches the joined beatmap to a base row.
func FromBase(base APIBaseReworkScore, beatmap Beatmap) APIReworkScore {
	return APIReworkScore{APIBaseReworkScore: base, Beatmap: beatmap}
}

// ReworkStats is the per-user aggregate PP under a rework. One row per
// (UserID, ReworkID); upserted per recalculation.
type ReworkStats struct {
	UserID   int32 `db:"user_id"`
	ReworkID int32 `db:"rework_id"`
	OldPP    int32 `db:"old_pp"`
	NewPP    int32 `db:"new_pp"`
}

// APIReworkStats is ReworkStats enriched with identity and leaderboard
// rank, as returned by the stats and leaderboard endpoints.
type APIReworkStats struct {
	UserID  int32  `db:"user_id" json:"user_id"`
	Country string `db:"country" json:"country"`
	Name    string `db:"user_name" json:"user_name"`
	NewPP   int32  `db:"new_pp" json:"new_pp"`
	OldPP   int32  `db:"old_pp" json:"old_pp"`
	NewRank uint64 `db:"new_rank" json:"new_rank"`
	OldRank uint64 `db:"old_rank" json:"old_rank"`
}

// FromStats attaches identity and rank information to a raw stats row.
func FromStats(stats ReworkStats, country, username string, oldRank, newRank uint64) APIReworkStats {
	return APIReworkStats{
		UserID:  stats.UserID,
		Country: country,
		Name:    username,
		NewPP:   stats.NewPP,
		OldPP:   stats.OldPP,
		NewRank: newRank,
		OldRank: oldRank,
	}
}

// ReworkQueueEntry tracks the enqueue/process state machine for a
// (UserID, ReworkID) pair. ProcessedAt is nullable; NULL means in-flight.
type ReworkQueueEntry struct {
	UserID      int32      `db:"user_id"`
	ReworkID    int32      `db:"rework_id"`
	ProcessedAt *time.Time `db:"processed_at"`
}

// ReworkUser is a cross-rework summary of one user's participation.
type ReworkUser struct {
	UserID  int32     `json:"user_id"`
	Name    string    `json:"user_name"`
	Country string    `json:"country"`
	Reworks []Rework  `json:"reworks"`
}

// Leaderboard is one page of a rework's ranking.
type Leaderboard struct {
	TotalCount int32            `json:"total_count"`
	Users      []APIReworkStats `json:"users"`
}

// SearchUser is a minimal identity row returned by username search.
type SearchUser struct {
	UserID int32  `db:"user_id" json:"user_id"`
	Name   string `db:"user_name" json:"user_name"`
}

// QueueRequest is the payload carried over the AMQP rework_queue.
type QueueRequest struct {
	UserID   int32
	ReworkID int32
}

// QueueResponse is returned by the session-triggered enqueue usecase.
type QueueResponse struct {
	Success bool    `json:"success"`
	Message *string `json:"message,omitempty"`
}
