package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserRestricted(t *testing.T) {
	assert.True(t, User{Privileges: 0}.Restricted())
	assert.True(t, User{Privileges: 2}.Restricted())
	assert.False(t, User{Privileges: 1}.Restricted())
	assert.False(t, User{Privileges: 3}.Restricted())
}

func TestReworkScoresTable(t *testing.T) {
	assert.Equal(t, "scores", Rework{RX: 0}.ScoresTable())
	assert.Equal(t, "scores_relax", Rework{RX: 1}.ScoresTable())
	assert.Equal(t, "scores_ap", Rework{RX: 2}.ScoresTable())
}

func TestFromRippleScoreSnapshotsOldPP(t *testing.T) {
	s := RippleScore{ID: 9, UserID: 42, PP: 501.2, BeatmapID: 7}
	rs := FromRippleScore(s, 3)
	assert.Equal(t, int64(9), rs.ScoreID)
	assert.Equal(t, int32(3), rs.ReworkID)
	assert.Equal(t, 501.2, rs.OldPP)
	assert.Zero(t, rs.NewPP)
}

func TestFromStats(t *testing.T) {
	api := FromStats(ReworkStats{UserID: 1, NewPP: 900, OldPP: 850}, "US", "cookiezi", 5, 2)
	assert.Equal(t, "cookiezi", api.Name)
	assert.Equal(t, uint64(5), api.OldRank)
	assert.Equal(t, uint64(2), api.NewRank)
}
