package ledger

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/okian/podium/internal/domain/model"
)

type leaderboardRow struct {
	bun.BaseModel `bun:"table:leaderboards,alias:l"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	GameID    string    `bun:"game_id"`
	Status    string    `bun:"status,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (r leaderboardRow) toModel() model.Leaderboard {
	return model.Leaderboard{
		ID:        r.ID,
		Name:      r.Name,
		GameID:    r.GameID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type playerRow struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	LeaderboardID string    `bun:"leaderboard_id,pk"`
	ID            string    `bun:"id,pk"`
	Username      string    `bun:"username"`
	AvatarURL     string    `bun:"avatar_url"`
	Score         float64   `bun:"score,notnull"`
	Rank          int       `bun:"rank,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (r playerRow) toModel() model.Player {
	return model.Player{
		ID:            r.ID,
		LeaderboardID: r.LeaderboardID,
		Score:         r.Score,
		Rank:          r.Rank,
		Metadata:      model.Metadata{Username: r.Username, AvatarURL: r.AvatarURL},
		UpdatedAt:     r.UpdatedAt,
	}
}
