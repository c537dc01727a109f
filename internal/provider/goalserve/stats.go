package goalserve

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

type statsFeedXML struct {
	Fixture statsFixtureXML `xml:"match"`
}

type statsFixtureXML struct {
	Teams []teamStatsXML `xml:"team"`
}

type teamStatsXML struct {
	TeamID         int    `xml:"id,attr"`
	ShotsOnGoal    string `xml:"shots_on_goal,attr"`
	ShotsOffGoal   string `xml:"shots_off_goal,attr"`
	TotalShots     string `xml:"total_shots,attr"`
	PossessionPct  string `xml:"possession,attr"`
	Corners        string `xml:"corners,attr"`
	Fouls          string `xml:"fouls,attr"`
	YellowCards    string `xml:"yellow_cards,attr"`
	RedCards       string `xml:"red_cards,attr"`
	TotalPasses    string `xml:"total_passes,attr"`
	PassesAccurate string `xml:"passes_accurate,attr"`
	PassesPct      string `xml:"passes_pct,attr"`
}

// Statistics implements `GET /fixtures/statistics?fixture=ID`:
// per-team cumulative match statistics.
func (c *Client) Statistics(ctx context.Context, fixtureID int, observedAt time.Time) ([]model.StatTick, error) {
	q := url.Values{"fixture": {strconv.Itoa(fixtureID)}}

	var feed statsFeedXML
	if err := c.fetchXML(ctx, "/fixtures/statistics", q, &feed); err != nil {
		return nil, err
	}

	out := make([]model.StatTick, 0, len(feed.Fixture.Teams))
	for _, tm := range feed.Fixture.Teams {
		out = append(out, model.StatTick{
			Fixture:        fixtureID,
			Team:           tm.TeamID,
			Instant:        observedAt,
			ShotsOnGoal:    atoiPtr(tm.ShotsOnGoal),
			ShotsOffGoal:   atoiPtr(tm.ShotsOffGoal),
			TotalShots:     atoiPtr(tm.TotalShots),
			PossessionPct:  atofPtr(tm.PossessionPct),
			Corners:        atoiPtr(tm.Corners),
			Fouls:          atoiPtr(tm.Fouls),
			YellowCards:    atoiPtr(tm.YellowCards),
			RedCards:       atoiPtr(tm.RedCards),
			TotalPasses:    atoiPtr(tm.TotalPasses),
			PassesAccurate: atoiPtr(tm.PassesAccurate),
			PassesPct:      atofPtr(tm.PassesPct),
		})
	}
	return out, nil
}

func atofPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
