package goalserve

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

type fixturesFeedXML struct {
	Matches []fixtureXML `xml:"category>match"`
}

type fixtureXML struct {
	ID         int        `xml:"id,attr"`
	LeagueID   int        `xml:"league_id,attr"`
	Season     int        `xml:"season,attr"`
	Round      string     `xml:"round,attr"`
	VenueID    int        `xml:"venue_id,attr"`
	HomeTeamID int        `xml:"localteam_id,attr"`
	AwayTeamID int        `xml:"visitorteam_id,attr"`
	Date       string     `xml:"date,attr"`
	Time       string     `xml:"time,attr"`
	Status     string     `xml:"status,attr"`
	Elapsed    string     `xml:"minute,attr"`
	HomeScore  scoreAttrs `xml:"localteam"`
	AwayScore  scoreAttrs `xml:"visitorteam"`
}

type scoreAttrs struct {
	FullTime string `xml:"score,attr"`
}

// FixturesByDate implements `GET /fixtures?date=...&league=...`,
// returning every fixture scheduled on date. league of 0 means all leagues.
func (c *Client) FixturesByDate(ctx context.Context, date time.Time, league int) ([]model.Fixture, error) {
	q := url.Values{"date": {date.Format("2006-01-02")}}
	if league != 0 {
		q.Set("league", strconv.Itoa(league))
	}

	var feed fixturesFeedXML
	if err := c.fetchXML(ctx, "/fixtures", q, &feed); err != nil {
		return nil, err
	}
	return parseFixtures(feed)
}

// FixturesLive implements `GET /fixtures/live`, returning every
// fixture currently in a live status with current score and elapsed.
func (c *Client) FixturesLive(ctx context.Context) ([]model.Fixture, error) {
	var feed fixturesFeedXML
	if err := c.fetchXML(ctx, "/fixtures/live", nil, &feed); err != nil {
		return nil, err
	}
	return parseFixtures(feed)
}

func parseFixtures(feed fixturesFeedXML) ([]model.Fixture, error) {
	out := make([]model.Fixture, 0, len(feed.Matches))
	for _, m := range feed.Matches {
		if m.ID == 0 {
			return nil, fmt.Errorf("fixture missing id")
		}
		kickoff, err := time.Parse("02.01.2006 15:04", m.Date+" "+m.Time)
		if err != nil {
			return nil, fmt.Errorf("fixture %d: parse kickoff: %w", m.ID, err)
		}
		elapsed, _ := strconv.Atoi(m.Elapsed)
		full := parseScore(m.HomeScore.FullTime, m.AwayScore.FullTime)

		out = append(out, model.Fixture{
			ID:         m.ID,
			LeagueID:   m.LeagueID,
			Season:     m.Season,
			Round:      m.Round,
			VenueID:    m.VenueID,
			HomeTeamID: m.HomeTeamID,
			AwayTeamID: m.AwayTeamID,
			Kickoff:    kickoff,
			Status:     model.Status(m.Status),
			Elapsed:    elapsed,
			FullTime:   full,
		})
	}
	return out, nil
}

func parseScore(home, away string) model.Score {
	h, _ := strconv.Atoi(home)
	a, _ := strconv.Atoi(away)
	return model.Score{Home: h, Away: a}
}
