package goalserve

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

type oddsFeedXML struct {
	Fixture oddsFixtureXML `xml:"match"`
}

type oddsFixtureXML struct {
	Bookmakers []bookmakerXML `xml:"bookmaker"`
}

type bookmakerXML struct {
	ID      int         `xml:"id,attr"`
	Markets []marketXML `xml:"market"`
}

type marketXML struct {
	ID   int      `xml:"id,attr"`
	Odds []oddXML `xml:"odd"`
}

type oddXML struct {
	Outcome string `xml:"name,attr"`
	Value   string `xml:"value,attr"`
}

// PrematchOdds implements `GET /odds?fixture=ID`: prematch odds
// grouped by bookmaker and market, with hours_before_match computed from
// kickoff.
func (c *Client) PrematchOdds(ctx context.Context, fixtureID int, kickoff time.Time) ([]model.PrematchOdds, error) {
	q := url.Values{"fixture": {strconv.Itoa(fixtureID)}}

	var feed oddsFeedXML
	if err := c.fetchXML(ctx, "/odds", q, &feed); err != nil {
		return nil, err
	}

	now := time.Now()
	hoursBeforeGame := kickoff.Sub(now).Hours()

	var out []model.PrematchOdds
	for _, bm := range feed.Fixture.Bookmakers {
		for _, mk := range bm.Markets {
			for _, o := range mk.Odds {
				price, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
				if err != nil {
					return nil, fmt.Errorf("fixture %d bookmaker %d market %d: parse price: %w", fixtureID, bm.ID, mk.ID, err)
				}
				out = append(out, model.PrematchOdds{
					Fixture:         fixtureID,
					Bookmaker:       bm.ID,
					Market:          mk.ID,
					Outcome:         o.Outcome,
					SampledAt:       now,
					Price:           price,
					HoursBeforeGame: hoursBeforeGame,
				})
			}
		}
	}
	return out, nil
}

// LiveOdds implements `GET /odds/live?fixture=ID`: current
// in-play odds. Instant is the observation time assigned by the caller
// (the live loop stamps this at receipt, not parsed from the feed, since
// GoalServe's inplay odds are not individually timestamped).
func (c *Client) LiveOdds(ctx context.Context, fixtureID int, observedAt time.Time, matchMinute *int) ([]model.OddsTick, error) {
	q := url.Values{"fixture": {strconv.Itoa(fixtureID)}}

	var feed oddsFeedXML
	if err := c.fetchXML(ctx, "/odds/live", q, &feed); err != nil {
		return nil, err
	}

	var out []model.OddsTick
	for _, bm := range feed.Fixture.Bookmakers {
		for _, mk := range bm.Markets {
			for _, o := range mk.Odds {
				price, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
				if err != nil {
					return nil, fmt.Errorf("fixture %d bookmaker %d market %d: parse price: %w", fixtureID, bm.ID, mk.ID, err)
				}
				out = append(out, model.OddsTick{
					Fixture:     fixtureID,
					Bookmaker:   bm.ID,
					Market:      mk.ID,
					Outcome:     o.Outcome,
					Instant:     observedAt,
					Price:       price,
					MatchMinute: matchMinute,
				})
			}
		}
	}
	return out, nil
}
