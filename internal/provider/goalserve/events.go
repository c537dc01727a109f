package goalserve

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/albapepper/ingestd/internal/model"
)

type eventsFeedXML struct {
	Fixture eventsFixtureXML `xml:"match"`
}

type eventsFixtureXML struct {
	Events []eventXML `xml:"event"`
}

type eventXML struct {
	Minute      string `xml:"minute,attr"`
	ExtraMinute string `xml:"extra_minute,attr"`
	Type        string `xml:"type,attr"`
	Detail      string `xml:"detail,attr"`
	TeamID      string `xml:"team_id,attr"`
	PlayerID    string `xml:"player_id,attr"`
	AssistID    string `xml:"assist_id,attr"`
	Comment     string `xml:"comment,attr"`
}

// Events implements `GET /fixtures/events?fixture=ID`: ordered
// list of in-match events.
func (c *Client) Events(ctx context.Context, fixtureID int, observedAt time.Time) ([]model.EventTick, error) {
	q := url.Values{"fixture": {strconv.Itoa(fixtureID)}}

	var feed eventsFeedXML
	if err := c.fetchXML(ctx, "/fixtures/events", q, &feed); err != nil {
		return nil, err
	}

	out := make([]model.EventTick, 0, len(feed.Fixture.Events))
	for _, e := range feed.Fixture.Events {
		minute, _ := strconv.Atoi(e.Minute)
		out = append(out, model.EventTick{
			Fixture:     fixtureID,
			Instant:     observedAt,
			MatchMinute: minute,
			ExtraMinute: atoiPtr(e.ExtraMinute),
			Type:        e.Type,
			Detail:      e.Detail,
			Team:        atoiPtr(e.TeamID),
			Player:      atoiPtr(e.PlayerID),
			Assist:      atoiPtr(e.AssistID),
			Comment:     e.Comment,
		})
	}
	return out, nil
}

func atoiPtr(s string) *int {
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
