package crawler

import (
	"sort"
	"strconv"
	"strings"

	"github.com/performa-app/courtside/internal/extract"
)

// Season table title and columns the visualization reads.
const (
	seasonStatsTitle = "Regular Season Stats"

	seasonColumn   = "Season"
	pointsColumn   = "PPG"
	reboundsColumn = "RPG"
	assistsColumn  = "APG"
)

// buildPlayerIndex reduces the full player set to the cross-team
// lookup index.
func buildPlayerIndex(players []extract.Player) PlayerIndex {
	index := PlayerIndex{Players: make([]PlayerIndexEntry, 0, len(players))}
	for _, p := range players {
		index.Players = append(index.Players, PlayerIndexEntry{
			ID:       p.ID,
			Name:     p.Name,
			Team:     p.Team,
			TeamID:   p.TeamID,
			Position: p.Position,
		})
	}
	return index
}

// buildVisualization turns enriched players into per-season series of
// points, rebounds and assists, keyed by player ID. Players whose
// detail page was never fetched are left out; players fetched without
// a season table get an empty stats object.
func buildVisualization(players []extract.Player) map[string]PlayerSeries {
	viz := make(map[string]PlayerSeries)

	for _, p := range players {
		if p.Stats == nil {
			continue
		}

		series := PlayerSeries{
			ID:       p.ID,
			Name:     p.Name,
			Team:     p.Team,
			Position: p.Position,
			Stats:    map[string][]SeriesPoint{},
		}

		if table, ok := p.Stats[seasonStatsTitle]; ok {
			points := []SeriesPoint{}
			rebounds := []SeriesPoint{}
			assists := []SeriesPoint{}

			for _, row := range table.Data {
				season := row[seasonColumn]
				if v, ok := row[pointsColumn]; ok {
					points = append(points, SeriesPoint{Date: season, Value: safeFloat(v)})
				}
				if v, ok := row[reboundsColumn]; ok {
					rebounds = append(rebounds, SeriesPoint{Date: season, Value: safeFloat(v)})
				}
				if v, ok := row[assistsColumn]; ok {
					assists = append(assists, SeriesPoint{Date: season, Value: safeFloat(v)})
				}
			}

			sortSeries(points)
			sortSeries(rebounds)
			sortSeries(assists)
			series.Stats["points"] = points
			series.Stats["rebounds"] = rebounds
			series.Stats["assists"] = assists
		}

		viz[p.ID] = series
	}

	return viz
}

// sortSeries orders points by season label so charts read oldest
// first.
func sortSeries(s []SeriesPoint) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Date < s[j].Date })
}

// safeFloat parses a stat cell, mapping anything unparseable to zero.
func safeFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
