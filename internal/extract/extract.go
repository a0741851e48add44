// Package extract pulls teams, rosters and player details out of the
// site's HTML pages. Selectors follow the league markup: team links
// live under div.league-home-page__teams, roster entries under
// div.team-roster__player, and player pages carry a player-card info
// block plus sortable-stats-table elements.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Team is one team discovered on the league listing page.
type Team struct {
	ID   string `json:"id"`   // Last segment of the team page path
	Name string `json:"name"` // Display name, "Unknown" when missing
	URL  string `json:"url"`  // Absolute team page URL
}

// Player is one roster entry, enriched from the player detail page
// when that fetch succeeds. Roster fields are always present; detail
// fields stay empty when the detail page could not be fetched.
type Player struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Team             string               `json:"team"`
	TeamID           string               `json:"team_id"`
	Position         string               `json:"position"`
	URL              string               `json:"url,omitempty"`
	ImageURL         string               `json:"image_url,omitempty"`
	DetailedPosition string               `json:"detailed_position,omitempty"`
	Height           string               `json:"height,omitempty"`
	Weight           string               `json:"weight,omitempty"`
	Stats            map[string]StatTable `json:"stats,omitempty"` // Keyed by table title
}

// StatTable is one parsed statistics table from a player page.
type StatTable struct {
	Headers []string            `json:"headers"`
	Data    []map[string]string `json:"data"` // One map per row, keyed by header
}

// Extractor parses site pages into domain records. Site-relative links
// are absolutized against the configured base URL.
type Extractor struct {
	baseURL string
}

// NewExtractor creates an extractor for pages served under baseURL.
func NewExtractor(baseURL string) *Extractor {
	return &Extractor{baseURL: strings.TrimRight(baseURL, "/")}
}

// TeamList extracts every team linked from the league listing page.
// Anchors outside a league-home-page__teams container, and anchors
// whose href does not contain "/teams/", are ignored.
func (e *Extractor) TeamList(htmlContent []byte) ([]Team, error) {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	teams := []Team{}
	for _, container := range findAll(doc, elementWithClass("div", "league-home-page__teams")) {
		for _, a := range findAll(container, element("a")) {
			href := attrValue(a, "href")
			if href == "" || !strings.Contains(href, "/teams/") {
				continue
			}

			name := "Unknown"
			if h4 := findFirst(a, element("h4")); h4 != nil {
				name = nodeText(h4)
			}

			teams = append(teams, Team{
				ID:   lastPathSegment(href),
				Name: name,
				URL:  e.absoluteURL(href),
			})
		}
	}

	return teams, nil
}

// TeamRoster extracts the player entries on a team page. Entries
// without an anchor are skipped. A missing href leaves the player's ID
// and URL empty, which keeps the player in the roster but out of the
// detail crawl.
func (e *Extractor) TeamRoster(htmlContent []byte, team Team) ([]Player, error) {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	players := []Player{}
	for _, entry := range findAll(doc, elementWithClass("div", "team-roster__player")) {
		link := findFirst(entry, element("a"))
		if link == nil {
			continue
		}
		href := attrValue(link, "href")

		position := "Unknown"
		if pos := findFirst(entry, withClass("team-roster__player-position")); pos != nil {
			position = nodeText(pos)
		}

		p := Player{
			Name:     nodeText(link),
			Team:     team.Name,
			TeamID:   team.ID,
			Position: position,
		}
		if href != "" {
			p.ID = lastPathSegment(href)
			p.URL = e.absoluteURL(href)
		}

		players = append(players, p)
	}

	return players, nil
}

// PlayerDetail enriches a roster player with the contents of their
// detail page: portrait, card attributes and every statistics table.
// The roster position is kept as-is; a more specific position from the
// card lands in DetailedPosition.
func (e *Extractor) PlayerDetail(htmlContent []byte, player *Player) error {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	if info := findFirst(doc, withClass("player-card__info")); info != nil {
		if figure := findFirst(doc, withClass("player-card__image")); figure != nil {
			if img := findFirst(figure, element("img")); img != nil {
				player.ImageURL = attrValue(img, "src")
			}
		}

		if v := cardValue(info, "Position"); v != "" {
			player.DetailedPosition = v
		}
		if v := cardValue(info, "Height"); v != "" {
			player.Height = v
		}
		if v := cardValue(info, "Weight"); v != "" {
			player.Weight = v
		}
	}

	player.Stats = statTables(doc)
	return nil
}

// cardValue finds the player-card value element adjacent to the label
// whose text mentions name.
func cardValue(info *html.Node, name string) string {
	for _, label := range findAll(info, withClass("player-card__label")) {
		if !strings.Contains(nodeText(label), name) {
			continue
		}
		if v := nextElementSibling(label); v != nil && hasClass(v, "player-card__value") {
			return nodeText(v)
		}
	}
	return ""
}

// statTables parses every sortable-stats-table element, keyed by the
// closest preceding h3 (then h2) heading.
func statTables(doc *html.Node) map[string]StatTable {
	tables := map[string]StatTable{}

	elements := findAll(doc, elementNode)
	for i, n := range elements {
		if !hasClass(n, "sortable-stats-table") {
			continue
		}
		tables[tableTitle(elements, i)] = parseStatTable(n)
	}

	return tables
}

// tableTitle is the closest h3 before position i in document order,
// falling back to the closest h2, then to a placeholder.
func tableTitle(elements []*html.Node, i int) string {
	if h := previousElement(elements, i, "h3"); h != nil {
		return nodeText(h)
	}
	if h := previousElement(elements, i, "h2"); h != nil {
		return nodeText(h)
	}
	return "Unknown Stats"
}

// parseStatTable reads the header row and body rows of one table.
// Cells beyond the header count are dropped.
func parseStatTable(table *html.Node) StatTable {
	headers := []string{}
	if thead := findFirst(table, element("thead")); thead != nil {
		for _, th := range findAll(thead, element("th")) {
			headers = append(headers, nodeText(th))
		}
	}

	rows := []map[string]string{}
	if tbody := findFirst(table, element("tbody")); tbody != nil {
		for _, tr := range findAll(tbody, element("tr")) {
			row := map[string]string{}
			for i, td := range findAll(tr, element("td")) {
				if i < len(headers) {
					row[headers[i]] = nodeText(td)
				}
			}
			rows = append(rows, row)
		}
	}

	return StatTable{Headers: headers, Data: rows}
}

// absoluteURL prefixes site-relative hrefs with the base URL.
func (e *Extractor) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return e.baseURL + href
}

// lastPathSegment returns the substring after the final "/", which is
// how the site embeds slugs at the end of its link paths.
func lastPathSegment(href string) string {
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// matcher selects nodes during tree walks.
type matcher func(*html.Node) bool

func elementNode(n *html.Node) bool {
	return n.Type == html.ElementNode
}

func element(tag string) matcher {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func elementWithClass(tag, class string) matcher {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag && hasClass(n, class)
	}
}

func withClass(class string) matcher {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, class)
	}
}

// findAll collects every node strictly under root matching m, in
// document order.
func findAll(root *html.Node, m matcher) []*html.Node {
	var out []*html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		collect(c, m, &out)
	}
	return out
}

func collect(n *html.Node, m matcher, out *[]*html.Node) {
	if m(n) {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, m, out)
	}
}

// findFirst returns the first node strictly under root matching m in
// document order, or nil.
func findFirst(root *html.Node, m matcher) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := firstMatch(c, m); found != nil {
			return found
		}
	}
	return nil
}

func firstMatch(n *html.Node, m matcher) *html.Node {
	if m(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := firstMatch(c, m); found != nil {
			return found
		}
	}
	return nil
}

// previousElement scans backwards from position i for the closest
// earlier element with the given tag.
func previousElement(elements []*html.Node, i int, tag string) *html.Node {
	for j := i - 1; j >= 0; j-- {
		if elements[j].Data == tag {
			return elements[j]
		}
	}
	return nil
}

func nextElementSibling(n *html.Node) *html.Node {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText returns the visible text under n, trimmed, with interior
// runs of whitespace collapsed to single spaces.
func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}

	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := nodeText(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
