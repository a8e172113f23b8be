package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/peertable/peertable/internal/protocol"
)

// RenderGamesTable prints the discovery listing.
func RenderGamesTable(games []protocol.GameInfo) {
	if len(games) == 0 {
		fmt.Println(MutedStyle.Render("No open games"))
		return
	}

	rows := make([][]string, 0, len(games))
	for _, g := range games {
		rows = append(rows, []string{
			truncate(g.ID, 40),
			truncate(g.HostName, 20),
			fmt.Sprintf("%d/%d", g.PlayerCount, g.MaxPlayers),
			g.Status,
			g.CreatedAt.Local().Format("15:04:05"),
		})
	}

	fmt.Println(styledTable([]string{"Game", "Host", "Players", "Status", "Created"}, rows))
}

// RosterRow is one line of the roster table; RTT is zero until measured.
type RosterRow struct {
	Player    protocol.Player
	Connected bool
	RTT       time.Duration
}

// RenderRosterTable prints the current players and their link status.
func RenderRosterTable(rosterRows []RosterRow, selfID string) {
	rows := make([][]string, 0, len(rosterRows))
	for _, r := range rosterRows {
		name := truncate(r.Player.Name, 20)
		if r.Player.ID == selfID {
			name += " (you)"
		}

		role := IconPeer
		if r.Player.Host {
			role = IconCrown
		}

		link := MutedStyle.Render("—")
		switch {
		case r.Player.ID == selfID:
			link = ""
		case r.Connected && r.RTT > 0:
			link = fmt.Sprintf("%s %dms", IconConnect, r.RTT.Milliseconds())
		case r.Connected:
			link = IconConnect
		}

		rows = append(rows, []string{role, name, r.Player.ID, link})
	}

	fmt.Println(styledTable([]string{"", "Name", "ID", "Link"}, rows))
}

// RenderGameInfo prints the box a host shares so others can join.
func RenderGameInfo(gameID, playerName string) {
	content := fmt.Sprintf("%s Game Created!\n\n%s Game ID:  %s\n%s Host:     %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(gameID),
		IconCrown, playerName,
	)
	fmt.Println(SuccessBoxStyle.Render(content))
}

func styledTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
