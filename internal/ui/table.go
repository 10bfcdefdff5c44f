package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	gptable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ParticipantRow is one room member in the participant table.
type ParticipantRow struct {
	Name   string
	Status string
	Audio  bool
	Video  bool
	Screen bool
	RTT    time.Duration
}

// ParticipantTable renders the current room members.
type ParticipantTable struct {
	rows []ParticipantRow
}

func NewParticipantTable(rows []ParticipantRow) *ParticipantTable {
	return &ParticipantTable{rows: rows}
}

// View renders the table as a string.
func (t *ParticipantTable) View() string {
	if len(t.rows) == 0 {
		return MutedStyle.Render("No one else is here yet")
	}

	headers := []string{"Name", "Status", "Mic", "Cam", "Screen", "RTT"}

	var rows [][]string
	for _, r := range t.rows {
		mic := IconMic
		if !r.Audio {
			mic = IconMicOff
		}
		cam := IconCamera
		if !r.Video {
			cam = IconCameraOff
		}
		screen := "-"
		if r.Screen {
			screen = IconScreen
		}
		rtt := "-"
		if r.RTT > 0 {
			rtt = fmt.Sprintf("%dms", r.RTT.Milliseconds())
		}
		rows = append(rows, []string{truncateString(r.Name, 24), r.Status, mic, cam, screen, rtt})
	}

	tbl := table.New().
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
		})

	return tbl.Render()
}

// ServerStatus is what the status command shows about a server.
type ServerStatus struct {
	Server      string
	Healthy     bool
	ActiveRooms int
	ActiveUsers int
	Timestamp   time.Time
}

// RenderServerStatus prints the server-info snapshot as a table.
func RenderServerStatus(status ServerStatus) {
	health := text.FgGreen.Sprint("healthy")
	if !status.Healthy {
		health = text.FgRed.Sprint("unreachable")
	}

	tw := gptable.NewWriter()
	tw.SetStyle(gptable.StyleRounded)
	tw.SetTitle("%s %s", IconWeb, status.Server)
	tw.AppendRows([]gptable.Row{
		{"Status", health},
		{"Active Rooms", status.ActiveRooms},
		{"Active Users", status.ActiveUsers},
		{"As Of", status.Timestamp.Local().Format(time.Kitchen)},
	})
	fmt.Println(tw.Render())
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
