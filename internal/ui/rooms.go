package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "-"
}

func roomState(s room.Summary) string {
	switch {
	case s.Live() && s.Watched():
		return "watched"
	case s.Live():
		return "live"
	}
	return "idle"
}

func controlsText(c *room.Controls) string {
	if c == nil {
		return "-"
	}
	torch := "off"
	if c.Torch {
		torch = "on"
	}
	facing := string(c.CameraFacing)
	if facing == "" {
		facing = string(room.FacingEnvironment)
	}
	return fmt.Sprintf("torch %s, %s", torch, facing)
}

// RoomsView renders room summaries as a table.
func RoomsView(summaries []room.Summary, now time.Time) string {
	if len(summaries) == 0 {
		return MutedStyle.Render("No rooms")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(table.Row{"Room", "State", "Offer", "Answer", "Candidates", "Controls", "Battery", "Last seen"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})

	for _, s := range summaries {
		lastSeen := "--"
		if s.Status != nil {
			lastSeen = LastSeen(s.Status.LastOnline, now)
		}
		t.AppendRow(table.Row{
			s.ID.String(),
			roomState(s),
			yesNo(s.HasOffer),
			yesNo(s.HasAnswer),
			fmt.Sprintf("%d / %d", s.CallerCandidates, s.CalleeCandidates),
			controlsText(s.Controls),
			BatteryText(s.Status) + " " + BatteryIcon(s.Status),
			lastSeen,
		})
	}
	t.SetCaption("%d room(s)", len(summaries))
	return t.Render()
}

// RenderRooms writes RoomsView to w.
func RenderRooms(w io.Writer, summaries []room.Summary, now time.Time) {
	fmt.Fprintln(w, RoomsView(summaries, now))
}

// RoomCardView is the box shown when a camera goes on air: its room id
// and the command a viewer runs to watch it.
func RoomCardView(id room.ID) string {
	content := fmt.Sprintf("%s Camera ready\n\n%s Room:   %s\n%s Watch:  %s",
		IconCamera,
		IconRoom, BoldStyle.Foreground(Primary).Render(id.String()),
		IconWatch, MutedStyle.Render("kamera watch "+id.String()),
	)
	return RoomBoxStyle.Render(content)
}

// KeyHelp lists key bindings as "key action" pairs.
func KeyHelp(pairs ...string) string {
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, KeyStyle.Render(pairs[i])+" "+MutedStyle.Render(pairs[i+1]))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, joinWith(parts, MutedStyle.Render("  •  "))...)
}

func joinWith(parts []string, sep string) []string {
	out := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			out = append(out, sep)
		}
		out = append(out, p)
	}
	return out
}
