package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

// BatteryText is the level as a percentage, or "--" without a reading.
func BatteryText(status *room.DeviceStatus) string {
	if status == nil || status.BatteryLevel == nil {
		return "--"
	}
	return fmt.Sprintf("%d%%", *status.BatteryLevel)
}

// BatteryIcon picks the icon for a status. Charging wins over the level.
func BatteryIcon(status *room.DeviceStatus) string {
	if status == nil || status.BatteryLevel == nil {
		return IconBattery
	}
	if status.IsCharging {
		return IconCharging
	}
	if *status.BatteryLevel > 50 {
		return IconBattery
	}
	return IconLow
}

// BatteryColor is gray without a reading (or at zero), red below 20,
// yellow below 50 and green otherwise.
func BatteryColor(status *room.DeviceStatus) lipgloss.Color {
	if status == nil || status.BatteryLevel == nil || *status.BatteryLevel == 0 {
		return Muted
	}
	switch level := *status.BatteryLevel; {
	case level < 20:
		return Error
	case level < 50:
		return Warning
	}
	return Success
}

// Battery renders the coloured level followed by its icon.
func Battery(status *room.DeviceStatus) string {
	text := lipgloss.NewStyle().Foreground(BatteryColor(status)).Bold(true).Render(BatteryText(status))
	return text + " " + BatteryIcon(status)
}

// LastSeen formats a lastOnline timestamp in milliseconds relative to now.
func LastSeen(lastOnline int64, now time.Time) string {
	if lastOnline <= 0 {
		return "--"
	}
	ago := now.Sub(time.UnixMilli(lastOnline))
	switch {
	case ago < time.Second:
		return "just now"
	case ago < time.Minute:
		return fmt.Sprintf("%ds ago", int(ago.Seconds()))
	case ago < time.Hour:
		return fmt.Sprintf("%dm ago", int(ago.Minutes()))
	case ago < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(ago.Hours()))
	}
	return time.UnixMilli(lastOnline).Format("2006-01-02 15:04")
}
