// Package power reports the device's battery state for telemetry.
package power

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultRoot is where Linux exposes power supplies.
const DefaultRoot = "/sys/class/power_supply"

// State is one battery reading. Level is a percentage, nil when the device
// has no battery.
type State struct {
	Level    *int
	Charging bool
}

// Equal reports whether two readings are the same.
func (s State) Equal(o State) bool {
	if s.Charging != o.Charging || (s.Level == nil) != (o.Level == nil) {
		return false
	}
	return s.Level == nil || *s.Level == *o.Level
}

// Source reads the current power state.
type Source interface {
	Read() (State, error)
}

// Sysfs reads batteries and mains adapters from a power_supply directory.
type Sysfs struct {
	Root string
}

func (s Sysfs) root() string {
	if s.Root == "" {
		return DefaultRoot
	}
	return s.Root
}

// Read returns the first battery's capacity. Charging is set while the
// battery reports charging or full, or any mains adapter is online. A
// machine without a battery yields a nil Level and no error.
func (s Sysfs) Read() (State, error) {
	entries, err := os.ReadDir(s.root())
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read power supplies: %w", err)
	}

	var state State
	for _, entry := range entries {
		dir := filepath.Join(s.root(), entry.Name())
		switch readAttr(dir, "type") {
		case "Battery":
			if state.Level != nil {
				continue
			}
			capacity, err := strconv.Atoi(readAttr(dir, "capacity"))
			if err != nil {
				continue
			}
			capacity = min(max(capacity, 0), 100)
			state.Level = &capacity
			switch readAttr(dir, "status") {
			case "Charging", "Full":
				state.Charging = true
			}
		case "Mains", "USB":
			if readAttr(dir, "online") == "1" {
				state.Charging = true
			}
		}
	}
	if state.Level == nil {
		// No battery: report like a desktop browser without the battery API.
		return State{}, nil
	}
	return state, nil
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Watch polls src every interval until ctx is done and calls fn whenever
// the reading differs from the previous one. The first reading is taken as
// the baseline and not reported.
func Watch(ctx context.Context, src Source, interval time.Duration, fn func(State)) {
	last, err := src.Read()
	if err != nil {
		last = State{}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := src.Read()
			if err != nil || current.Equal(last) {
				continue
			}
			last = current
			fn(current)
		}
	}
}
