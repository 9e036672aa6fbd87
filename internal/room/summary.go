package room

import (
	"encoding/json"
	"sort"

	"github.com/kalkanci/guvenlikkamerasi/internal/mailbox"
)

// Summary describes one room as seen in the mailbox.
type Summary struct {
	ID               ID
	HasOffer         bool
	HasAnswer        bool
	CallerCandidates int
	CalleeCandidates int
	Controls         *Controls
	Status           *DeviceStatus
}

// Live reports whether a Broadcaster has published an offer.
func (s Summary) Live() bool { return s.HasOffer }

// Watched reports whether a Watcher has answered.
func (s Summary) Watched() bool { return s.HasAnswer }

type storedRoom struct {
	Offer         *Offer          `json:"offer"`
	Answer        *AnswerEnvelope `json:"answer"`
	IceCandidates struct {
		Caller map[string]json.RawMessage `json:"caller"`
		Callee map[string]json.RawMessage `json:"callee"`
	} `json:"iceCandidates"`
	Controls *Controls     `json:"controls"`
	Status   *DeviceStatus `json:"status"`
}

// summarize turns a snapshot of Root into summaries sorted by id. Rooms
// that fail to decode are listed with only their id.
func summarize(s mailbox.Snapshot) []Summary {
	children, err := s.Children()
	if err != nil {
		return nil
	}

	summaries := make([]Summary, 0, len(children))
	for _, child := range children {
		summary := Summary{ID: ID(child.Key)}
		var stored storedRoom
		if err := child.Decode(&stored); err == nil {
			summary.HasOffer = stored.Offer != nil && stored.Offer.SDP != ""
			summary.HasAnswer = stored.Answer != nil && stored.Answer.Answer.SDP != ""
			summary.CallerCandidates = len(stored.IceCandidates.Caller)
			summary.CalleeCandidates = len(stored.IceCandidates.Callee)
			summary.Controls = stored.Controls
			summary.Status = stored.Status
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}
