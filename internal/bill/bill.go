package bill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/davidgf/splitscan/internal/scanning"
)

// Item is one purchased line item on the bill, with the set of
// participant IDs sharing its cost. An empty AssignedTo means the item
// is still unassigned.
type Item struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	AssignedTo []int   `json:"assigned_to"`
}

// Participant is a person among whom the bill is split.
type Participant struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Ledger errors
var (
	ErrItemNotFound        = errors.New("item not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrBlankName           = errors.New("participant name cannot be blank")
	ErrLastParticipant     = errors.New("at least one participant is required")
)

// Ledger owns the canonical in-memory bill state: items, participants,
// and the assignment relation between them. It is not safe for
// concurrent use; the owning session serializes access.
type Ledger struct {
	items        []Item
	participants []Participant
}

// NewLedger creates a Ledger seeded with the default participant pair.
func NewLedger() *Ledger {
	return &Ledger{participants: seedParticipants()}
}

func seedParticipants() []Participant {
	return []Participant{
		{ID: 1, Name: "Yo"},
		{ID: 2, Name: "Amigo"},
	}
}

// Initialize replaces the item list with freshly extracted items,
// assigning sequential IDs in input order, each unassigned. Participants
// are not altered.
func (l *Ledger) Initialize(raw []scanning.RawItem) {
	items := make([]Item, 0, len(raw))
	for i, r := range raw {
		items = append(items, Item{
			ID:         i,
			Name:       r.Name,
			Price:      r.Price,
			AssignedTo: []int{},
		})
	}
	l.items = items
}

// Items returns a copy of the current item list.
func (l *Ledger) Items() []Item {
	items := make([]Item, len(l.items))
	for i, item := range l.items {
		items[i] = item
		items[i].AssignedTo = append([]int{}, item.AssignedTo...)
	}
	return items
}

// Participants returns a copy of the current participant list.
func (l *Ledger) Participants() []Participant {
	return append([]Participant(nil), l.participants...)
}

// AddParticipant appends a participant with the next free ID. When name
// is blank a default "Persona N" label is used.
func (l *Ledger) AddParticipant(name string) Participant {
	id := 1
	for _, p := range l.participants {
		if p.ID >= id {
			id = p.ID + 1
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Persona %d", id)
	}

	p := Participant{ID: id, Name: name}
	l.participants = append(l.participants, p)
	return p
}

// RenameParticipant changes a participant's display name. Blank names
// are rejected and the previous name is retained.
func (l *Ledger) RenameParticipant(id int, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrBlankName
	}
	for i, p := range l.participants {
		if p.ID == id {
			l.participants[i].Name = name
			return nil
		}
	}
	return ErrParticipantNotFound
}

// RemoveParticipant removes a participant and strips their ID from every
// item's assignment set. The last remaining participant cannot be
// removed.
func (l *Ledger) RemoveParticipant(id int) error {
	if len(l.participants) <= 1 {
		return ErrLastParticipant
	}

	idx := -1
	for i, p := range l.participants {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrParticipantNotFound
	}

	l.participants = append(l.participants[:idx], l.participants[idx+1:]...)

	for i, item := range l.items {
		assigned := item.AssignedTo[:0]
		for _, pid := range item.AssignedTo {
			if pid != id {
				assigned = append(assigned, pid)
			}
		}
		l.items[i].AssignedTo = assigned
	}
	return nil
}

// SetAssignment replaces the assignment set for one item wholesale.
// Duplicate participant IDs are collapsed and IDs of participants that
// no longer exist are dropped, preserving the subset invariant.
func (l *Ledger) SetAssignment(itemID int, participantIDs []int) error {
	idx := -1
	for i, item := range l.items {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrItemNotFound
	}

	live := make(map[int]bool, len(l.participants))
	for _, p := range l.participants {
		live[p.ID] = true
	}

	assigned := make([]int, 0, len(participantIDs))
	seen := make(map[int]bool, len(participantIDs))
	for _, pid := range participantIDs {
		if !live[pid] || seen[pid] {
			continue
		}
		seen[pid] = true
		assigned = append(assigned, pid)
	}

	l.items[idx].AssignedTo = assigned
	return nil
}

// Reset clears the items and re-seeds the participants to the default
// pair, returning the ledger to its pre-extraction state.
func (l *Ledger) Reset() {
	l.items = nil
	l.participants = seedParticipants()
}
