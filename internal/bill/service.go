package bill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidgf/splitscan/internal/scanning"
)

// Session phases. A receipt is only ever applied to a session that is
// still awaiting one; afterwards a reset is required before re-scanning.
const (
	PhaseAwaitingReceipt = "awaiting_receipt"
	PhaseAssigning       = "assigning"
)

// Service errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoItems         = errors.New("no items found on the receipt")
	ErrAlreadyScanned  = errors.New("session already has a receipt; reset to scan a new one")
	ErrEmptyUpload     = errors.New("no image data uploaded")
)

// IDGenerator generates unique IDs for sessions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Session is one group's bill-splitting workspace: a ledger plus the
// phase it is in. Sessions live in memory only.
type Session struct {
	ID        string
	Phase     string
	Ledger    *Ledger
	CreatedAt time.Time
}

// Service owns the session registry and orchestrates the extraction
// pipeline in front of each session's ledger. The mutex only guards the
// registry and ledger access from concurrent HTTP handlers; each session
// still has a single logical writer.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	extractor  scanning.Extractor
	normalizer *scanning.Normalizer
	cache      scanning.Cache

	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a Service. normalizer may be nil to forward
// original image bytes unmodified; cache may be nil to disable
// extraction caching.
func NewService(extractor scanning.Extractor, normalizer *scanning.Normalizer, cache scanning.Cache) *Service {
	return NewServiceWithDeps(extractor, normalizer, cache, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(extractor scanning.Extractor, normalizer *scanning.Normalizer, cache scanning.Cache, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		sessions:    make(map[string]*Session),
		extractor:   extractor,
		normalizer:  normalizer,
		cache:       cache,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// CreateSession registers a new session awaiting its receipt.
func (s *Service) CreateSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &Session{
		ID:        s.idGenerator.Generate(),
		Phase:     PhaseAwaitingReceipt,
		Ledger:    NewLedger(),
		CreatedAt: s.timeSource.Now(),
	}
	s.sessions[session.ID] = session
	return session
}

// ProcessReceipt runs the extraction pipeline for a session: normalize
// the image, consult the cache, call the extraction backend, and load
// the resulting items into the ledger.
//
// The backend call happens outside the lock; the result is applied only
// if the session is still awaiting its receipt when the call returns, so
// an abandoned upload can never clobber ledger state.
func (s *Service) ProcessReceipt(ctx context.Context, sessionID string, imageData []byte, contentType string) ([]Item, error) {
	if len(imageData) == 0 {
		return nil, ErrEmptyUpload
	}

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if session.Phase != PhaseAwaitingReceipt {
		s.mu.Unlock()
		return nil, ErrAlreadyScanned
	}
	s.mu.Unlock()

	if s.normalizer != nil {
		normalized, mimeType, err := s.normalizer.Normalize(imageData, contentType)
		if err != nil {
			return nil, fmt.Errorf("normalizing image: %w", err)
		}
		imageData, contentType = normalized, mimeType
	}

	items, err := s.extract(ctx, imageData, contentType)
	if err != nil {
		slog.Error("Failed to extract receipt items",
			"session", sessionID,
			"content_type", contentType,
			"image_size", len(imageData),
			"error", err,
		)
		return nil, err
	}

	if len(items) == 0 {
		return nil, ErrNoItems
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok = s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if session.Phase != PhaseAwaitingReceipt {
		return nil, ErrAlreadyScanned
	}

	session.Ledger.Initialize(items)
	session.Phase = PhaseAssigning
	return session.Ledger.Items(), nil
}

// extract returns cached items when the same image was scanned before,
// otherwise calls the backend and stores the result.
func (s *Service) extract(ctx context.Context, imageData []byte, contentType string) ([]scanning.RawItem, error) {
	if s.cache != nil {
		if items, ok, err := s.cache.Get(imageData); err != nil {
			slog.Warn("Extraction cache read failed", "error", err)
		} else if ok {
			slog.Debug("Extraction cache hit", "items", len(items))
			return items, nil
		}
	}

	items, err := s.extractor.ExtractItems(ctx, imageData, contentType)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Put(imageData, items); err != nil {
			slog.Warn("Extraction cache write failed", "error", err)
		}
	}
	return items, nil
}

// AddParticipant adds a participant to a session's bill.
func (s *Service) AddParticipant(sessionID, name string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return Participant{}, ErrSessionNotFound
	}
	return session.Ledger.AddParticipant(name), nil
}

// RenameParticipant renames a participant on a session's bill.
func (s *Service) RenameParticipant(sessionID string, participantID int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	return session.Ledger.RenameParticipant(participantID, name)
}

// RemoveParticipant removes a participant from a session's bill.
func (s *Service) RemoveParticipant(sessionID string, participantID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	return session.Ledger.RemoveParticipant(participantID)
}

// SetAssignment replaces the assignment set for one item.
func (s *Service) SetAssignment(sessionID string, itemID int, participantIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	return session.Ledger.SetAssignment(itemID, participantIDs)
}

// Reset returns a session to its pre-extraction state.
func (s *Service) Reset(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	session.Ledger.Reset()
	session.Phase = PhaseAwaitingReceipt
	return nil
}

// SessionView is a consistent snapshot of a session for read access.
type SessionView struct {
	ID           string
	Phase        string
	Items        []Item
	Participants []Participant
	Totals       Totals
}

// Snapshot returns a consistent view of a session and its derived
// settlement totals.
func (s *Service) Snapshot(sessionID string) (SessionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return SessionView{}, ErrSessionNotFound
	}

	items := session.Ledger.Items()
	participants := session.Ledger.Participants()
	return SessionView{
		ID:           session.ID,
		Phase:        session.Phase,
		Items:        items,
		Participants: participants,
		Totals:       ComputeTotals(items, participants),
	}, nil
}
