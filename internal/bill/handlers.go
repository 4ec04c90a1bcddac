package bill

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/davidgf/splitscan/internal/scanning"
)

// maxUploadSize bounds receipt uploads; high-resolution phone photos
// can run large before normalization.
const maxUploadSize = int64(50 << 20) // 50MB

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type totalsResponse struct {
	PerPerson  map[string]float64 `json:"per_person"`
	GrandTotal float64            `json:"grand_total"`
	Unassigned float64            `json:"unassigned"`
}

type sessionResponse struct {
	ID           string         `json:"id"`
	Phase        string         `json:"phase"`
	Participants []Participant  `json:"participants"`
	Items        []Item         `json:"items"`
	Totals       totalsResponse `json:"totals"`
}

func newSessionResponse(view SessionView) sessionResponse {
	perPerson := make(map[string]float64, len(view.Totals.PerPerson))
	for pid, amount := range view.Totals.PerPerson {
		perPerson[strconv.Itoa(pid)] = DisplayAmount(amount)
	}
	return sessionResponse{
		ID:           view.ID,
		Phase:        view.Phase,
		Participants: view.Participants,
		Items:        view.Items,
		Totals: totalsResponse{
			PerPerson:  perPerson,
			GrandTotal: DisplayAmount(view.Totals.GrandTotal),
			Unassigned: DisplayAmount(view.Totals.Unassigned),
		},
	}
}

// classifyError maps an error to its HTTP status and taxonomy kind. The
// message of every mapped error is safe to show to the user directly.
func classifyError(err error) (int, string) {
	var malformed *scanning.MalformedOutputError
	var exhausted *scanning.AllModelsUnavailableError

	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrParticipantNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBlankName), errors.Is(err, ErrLastParticipant):
		return http.StatusBadRequest, "input"
	case errors.Is(err, ErrAlreadyScanned):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrEmptyUpload), errors.Is(err, scanning.ErrImageDecode):
		return http.StatusBadRequest, "input"
	case errors.Is(err, ErrNoItems):
		return http.StatusUnprocessableEntity, "no_items"
	case errors.Is(err, scanning.ErrMissingAPIKey):
		return http.StatusInternalServerError, "configuration"
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.As(err, &malformed):
		return http.StatusBadGateway, "malformed_output"
	case errors.Is(err, scanning.ErrInvalidFormat):
		return http.StatusBadGateway, "invalid_format"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleCreateSession starts a new bill-splitting session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := s.service.CreateSession()
	view, err := s.service.Snapshot(session.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(view))
}

// handleGetSession returns the session with its derived totals
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(view))
}

// handleUploadReceipt accepts a receipt image and runs extraction
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Maximum size is 50MB."
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "input"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No file was selected. Please choose an image to upload.", Kind: "input"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Error reading file. Please try again.", Kind: "input"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFromFilename(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	if _, err := s.service.ProcessReceipt(r.Context(), sessionID, data, contentType); err != nil {
		slog.Error("Error processing receipt", "session", sessionID, "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	view, err := s.service.Snapshot(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(view))
}

// handleAddParticipant adds a participant to the session
func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body", Kind: "input"})
		return
	}

	participant, err := s.service.AddParticipant(r.PathValue("id"), body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, participant)
}

// handleRenameParticipant renames a participant
func (s *Server) handleRenameParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid participant id", Kind: "input"})
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body", Kind: "input"})
		return
	}

	if err := s.service.RenameParticipant(r.PathValue("id"), participantID, body.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveParticipant removes a participant and cascades through
// item assignments
func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid participant id", Kind: "input"})
		return
	}

	if err := s.service.RemoveParticipant(r.PathValue("id"), participantID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetAssignment replaces the assignment set for one item
func (s *Server) handleSetAssignment(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.Atoi(r.PathValue("itemID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid item id", Kind: "input"})
		return
	}

	var body struct {
		ParticipantIDs []int `json:"participant_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body", Kind: "input"})
		return
	}

	if err := s.service.SetAssignment(r.PathValue("id"), itemID, body.ParticipantIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetTotals returns only the derived settlement totals
func (s *Server) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(view).Totals)
}

// handleReset clears the session back to its pre-extraction state
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Reset(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	view, err := s.service.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(view))
}

// contentTypeFromFilename guesses a MIME type from the file extension
// when the upload does not declare one.
func contentTypeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
