package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/postgres"
	"github.com/cwrk-planet/coderoom/internal/room"
	"github.com/cwrk-planet/coderoom/internal/service"
	httpmw "github.com/cwrk-planet/coderoom/internal/transport/http/middleware"
	"github.com/cwrk-planet/coderoom/internal/wire"
	"github.com/cwrk-planet/coderoom/pkg/logger"
	"github.com/cwrk-planet/coderoom/pkg/protocol"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	roomSvc    *service.RoomService
	memberSvc  *service.MemberService
	execSvc    *service.ExecutionService
	problemSvc *service.ProblemService
}

func NewHandler(rooms *service.RoomService, members *service.MemberService, exec *service.ExecutionService, problems *service.ProblemService) *Handler {
	return &Handler{
		roomSvc:    rooms,
		memberSvc:  members,
		execSvc:    exec,
		problemSvc: problems,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// writeError maps domain errors to a status and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 && status != http.StatusBadGateway {
		logger.FromContext(r.Context()).Error(op, slog.Any("err", err))
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrProblemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParticipant),
		errors.Is(err, domain.ErrUnsupportedLanguage),
		errors.Is(err, postgres.ErrInvalidCursor):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotInRoom):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrExecutionFailure):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRoomClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func roomCode(r *http.Request) string {
	return domain.NormalizeRoomCode(chi.URLParam(r, "code"))
}

func roomItem(rm *domain.Room) RoomItem {
	return RoomItem{
		Code:      rm.Code,
		ProblemID: rm.ProblemID,
		OwnerID:   rm.OwnerID,
		Language:  rm.Language,
		CreatedAt: rm.CreatedAt,
	}
}

// POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = string(httpmw.ParticipantFromCtx(r.Context()))
	}
	if req.ProblemID <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "problem_id is required"})
		return
	}

	rm, err := h.roomSvc.CreateRoom(r.Context(), req.ProblemID, req.OwnerID)
	if err != nil {
		writeError(w, r, "handler.CreateRoom", err)
		return
	}
	writeJSON(w, http.StatusCreated, roomItem(rm))
}

// GET /rooms?participant=ID, falling back to X-Participant-ID
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	pid := domain.ParticipantID(strings.TrimSpace(r.URL.Query().Get("participant")))
	if pid == "" {
		pid = httpmw.ParticipantFromCtx(r.Context())
	}
	if pid == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "participant is required"})
		return
	}

	rooms, err := h.memberSvc.ListRooms(r.Context(), pid)
	if err != nil {
		writeError(w, r, "handler.ListRooms", err)
		return
	}
	resp := RoomsResponse{Items: make([]RoomItem, 0, len(rooms))}
	for i := range rooms {
		resp.Items = append(resp.Items, roomItem(&rooms[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /rooms/{code}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.roomSvc.GetRoom(r.Context(), roomCode(r))
	if err != nil {
		writeError(w, r, "handler.GetRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, roomItem(rm))
}

// GET /rooms/{code}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	list, err := h.memberSvc.ListParticipants(r.Context(), roomCode(r))
	if err != nil {
		writeError(w, r, "handler.GetParticipants", err)
		return
	}
	resp := ParticipantsResponse{Items: make([]ParticipantItem, 0, len(list))}
	for _, p := range list {
		resp.Items = append(resp.Items, ParticipantItem{
			ParticipantID: string(p.ID),
			Online:        p.Online,
			JoinedAt:      p.JoinedAt,
			LastSeen:      p.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /rooms/{code}/leave
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	pid := httpmw.ParticipantFromCtx(r.Context())
	if err := h.memberSvc.LeaveRoom(r.Context(), roomCode(r), pid); err != nil {
		if errors.Is(err, domain.ErrNotInRoom) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "participant not in room"})
			return
		}
		writeError(w, r, "handler.LeaveRoom", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// GET /rooms/{code}/code/{participantID}
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	pid := domain.ParticipantID(chi.URLParam(r, "participantID"))
	src, err := h.memberSvc.CodeOf(r.Context(), code, pid)
	if err != nil {
		if errors.Is(err, domain.ErrNotInRoom) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "participant not in room"})
			return
		}
		writeError(w, r, "handler.GetCode", err)
		return
	}
	writeJSON(w, http.StatusOK, CodeResponse{Room: code, ParticipantID: string(pid), Code: src})
}

// GET /rooms/{code}/submissions?after=&limit=
func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	limit := postgres.DefaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	subs, next, err := h.execSvc.History(r.Context(), roomCode(r), after, limit)
	if err != nil {
		writeError(w, r, "handler.ListSubmissions", err)
		return
	}
	resp := SubmissionsResponse{Items: make([]protocol.SubmissionItem, 0, len(subs)), NextCursor: next}
	for _, s := range subs {
		resp.Items = append(resp.Items, wire.SubmissionFromDomain(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /rooms/{code}/run
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	res, err := h.execSvc.Run(r.Context(), room.RunRequest{
		Room:          roomCode(r),
		ParticipantID: httpmw.ParticipantFromCtx(r.Context()),
		Code:          req.Code,
		Language:      req.Language,
		SampleOnly:    req.SampleOnly,
		Share:         req.Share,
	})
	if err != nil {
		writeError(w, r, "handler.Run", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.RunResultFromDomain(res))
}

// POST /rooms/{code}/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}
	res, err := h.execSvc.Submit(r.Context(), room.SubmitRequest{
		Room:          roomCode(r),
		ParticipantID: httpmw.ParticipantFromCtx(r.Context()),
		Code:          req.Code,
		Language:      req.Language,
	})
	if err != nil {
		writeError(w, r, "handler.Submit", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.RunResultFromDomain(res))
}

// GET /problems/{id}
func (h *Handler) GetProblem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid problem id"})
		return
	}
	p, err := h.problemSvc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, "handler.GetProblem", err)
		return
	}
	writeJSON(w, http.StatusOK, ProblemItem{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		Difficulty:   p.Difficulty,
		SampleInput:  p.SampleInput,
		SampleOutput: p.SampleOutput,
	})
}
