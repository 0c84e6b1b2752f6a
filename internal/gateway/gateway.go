// Package gateway exposes the room engine to browser clients: a small HTTP
// API for seeding and joining rooms, and a websocket per client that streams
// view projections out and accepts phase commands in.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/mkbray/jemima/internal/engine"
	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/pack"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

// Config holds gateway settings.
type Config struct {
	// BaseURL is the externally visible URL, used to build join links.
	BaseURL string
	// Engine is passed to every session created for a websocket client.
	Engine engine.Config
}

// Server wires the HTTP surface to the engine.
type Server struct {
	repo   *room.Repository
	seeder *pack.Seeder
	clock  clockwork.Clock
	cfg    Config
}

// NewServer builds a gateway server.
func NewServer(repo *room.Repository, seeder *pack.Seeder, clock clockwork.Clock, cfg Config) *Server {
	return &Server{repo: repo, seeder: seeder, clock: clock, cfg: cfg}
}

// Handler returns the routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/rooms", s.handleSeedRoom)
	r.Route("/rooms/{code}", func(r chi.Router) {
		r.Post("/join", s.handleJoin)
		r.Get("/qr", s.handleQR)
		r.Get("/ws", s.handleWS)
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Debug().Err(err).Msg("write health response")
	}
}

// seedRequest is the body of POST /rooms: the plaintext pack payloads.
type seedRequest struct {
	Questions *models.QuestionPack `json:"questions"`
	Maths     *models.MathsPack    `json:"maths,omitempty"`
}

func (s *Server) handleSeedRoom(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid pack payload")
		return
	}
	if req.Questions == nil {
		httpError(w, http.StatusBadRequest, "questions pack is required")
		return
	}
	rm, err := s.seeder.Seed(r.Context(), req.Questions, req.Maths)
	if err != nil {
		switch {
		case errors.Is(err, pack.ErrRoomExists):
			httpError(w, http.StatusConflict, err.Error())
		case store.IsTransient(err):
			httpError(w, http.StatusServiceUnavailable, "store unavailable, try again")
		default:
			httpError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":  rm.Code,
		"phase": rm.Phase,
	})
}

type joinRequest struct {
	UID string `json:"uid"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !models.ValidRoomCode(code) {
		httpError(w, http.StatusBadRequest, "invalid room code")
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UID == "" {
		httpError(w, http.StatusBadRequest, "uid is required")
		return
	}
	if err := s.repo.ClaimGuestSeat(r.Context(), code, req.UID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpError(w, http.StatusNotFound, "no such room")
		case errors.Is(err, store.ErrAlreadyExists):
			httpError(w, http.StatusConflict, "guest seat already taken")
		case store.IsTransient(err):
			httpError(w, http.StatusServiceUnavailable, "store unavailable, try again")
		default:
			httpError(w, http.StatusInternalServerError, "join failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "side": models.SideGuest})
}

// handleQR serves a PNG QR code of the guest join link for the room.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !models.ValidRoomCode(code) {
		httpError(w, http.StatusBadRequest, "invalid room code")
		return
	}
	if _, err := s.repo.GetRoom(r.Context(), code); err != nil {
		httpError(w, http.StatusNotFound, "no such room")
		return
	}
	png, err := qrcode.Encode(s.cfg.BaseURL+"/rooms/"+code+"/join", qrcode.Medium, 256)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Str("room", code).Msg("write qr response")
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write json response")
	}
}
