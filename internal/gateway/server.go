package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/fokuslabs/focusgate/internal/feed"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
)

// Server exposes the row API the agent's remote.HTTPStore speaks, the token
// endpoints, and the websocket feed.
type Server struct {
	addr string
	repo Repository
	hub  *Hub
	auth *Authenticator
	log  logging.Logger

	// mutations to one kind are serialized so feed subscribers observe
	// events in commit order.
	mu sync.Mutex
}

func NewServer(addr string, repo Repository, auth *Authenticator, log logging.Logger) *Server {
	return &Server{
		addr: addr,
		repo: repo,
		hub:  NewHub(),
		auth: auth,
		log:  log.With("module", "gateway"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /v1/auth/token", s.handleToken)
	mux.Handle("POST /v1/rows/{kind}/select", s.authenticated(s.handleSelect))
	mux.Handle("PUT /v1/rows/{kind}/{id}", s.authenticated(s.handleUpsert))
	mux.Handle("PATCH /v1/rows/{kind}/{id}", s.authenticated(s.handleUpdate))
	mux.Handle("DELETE /v1/rows/{kind}/{id}", s.authenticated(s.handleDelete))
	mux.Handle("GET /v1/feed", s.authenticated(s.handleFeed))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info(ctx, "stopping gateway...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info(ctx, "starting gateway", "address", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ctxKey int

const userKey ctxKey = 0

func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		userID, err := s.auth.Verify(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

func requestUser(r *http.Request) string {
	userID, _ := r.Context().Value(userKey).(string)
	return userID
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		UserID   string `json:"user_id"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" || req.UserID == "" || req.Secret == "" {
		http.Error(w, "malformed registration", http.StatusBadRequest)
		return
	}

	if err := s.auth.Register(r.Context(), req.DeviceID, req.UserID, req.Secret); err != nil {
		if errors.Is(err, ErrDeviceExists) {
			http.Error(w, "device already registered", http.StatusConflict)
			return
		}
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed token request", http.StatusBadRequest)
		return
	}

	token, err := s.auth.Token(r.Context(), req.DeviceID, req.Secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]string{"token": token})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(r.PathValue("kind"))

	var q struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil || q.Field == "" {
		http.Error(w, "malformed select", http.StatusBadRequest)
		return
	}

	rows, err := s.repo.SelectEq(r.Context(), kind, q.Field, q.Value)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(r.PathValue("kind"))
	id := r.PathValue("id")

	data, owner, ok := s.readRow(w, r, kind, id)
	if !ok {
		return
	}

	// Approvals run the counting protocol instead of a plain upsert.
	if kind == models.KindUnlockApproval {
		s.recordApproval(w, r, id, data)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, err := s.repo.Upsert(r.Context(), kind, id, owner, data)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	action := feed.ActionUpdate
	if inserted {
		action = feed.ActionInsert
	}
	s.hub.Publish(feed.Topic(kind, owner), feed.Event{Action: action, Kind: kind, Row: data})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(r.PathValue("kind"))
	id := r.PathValue("id")

	data, owner, ok := s.readRow(w, r, kind, id)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Update(r.Context(), kind, id, data); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "row not found", http.StatusNotFound)
			return
		}
		s.internalError(w, r, err)
		return
	}

	s.hub.Publish(feed.Topic(kind, owner), feed.Event{Action: feed.ActionUpdate, Kind: kind, Row: data})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(r.PathValue("kind"))
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.repo.Delete(r.Context(), kind, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "row not found", http.StatusNotFound)
			return
		}
		s.internalError(w, r, err)
		return
	}

	if owner := ownerOf(kind, old); owner != "" {
		s.hub.Publish(feed.Topic(kind, owner), feed.Event{Action: feed.ActionDelete, Kind: kind, OldRow: old})
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordApproval persists the approval atomically with the request counter
// bump and broadcasts both resulting rows.
func (s *Server) recordApproval(w http.ResponseWriter, r *http.Request, id string, data json.RawMessage) {
	var approval models.UnlockApproval
	if err := json.Unmarshal(data, &approval); err != nil || approval.RequestID == "" {
		http.Error(w, "malformed approval", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.repo.RecordApproval(r.Context(), id, data, approval.RequestID, approval.PartnerUserID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			http.Error(w, "unlock request not found", http.StatusNotFound)
			return
		}
		s.internalError(w, r, err)
		return
	}

	if result.Inserted {
		s.hub.Publish(feed.Topic(models.KindUnlockApproval, approval.UserID),
			feed.Event{Action: feed.ActionInsert, Kind: models.KindUnlockApproval, Row: data})
		s.hub.Publish(feed.Topic(models.KindUnlockRequest, result.RequestOwner),
			feed.Event{Action: feed.ActionUpdate, Kind: models.KindUnlockRequest, Row: result.Request})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "missing topic", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}

	events, cancel := s.hub.Subscribe(topic)
	defer cancel()

	ctx := r.Context()
	s.log.Debug(ctx, "feed subscriber attached", "topic", topic, "user_id", requestUser(r))

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev := <-events:
			frame, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

// readRow decodes a row body and resolves its owner via the kind's scoping
// field.
func (s *Server) readRow(w http.ResponseWriter, r *http.Request, kind models.Kind, id string) (json.RawMessage, string, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return nil, "", false
	}

	owner := ownerOf(kind, data)
	if owner == "" {
		http.Error(w, "row missing owner field", http.StatusBadRequest)
		return nil, "", false
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		http.Error(w, "malformed row", http.StatusBadRequest)
		return nil, "", false
	}
	if rowID, _ := doc["id"].(string); rowID != id {
		http.Error(w, "row id mismatch", http.StatusBadRequest)
		return nil, "", false
	}
	return data, owner, true
}

func ownerOf(kind models.Kind, data json.RawMessage) string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	owner, _ := doc[models.OwnerField(kind)].(string)
	return owner
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(context.Background(), "failed to encode response", "error", err)
	}
}
