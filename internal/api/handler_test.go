package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odisseyhq/odissey/internal/domain"
	"github.com/odisseyhq/odissey/internal/story"
	"github.com/odisseyhq/odissey/internal/store"
)

const testNarration = "You creak the door open and step into the dusty hall. " +
	"Moonlight pools on the floorboards.\n\n1) Step inside\n2) Call out\n3) Turn back"

// fakeEngine is a scripted Engine.
type fakeEngine struct {
	response string
	err      error
	chunks   []string
}

func (f *fakeEngine) Turn(_ context.Context, sessionID, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeEngine) StreamTurn(_ context.Context, _, _ string, cb story.StreamCallbacks) (string, error) {
	for _, c := range f.chunks {
		if cb.OnChunk != nil {
			cb.OnChunk(c)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeEngine) Opening(_ context.Context, _ *domain.World) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// fakeRepo is an in-memory Repository for handler tests.
type fakeRepo struct {
	mu       sync.Mutex
	worlds   map[string]*domain.World
	sessions map[string]*domain.StorySession
	messages map[string][]*domain.Message
	pingErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		worlds:   make(map[string]*domain.World),
		sessions: make(map[string]*domain.StorySession),
		messages: make(map[string][]*domain.Message),
	}
}

func (f *fakeRepo) CreateWorld(_ context.Context, w *domain.World) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worlds[w.ID] = w
	return nil
}

func (f *fakeRepo) GetWorld(_ context.Context, id string) (*domain.World, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.worlds[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return w, nil
}

func (f *fakeRepo) ListWorlds(_ context.Context, _ int) ([]*domain.World, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.World
	for _, w := range f.worlds {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeRepo) ListDemoWorlds(_ context.Context, _ int) ([]*domain.World, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.World
	for _, w := range f.worlds {
		if w.IsDemo {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateSession(_ context.Context, s *domain.StorySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, id string) (*domain.StorySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) AppendMessage(_ context.Context, sessionID, role, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &domain.Message{SessionID: sessionID, Role: role, Content: content, CreatedAt: time.Now()}
	f.messages[sessionID] = append(f.messages[sessionID], m)
	return m, nil
}

func (f *fakeRepo) RecentMessages(_ context.Context, sessionID string, n int) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (f *fakeRepo) ListMessages(_ context.Context, sessionID string) ([]*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}

func (f *fakeRepo) CountMessages(_ context.Context, sessionID, role string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.messages[sessionID] {
		if m.Role == role {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) GetWorldState(_ context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return "", store.ErrNotFound
	}
	return s.WorldState, nil
}

func (f *fakeRepo) SetWorldState(_ context.Context, sessionID, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	s.WorldState = state
	return nil
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error               { return nil }

func newTestRouter(repo store.Repository, engine Engine) http.Handler {
	r := chi.NewRouter()
	NewHandler(repo, engine).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	r := chi.NewRouter()
	NewHealthHandler(repo).RegisterHealth(r)

	rec := doJSON(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	repo.pingErr = errors.New("db down")
	rec = doJSON(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCreateWorldValidation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeEngine{})

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{not json"},
		{name: "missing title", body: `{"description": "a place"}`},
		{name: "missing description", body: `{"title": "Somewhere"}`},
		{name: "blank title", body: `{"title": "   ", "description": "a place"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, router, http.MethodPost, "/api/worlds", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateAndGetWorld(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	router := newTestRouter(repo, &fakeEngine{})

	rec := doJSON(t, router, http.MethodPost, "/api/worlds",
		`{"title": "The Hollow Manor", "description": "A gothic estate", "genre": "gothic", "is_demo": true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	worldID, _ := body["world_id"].(string)
	if worldID == "" {
		t.Fatal("response missing world_id")
	}

	rec = doJSON(t, router, http.MethodGet, "/api/worlds/"+worldID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET world status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["title"]; got != "The Hollow Manor" {
		t.Fatalf("title = %v, want The Hollow Manor", got)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/worlds/demo", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET demo worlds status = %d, want 200", rec.Code)
	}
}

func TestGetWorldNotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeEngine{})
	rec := doJSON(t, router, http.MethodGet, "/api/worlds/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateSessionPersistsOpening(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	world := &domain.World{ID: "world-1", Title: "The Hollow Manor", InitialState: "The manor sleeps."}
	if err := repo.CreateWorld(context.Background(), world); err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}
	router := newTestRouter(repo, &fakeEngine{response: testNarration})

	rec := doJSON(t, router, http.MethodPost, "/api/sessions", `{"world_id": "world-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("response missing session_id")
	}
	if body["opening"] != testNarration {
		t.Fatalf("opening = %v, want narration", body["opening"])
	}
	choices, _ := body["choices"].([]interface{})
	if len(choices) != 3 {
		t.Fatalf("choices = %d, want 3", len(choices))
	}

	session, err := repo.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.WorldState != "The manor sleeps." {
		t.Fatalf("world state = %q, want initial state", session.WorldState)
	}
	msgs, _ := repo.ListMessages(context.Background(), sessionID)
	if len(msgs) != 1 || msgs[0].Role != domain.RoleNarrator {
		t.Fatalf("persisted messages = %+v, want one narrator message", msgs)
	}
}

func TestCreateSessionUnknownWorld(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeEngine{response: testNarration})
	rec := doJSON(t, router, http.MethodPost, "/api/sessions", `{"world_id": "nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestInteract(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), &fakeEngine{response: testNarration})
	rec := doJSON(t, router, http.MethodPost, "/api/sessions/session-1/interact", `{"message": "I go inside."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["response"] != testNarration {
		t.Fatalf("response = %v, want narration", body["response"])
	}
	choices, _ := body["choices"].([]interface{})
	if len(choices) != 3 {
		t.Fatalf("choices = %d, want 3", len(choices))
	}
}

func TestInteractErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		engine     Engine
		body       string
		wantStatus int
	}{
		{
			name:       "empty message",
			engine:     &fakeEngine{response: testNarration},
			body:       `{"message": "  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown session",
			engine:     &fakeEngine{err: store.ErrNotFound},
			body:       `{"message": "hello"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "generation failed",
			engine:     &fakeEngine{err: story.ErrGenerationFailed},
			body:       `{"message": "hello"}`,
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(newFakeRepo(), tt.engine)
			rec := doJSON(t, router, http.MethodPost, "/api/sessions/s1/interact", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestInteractStreamEmitsNDJSON(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		response: testNarration,
		chunks:   []string{"You creak ", "the door open."},
	}
	router := newTestRouter(newFakeRepo(), engine)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/s1/interact/stream", `{"message": "I enter."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q, want application/x-ndjson", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("frames = %d, want 3\nbody: %s", len(lines), rec.Body.String())
	}
	var last struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode final frame: %v", err)
	}
	if last.Type != "complete" || last.Content != testNarration {
		t.Fatalf("final frame = %+v, want complete with full narration", last)
	}
}

func TestInteractStreamFailureEmitsErrorEvent(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{err: story.ErrGenerationFailed, chunks: []string{"partial "}}
	router := newTestRouter(newFakeRepo(), engine)

	rec := doJSON(t, router, http.MethodPost, "/api/sessions/s1/interact/stream", `{"message": "I enter."}`)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var last struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode final frame: %v", err)
	}
	if last.Type != "error" {
		t.Fatalf("final frame type = %q, want error", last.Type)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("disabled when token empty", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		BearerAuth("")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/worlds", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("rejects missing header", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		BearerAuth("secret")(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/worlds", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/worlds", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		BearerAuth("secret")(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("accepts query parameter token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/ws?access_token=secret", nil)
		rec := httptest.NewRecorder()
		BearerAuth("secret")(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})

	t.Run("rejects wrong query parameter token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/worlds?access_token=wrong", nil)
		rec := httptest.NewRecorder()
		BearerAuth("secret")(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("accepts correct token", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/api/worlds", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		BearerAuth("secret")(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
	})
}
