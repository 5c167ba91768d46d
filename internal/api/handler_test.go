//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/emperor-arena/internal/debate"
	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/ashureev/emperor-arena/internal/middleware"
	"github.com/ashureev/emperor-arena/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	sess     domain.Session
	startErr error
	contErr  error
	resets   int
	contCtx  context.Context
}

func newFakeController() *fakeController {
	return &fakeController{sess: domain.NewSession()}
}

func (f *fakeController) Snapshot() domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sess.Clone()
}

func (f *fakeController) SetTopic(topic string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess.Topic = topic
}

func (f *fakeController) SetParticipants(p domain.Participants) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess.Participants = p
}

func (f *fakeController) SetMaxRounds(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sess.MaxRounds = n
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.sess.Status = domain.StatusLoading
	return nil
}

func (f *fakeController) Continue(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contCtx = ctx
	return f.contErr
}

func (f *fakeController) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.sess.Status = domain.StatusIdle
}

func newTestRouter(t *testing.T, ctrl SessionController, transcripts TranscriptReader) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(ctrl, transcripts, nil).RegisterRoutes(r, nil)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "bar", got["foo"])
}

func TestSessionCommands(t *testing.T) {
	ctrl := newFakeController()
	h := newTestRouter(t, ctrl, nil)

	w := do(t, h, http.MethodPut, "/api/session/topic", `{"topic":"  Is centralization good?  "}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Is centralization good?", decodeSession(t, w).Session.Topic)

	w = do(t, h, http.MethodPut, "/api/session/participants",
		`{"proposer":"秦始皇","challenger":"汉武帝","arbitrator":"唐太宗"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, decodeSession(t, w).Session.Participants.Complete())

	w = do(t, h, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeSession(t, w)
	require.Nil(t, resp.Error)
	require.Equal(t, domain.StatusLoading, resp.Session.Status)

	w = do(t, h, http.MethodPost, "/api/session/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, ctrl.resets)

	w = do(t, h, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.StatusIdle, decodeSession(t, w).Session.Status)
}

func TestSessionCommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{
			name:   "validation",
			err:    &debate.Error{Kind: debate.KindValidation, Message: "debate topic is required"},
			status: http.StatusUnprocessableEntity,
			kind:   "validation",
		},
		{
			name:   "state",
			err:    &debate.Error{Kind: debate.KindState, Message: "start not allowed while paused"},
			status: http.StatusConflict,
			kind:   "state",
		},
		{
			name:   "connection",
			err:    &debate.Error{Kind: debate.KindConnection, Message: "continue debate: unexpected HTTP status"},
			status: http.StatusBadGateway,
			kind:   "connection",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = tt.err
			ctrl.contErr = tt.err
			h := newTestRouter(t, ctrl, nil)

			for _, path := range []string{"/api/session/start", "/api/session/continue"} {
				w := do(t, h, http.MethodPost, path, "")
				require.Equal(t, tt.status, w.Code, path)
				resp := decodeSession(t, w)
				require.NotNil(t, resp.Error)
				require.Equal(t, tt.kind, resp.Error.Kind)
				require.Equal(t, domain.StatusIdle, resp.Session.Status)
			}
		})
	}
}

func TestContinueOutlivesRequest(t *testing.T) {
	ctrl := newFakeController()
	h := newTestRouter(t, ctrl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/session/continue", nil).WithContext(ctx)
	cancel()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, ctrl.contCtx.Err())
}

func TestInvalidBody(t *testing.T) {
	h := newTestRouter(t, newFakeController(), nil)
	w := do(t, h, http.MethodPut, "/api/session/topic", `{"topic":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCharacters(t *testing.T) {
	h := newTestRouter(t, newFakeController(), nil)
	w := do(t, h, http.MethodGet, "/api/characters", "")
	require.Equal(t, http.StatusOK, w.Code)

	var chars []domain.Character
	require.NoError(t, json.NewDecoder(w.Body).Decode(&chars))
	require.Len(t, chars, 3)
	require.Equal(t, "秦始皇", chars[0].Name)
}

func TestTranscriptRoutes(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	sess := domain.NewSession()
	sess.Topic = "Is centralization good?"
	sess.Status = domain.StatusEnded
	sess.Round = 2
	sess.Messages = []domain.Message{
		{Round: 1, Role: domain.RoleProposer, Kind: domain.KindProposal, Content: "Cen", RevealTarget: "Centralization enables..."},
	}
	require.NoError(t, repo.SaveTranscript(context.Background(), domain.NewTranscript("t-1", sess, time.Unix(1_700_000_000, 0))))

	h := newTestRouter(t, newFakeController(), repo)

	w := do(t, h, http.MethodGet, "/api/transcripts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.TranscriptSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	require.Equal(t, "t-1", list[0].ID)

	w = do(t, h, http.MethodGet, "/api/transcripts/t-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tr domain.Transcript
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tr))
	require.Equal(t, "Centralization enables...", tr.Messages[0].Content)

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/transcripts/missing", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/transcripts?limit=abc", "").Code)
}

func TestTranscriptRoutesDisabled(t *testing.T) {
	h := newTestRouter(t, newFakeController(), nil)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/transcripts", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/transcripts/t-1", "").Code)
}

func TestCommandRoutesRateLimited(t *testing.T) {
	r := chi.NewRouter()
	limiter := middleware.NewRateLimiter(0.001, 1)
	NewHandler(newFakeController(), nil, nil).RegisterRoutes(r, limiter.Handler)

	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/api/session/reset", "").Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, r, http.MethodPost, "/api/session/reset", "").Code)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/session", "").Code)
}

func TestSetMaxRounds(t *testing.T) {
	h := newTestRouter(t, newFakeController(), nil)

	w := do(t, h, http.MethodPut, "/api/session/max_rounds", `{"max_rounds":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 3, decodeSession(t, w).Session.MaxRounds)

	for _, body := range []string{`{"max_rounds":0}`, `{"max_rounds":21}`, `{}`} {
		w = do(t, h, http.MethodPut, "/api/session/max_rounds", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}
