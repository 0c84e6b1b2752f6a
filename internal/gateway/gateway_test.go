package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkbray/jemima/internal/models"
	"github.com/mkbray/jemima/internal/pack"
	"github.com/mkbray/jemima/internal/room"
	"github.com/mkbray/jemima/internal/store"
)

func testServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	st := store.NewMemory(fc)
	repo := room.NewRepository(st)
	seeder := pack.NewSeeder(st, fc)
	srv := NewServer(repo, seeder, fc, Config{BaseURL: "https://jemima.example"})
	return srv, srv.Handler()
}

func seedBody(code string) []byte {
	rounds := make(map[string]models.PackRound, models.MaxRound)
	for n := 1; n <= models.MaxRound; n++ {
		var host, guest []models.Item
		for i := 0; i < models.TripletSize; i++ {
			host = append(host, models.Item{
				Prompt:  fmt.Sprintf("host r%d q%d", n, i),
				Options: []string{"yes", "no"},
				Correct: "A",
			})
			guest = append(guest, models.Item{
				Prompt:  fmt.Sprintf("guest r%d q%d", n, i),
				Options: []string{"left", "right"},
				Correct: "B",
			})
		}
		rounds[strconv.Itoa(n)] = models.PackRound{HostItems: host, GuestItems: guest}
	}
	body, _ := json.Marshal(map[string]any{
		"questions": models.QuestionPack{
			Version: models.QuestionPackVersion,
			Meta:    models.PackMeta{RoomCode: code, HostUID: "host-uid"},
			Rounds:  rounds,
		},
		"maths": models.MathsPack{
			Version: models.MathsPackVersion,
			Meta:    models.PackMeta{RoomCode: code},
			Prompts: []string{"clue"},
		},
	})
	return body
}

func doJSON(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, h := testServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSeedRoomEndpoint(t *testing.T) {
	_, h := testServer(t)

	rec := doJSON(t, h, http.MethodPost, "/rooms", seedBody("SEA"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SEA", resp["code"])
	assert.Equal(t, string(models.PhaseKeyRoom), resp["phase"])

	// Re-seeding the same code conflicts.
	rec = doJSON(t, h, http.MethodPost, "/rooms", seedBody("SEA"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Garbage and missing packs are client errors.
	rec = doJSON(t, h, http.MethodPost, "/rooms", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/rooms", []byte(`{"maths":null}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An invalid pack is rejected, not partially seeded.
	rec = doJSON(t, h, http.MethodPost, "/rooms", []byte(`{"questions":{"version":"wrong"}}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinEndpoint(t *testing.T) {
	_, h := testServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/rooms", seedBody("SEA")).Code)

	rec := doJSON(t, h, http.MethodPost, "/rooms/SEA/join", []byte(`{"uid":"guest-uid"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(models.SideGuest), resp["side"])

	// Same guest again is fine, a different one is turned away.
	rec = doJSON(t, h, http.MethodPost, "/rooms/SEA/join", []byte(`{"uid":"guest-uid"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/rooms/SEA/join", []byte(`{"uid":"other-uid"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/rooms/ZZZ/join", []byte(`{"uid":"guest-uid"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/rooms/lowercase/join", []byte(`{"uid":"guest-uid"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/rooms/SEA/join", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQREndpoint(t *testing.T) {
	_, h := testServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, h, http.MethodPost, "/rooms", seedBody("SEA")).Code)

	rec := doJSON(t, h, http.MethodGet, "/rooms/SEA/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	// PNG magic bytes.
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = doJSON(t, h, http.MethodGet, "/rooms/ZZZ/qr", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
