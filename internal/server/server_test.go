package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"bookshelf/internal/app"
	"bookshelf/pkg/auth"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/storage"
	"bookshelf/pkg/store"
)

const testPassword = "Str0ng!Passw0rd"

type testEnv struct {
	srv   *httptest.Server
	app   *app.App
	db    *store.GormStore
	genre domain.Genre
}

func newTestEnv(t *testing.T, loginLimit int) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.NewGormStore(store.Options{
		Driver: store.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	core, err := app.New(app.Config{
		Store:         db,
		Objects:       files,
		SessionSecret: strings.Repeat("k", 32),
		SessionTTL:    time.Hour,
		Revoker:       auth.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	redis := miniredis.RunT(t)
	s, err := New(Config{App: core, RedisAddr: redis.Addr(), LoginRateLimitPerMinute: loginLimit})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	genre, err := core.CreateGenre(context.Background(), "Novel")
	if err != nil {
		t.Fatalf("create genre: %v", err)
	}
	for _, u := range []struct {
		login string
		role  domain.UserRole
	}{{"admin", domain.RoleAdmin}, {"moder", domain.RoleModerator}, {"reader", domain.RoleUser}} {
		_, err := core.CreateUser(context.Background(), app.NewUserInput{
			Login: u.login, Password: testPassword, LastName: "Petrov", FirstName: "Pyotr", Role: string(u.role),
		})
		if err != nil {
			t.Fatalf("create user %s: %v", u.login, err)
		}
	}
	return &testEnv{srv: srv, app: core, db: db, genre: genre}
}

func (e *testEnv) login(t *testing.T, login string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"login": login, "password": testPassword})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", login, resp.StatusCode)
	}
	var body authResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return body.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) createBook(t *testing.T, token string, cover []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"name":      "War and Peace",
		"author":    "Tolstoy",
		"publisher": "Penguin",
		"shortDesc": "A *long* novel",
		"volume":    "1225",
		"year":      "1869",
		"genreIds":  e.genre.ID,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="cover.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(cover)
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/books", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	defer resp.Body.Close()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAnonymousCreateIsForbidden(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.do(t, http.MethodGet, "/api/books/new", "", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("new form status = %d, want 403", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Redirect != "/api/books" || body.Flash == nil || body.Flash.Kind != "warning" {
		t.Fatalf("forbidden body = %+v", body)
	}
	if body.RequestID == "" {
		t.Fatal("missing request id")
	}

	resp = env.createBook(t, "", []byte("cover"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("create status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
	total, err := env.db.FilterBooks(context.Background(), store.BookFilter{}).Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 0 {
		t.Fatalf("books = %d, want 0", total)
	}
}

func TestLoginMeLogout(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"login": "reader", "password": "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	token := env.login(t, "reader")
	resp = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	var me struct {
		User        userView        `json:"user"`
		Permissions map[string]bool `json:"permissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	resp.Body.Close()
	if me.User.Login != "reader" || me.User.Role != domain.RoleUser {
		t.Fatalf("me = %+v", me.User)
	}
	if me.Permissions["book.create"] || !me.Permissions["review.submit"] {
		t.Fatalf("permissions = %v", me.Permissions)
	}

	resp = env.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, 1)
	payload := map[string]string{"login": "reader", "password": testPassword}

	first := env.do(t, http.MethodPost, "/api/auth/login", "", payload)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first login = %d, want 200", first.StatusCode)
	}
	second := env.do(t, http.MethodPost, "/api/auth/login", "", payload)
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestServerRequiresRedisLimiter(t *testing.T) {
	core := newTestEnv(t, 1).app
	if _, err := New(Config{App: core}); err == nil {
		t.Fatal("expected limiter initialization to fail without redis addr")
	}
}

func TestCreateBookAndServeImage(t *testing.T) {
	env := newTestEnv(t, 10)
	token := env.login(t, "admin")
	cover := []byte("\x89PNG\r\n\x1a\nfake")

	resp := env.createBook(t, token, cover)
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("create status = %d: %s", resp.StatusCode, body)
	}
	var created struct {
		Book domain.Book `json:"book"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	img := env.do(t, http.MethodGet, "/images/"+created.Book.BackgroundImageID, "", nil)
	defer img.Body.Close()
	if img.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d", img.StatusCode)
	}
	if ct := img.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	got, _ := io.ReadAll(img.Body)
	if !bytes.Equal(got, cover) {
		t.Fatalf("image bytes = %q", got)
	}

	detail := env.do(t, http.MethodGet, "/api/books/"+created.Book.ID, "", nil)
	detail.Body.Close()
	if detail.StatusCode != http.StatusOK {
		t.Fatalf("detail status = %d", detail.StatusCode)
	}
}

func TestImageNotFound(t *testing.T) {
	env := newTestEnv(t, 10)
	resp := env.do(t, http.MethodGet, "/images/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "IMAGE_NOT_FOUND" {
		t.Fatalf("code = %q", body.Code)
	}
}

func TestMissingBookRedirectsToListing(t *testing.T) {
	env := newTestEnv(t, 10)
	resp := env.do(t, http.MethodGet, "/api/books/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Redirect != "/api/books" || body.Flash == nil || body.Flash.Message != "Такой книги не существует" {
		t.Fatalf("body = %+v", body)
	}
}

func TestListBooksRejectsBadVolume(t *testing.T) {
	env := newTestEnv(t, 10)
	resp := env.do(t, http.MethodGet, "/api/books?volume_from=abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Fields["volume_from"] == "" {
		t.Fatalf("fields = %v", body.Fields)
	}

	ok := env.do(t, http.MethodGet, "/api/books?name=war&year=1869&year=1878", "", nil)
	ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", ok.StatusCode)
	}
}

func TestReviewDecisionFlow(t *testing.T) {
	env := newTestEnv(t, 10)
	admin := env.login(t, "admin")
	resp := env.createBook(t, admin, []byte("cover"))
	var created struct {
		Book domain.Book `json:"book"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	resp.Body.Close()

	reader := env.login(t, "reader")
	resp = env.do(t, http.MethodPost, "/api/books/"+created.Book.ID+"/reviews", reader, map[string]any{"rating": 5, "text": "Great"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var submitted struct {
		Review domain.Review `json:"review"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("decode review: %v", err)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/reviews/"+submitted.Review.ID+"/decision", reader, map[string]string{"decision": "approve"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("reader decide = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	moder := env.login(t, "moder")
	resp = env.do(t, http.MethodPost, "/api/reviews/"+submitted.Review.ID+"/decision", moder, map[string]string{"decision": "approve"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve = %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = env.do(t, http.MethodPost, "/api/reviews/"+submitted.Review.ID+"/decision", moder, map[string]string{"decision": "reject"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-decide = %d, want 409", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "REVIEW_ALREADY_DECIDED" {
		t.Fatalf("code = %q", body.Code)
	}
}
