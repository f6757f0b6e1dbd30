package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/audit"
	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/imaging"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/session"
	"github.com/your-org/facegate/internal/storage"
	"github.com/your-org/facegate/pkg/dto"
)

const testAPIKey = "test-key"

// colorExtractor reads the top-left pixel: white means no face, black means two
// faces, any other color is one face whose embedding is the normalized RGB value.
type colorExtractor struct {
	err error
}

func (e colorExtractor) Extract(img image.Image) ([]models.Embedding, error) {
	if e.err != nil {
		return nil, e.err
	}
	r, g, b, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	switch {
	case r == 0xffff && g == 0xffff && b == 0xffff:
		return nil, nil
	case r == 0 && g == 0 && b == 0:
		return []models.Embedding{{0.1, 0.1, 0.1}, {0.2, 0.2, 0.2}}, nil
	}
	return []models.Embedding{{float32(r) / 0xffff, float32(g) / 0xffff, float32(b) / 0xffff}}, nil
}

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.RGBA{A: 255}
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func dataURI(t *testing.T, c color.Color) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, c))
}

// captureArchive keeps archived captures in memory, keyed by identity.
type captureArchive struct {
	mu    sync.Mutex
	saved map[uuid.UUID]image.Image
}

func (a *captureArchive) ArchiveCapture(_ context.Context, id uuid.UUID, img image.Image) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[id] = img
	return storage.CaptureKey(id), nil
}

func (a *captureArchive) GetCapture(_ context.Context, id uuid.UUID) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.saved[id]; !ok {
		return nil, nil
	}
	return []byte("jpeg"), nil
}

type testEnv struct {
	router   http.Handler
	store    *storage.MemoryStore
	captures *captureArchive
}

func newTestEnv(t *testing.T, extractor biometric.Extractor, checks ...handlers.Check) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	captures := &captureArchive{saved: make(map[uuid.UUID]image.Image)}
	svc := biometric.NewService(store, extractor, biometric.Options{
		Tolerance:                   0.4,
		RejectMultipleFacesOnVerify: true,
	})

	router := NewRouter(RouterConfig{
		APIKey:         testAPIKey,
		MaxUploadBytes: 1 << 20,
		Service:        svc,
		Identities:     store,
		Events:         store,
		Normalizer:     &imaging.Normalizer{ScratchDir: t.TempDir()},
		Sessions:       session.NewManager(session.NewMemoryStore(), "secret", time.Hour),
		Publisher:      audit.Direct{Sink: store},
		Archive:        captures,
		Captures:       captures,
		Checks:         checks,
	})
	return &testEnv{router: router, store: store, captures: captures}
}

func (e *testEnv) postForm(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", testAPIKey)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func registerForm(t *testing.T, email string, c color.Color) url.Values {
	return url.Values{
		"name":       {"Ada Lovelace"},
		"dob":        {"1815-12-10"},
		"email":      {email},
		"salary":     {"1000"},
		"face_image": {dataURI(t, c)},
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func TestIndexRedirectsToLogin(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})
	w := env.get("/")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("got %d to %q, want 302 to /login", w.Code, w.Header().Get("Location"))
	}
}

func TestReadiness(t *testing.T) {
	up := handlers.Check{Name: "database", Ping: func(context.Context) error { return nil }}
	down := handlers.Check{Name: "nats", Ping: func(context.Context) error { return errors.New("nats: no servers available") }}

	env := newTestEnv(t, colorExtractor{}, up)
	if w := env.get("/readyz"); w.Code != http.StatusOK {
		t.Errorf("all up: status = %d, want 200", w.Code)
	}

	env = newTestEnv(t, colorExtractor{}, up, down)
	w := env.get("/readyz")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("one down: status = %d, want 503", w.Code)
	}
	checks, _ := decodeBody(t, w)["checks"].(map[string]any)
	if checks["database"] != "ok" || checks["nats"] != "unavailable" {
		t.Errorf("checks = %v", checks)
	}

	if w := env.get("/healthz"); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name       string
		form       func(t *testing.T) url.Values
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing name",
			form:       func(t *testing.T) url.Values { f := registerForm(t, "a@x.io", red); f.Del("name"); return f },
			wantStatus: http.StatusBadRequest,
			wantError:  "missing required field: name",
		},
		{
			name:       "missing image",
			form:       func(t *testing.T) url.Values { f := registerForm(t, "a@x.io", red); f.Del("face_image"); return f },
			wantStatus: http.StatusBadRequest,
			wantError:  "missing required field: face_image",
		},
		{
			name:       "undecodable image",
			form:       func(t *testing.T) url.Values { f := registerForm(t, "a@x.io", red); f.Set("face_image", "data:image/png;base64,bm90IGFuIGltYWdl"); return f },
			wantStatus: http.StatusBadRequest,
			wantError:  "could not read the image",
		},
		{
			name:       "no face",
			form:       func(t *testing.T) url.Values { return registerForm(t, "a@x.io", white) },
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "no clear face found in the image, try again",
		},
		{
			name:       "multiple faces",
			form:       func(t *testing.T) url.Values { return registerForm(t, "a@x.io", black) },
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "more than one face in the image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, colorExtractor{})
			w := env.postForm("/register", tt.form(t))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeBody(t, w)["error"]; got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
			if id, _ := env.store.GetIdentityByEmail(context.Background(), "a@x.io"); id != nil {
				t.Error("no identity should be stored on a rejected enrollment")
			}
		})
	}
}

func TestRegisterThenDuplicate(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})

	w := env.postForm("/register", registerForm(t, "Ada@Example.com", red))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	var created dto.AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.ID == nil {
		t.Fatalf("bad create response %s: %v", w.Body.String(), err)
	}
	if created.Redirect != "/login" {
		t.Errorf("redirect = %q, want /login", created.Redirect)
	}

	w = env.postForm("/register", registerForm(t, " ada@example.COM", blue))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if got := decodeBody(t, w)["redirect"]; got != "/login" {
		t.Errorf("redirect = %v, want /login", got)
	}

	stored, _ := env.store.GetIdentityByEmail(context.Background(), "ada@example.com")
	if stored == nil || stored.ID != *created.ID || stored.Embedding[0] != 1 {
		t.Errorf("stored identity = %+v, want the first enrollment", stored)
	}
}

func TestRegisterDuplicatePrecedence(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})
	if w := env.postForm("/register", registerForm(t, "ada@example.com", red)); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}

	unreadable := registerForm(t, "ada@example.com", red)
	unreadable.Set("face_image", "data:image/png;base64,bm90IGFuIGltYWdl")
	w := env.postForm("/register", unreadable)
	if w.Code != http.StatusConflict {
		t.Fatalf("unreadable image for known email: status = %d, want 409", w.Code)
	}
	if got := decodeBody(t, w)["redirect"]; got != "/login" {
		t.Errorf("redirect = %v, want /login", got)
	}

	missing := registerForm(t, "ada@example.com", red)
	missing.Del("face_image")
	w = env.postForm("/register", missing)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing image for known email: status = %d, want 400", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "missing required field: face_image" {
		t.Errorf("error = %v", got)
	}
}

func TestRegisterMultipartUpload(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range map[string]string{"name": "Ada", "dob": "1815-12-10", "email": "ada@example.com"} {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := mw.CreateFormFile("face_image", "face.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(pngBytes(t, red))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/register", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})
	if w := env.postForm("/register", registerForm(t, "ada@example.com", red)); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}

	t.Run("unknown email", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {"nobody@example.com"}, "face_image": {dataURI(t, red)}})
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
		if got := decodeBody(t, w)["redirect"]; got != "/register" {
			t.Errorf("redirect = %v, want /register", got)
		}
	})

	t.Run("unknown email without image", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {"nobody@example.com"}})
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})

	t.Run("missing image", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {"ada@example.com"}})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "capture a face image" {
			t.Errorf("error = %v", got)
		}
	})

	t.Run("no face", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {"ada@example.com"}, "face_image": {dataURI(t, white)}})
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", w.Code)
		}
	})

	t.Run("multiple faces", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {"ada@example.com"}, "face_image": {dataURI(t, black)}})
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", w.Code)
		}
	})

	t.Run("different face", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {"ada@example.com"}, "face_image": {dataURI(t, blue)}})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if got := decodeBody(t, w)["error"]; got != "face does not match" {
			t.Errorf("error = %v", got)
		}
		if sessionCookie(w) != nil {
			t.Error("no session cookie should be set on mismatch")
		}
	})

	t.Run("match, profile, logout", func(t *testing.T) {
		w := env.postForm("/login", url.Values{"email": {" ADA@example.com "}, "face_image": {dataURI(t, red)}})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
		}
		if got := decodeBody(t, w)["redirect"]; got != "/profile" {
			t.Errorf("redirect = %v, want /profile", got)
		}
		cookie := sessionCookie(w)
		if cookie == nil {
			t.Fatal("expected session cookie")
		}

		w = env.get("/profile", cookie)
		if w.Code != http.StatusOK {
			t.Fatalf("profile status = %d, want 200", w.Code)
		}
		profile := decodeBody(t, w)
		if profile["email"] != "ada@example.com" || profile["name"] != "Ada Lovelace" {
			t.Errorf("profile = %v", profile)
		}
		if _, leaked := profile["embedding"]; leaked {
			t.Error("profile must not expose the embedding")
		}

		for i := 0; i < 2; i++ {
			if w := env.get("/logout", cookie); w.Code != http.StatusOK {
				t.Fatalf("logout #%d status = %d", i+1, w.Code)
			}
		}
		if w := env.get("/profile", cookie); w.Code != http.StatusUnauthorized {
			t.Errorf("profile after logout status = %d, want 401", w.Code)
		}
	})
}

func TestProfileRequiresSession(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})
	w := env.get("/profile")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := decodeBody(t, w)["redirect"]; got != "/login" {
		t.Errorf("redirect = %v, want /login", got)
	}
}

func TestExtractionFailureIsOpaque(t *testing.T) {
	env := newTestEnv(t, colorExtractor{err: errors.New("onnx: session crashed")})
	w := env.postForm("/register", registerForm(t, "ada@example.com", red))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "an error occurred" {
		t.Errorf("error = %v, want opaque message", got)
	}
}

func TestAuditEventsAndAdminAPI(t *testing.T) {
	env := newTestEnv(t, colorExtractor{})
	w := env.postForm("/register", registerForm(t, "ada@example.com", red))
	var created dto.AuthResponse
	json.Unmarshal(w.Body.Bytes(), &created)

	env.postForm("/register", registerForm(t, "bob@example.com", white))
	env.postForm("/login", url.Values{"email": {"ada@example.com"}, "face_image": {dataURI(t, red)}})

	t.Run("requires api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("lists events", func(t *testing.T) {
		w := env.get("/v1/events?kind=enroll")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var list dto.AuthEventListResponse
		if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
			t.Fatal(err)
		}
		if list.Total != 2 {
			t.Fatalf("total = %d, want 2", list.Total)
		}
		outcomes := map[string]bool{}
		for _, ev := range list.Events {
			outcomes[ev.Outcome] = true
		}
		if !outcomes["success"] || !outcomes["no_face"] {
			t.Errorf("outcomes = %v, want success and no_face", outcomes)
		}

		w = env.get("/v1/events?kind=verify")
		json.Unmarshal(w.Body.Bytes(), &list)
		if list.Total != 1 || list.Events[0].Distance == nil || *list.Events[0].Distance != 0 {
			t.Errorf("verify events = %+v", list.Events)
		}
	})

	t.Run("rejects bad kind", func(t *testing.T) {
		if w := env.get("/v1/events?kind=bogus"); w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("enrollment capture", func(t *testing.T) {
		w := env.get("/v1/identities/" + created.ID.String() + "/capture")
		if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/jpeg" {
			t.Fatalf("status = %d, content type %q", w.Code, w.Header().Get("Content-Type"))
		}
		if w := env.get("/v1/identities/" + uuid.NewString() + "/capture"); w.Code != http.StatusNotFound {
			t.Errorf("missing capture status = %d, want 404", w.Code)
		}
		if len(env.captures.saved) != 1 {
			t.Errorf("archived %d captures, want 1 (failed enrollments are not archived)", len(env.captures.saved))
		}
	})

	t.Run("identity lookup", func(t *testing.T) {
		w := env.get("/v1/identities/" + created.ID.String())
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if body := decodeBody(t, w); body["has_embedding"] != true {
			t.Errorf("body = %v", body)
		}
		if w := env.get("/v1/identities/not-a-uuid"); w.Code != http.StatusBadRequest {
			t.Errorf("invalid id status = %d, want 400", w.Code)
		}
		if w := env.get("/v1/identities/00000000-0000-0000-0000-000000000001"); w.Code != http.StatusNotFound {
			t.Errorf("unknown id status = %d, want 404", w.Code)
		}
	})
}
