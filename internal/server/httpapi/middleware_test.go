package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func authedRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/rpc/list_media_files", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func Test_bearerToken_OkAndErrors(t *testing.T) {
	t.Parallel()

	r := authedRequest("abc.def.ghi")
	got, err := bearerToken(r)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	r = httptest.NewRequest(http.MethodPost, "/rpc/x", nil)
	r.Header.Set("Authorization", "Basic foo")
	if _, err := bearerToken(r); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	r = httptest.NewRequest(http.MethodPost, "/rpc/x", nil)
	r.Header.Set("Authorization", "Bearer   ")
	if _, err := bearerToken(r); err == nil {
		t.Fatalf("want error on empty token")
	}

	r = httptest.NewRequest(http.MethodPost, "/rpc/x", nil)
	if _, err := bearerToken(r); err == nil {
		t.Fatalf("want error on missing header")
	}
}

func Test_actorFromRequest_Valid(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, key, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)

	id, err := actorFromRequest(authedRequest(j), key)
	if err != nil {
		t.Fatalf("actorFromRequest: %v", err)
	}
	if id.String() != sub {
		t.Fatalf("uuid mismatch: %s vs %s", id, sub)
	}
}

func Test_actorFromRequest_Expired(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, key, jwt.SigningMethodHS256, time.Now().UTC().Add(-2*time.Hour), -time.Hour)

	if _, err := actorFromRequest(authedRequest(j), key); err == nil {
		t.Fatalf("want error on expired token")
	}
}

func Test_actorFromRequest_BadSubject(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	j := makeJWT(t, "not-a-uuid", key, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)

	if _, err := actorFromRequest(authedRequest(j), key); err == nil {
		t.Fatalf("want error on bad subject")
	}
}

func Test_actorFromRequest_WrongAlg(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, key, jwt.SigningMethodHS384, time.Now().UTC(), time.Hour)

	if _, err := actorFromRequest(authedRequest(j), key); err == nil {
		t.Fatalf("want error on wrong alg")
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	sub := uuid.Must(uuid.NewV4())

	var seen uuid.UUID
	var called bool
	h := Auth(key)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen, _ = ActorIDFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	j := makeJWT(t, sub.String(), key, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authedRequest(j))
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("valid token: called=%v code=%d", called, rec.Code)
	}
	if seen != sub {
		t.Fatalf("actor mismatch: %s vs %s", seen, sub)
	}

	called = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc/x", nil))
	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: called=%v code=%d", called, rec.Code)
	}
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	h := Recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestActorIDCtxRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.Must(uuid.NewV4())
	ctx := WithActorID(httptest.NewRequest(http.MethodGet, "/", nil).Context(), id)
	got, ok := ActorIDFromCtx(ctx)
	if !ok || got != id {
		t.Fatalf("round trip: got=%s ok=%v", got, ok)
	}

	if _, ok := ActorIDFromCtx(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Fatalf("want miss on empty context")
	}
}
