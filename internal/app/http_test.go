package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"scriptorium/api/internal/authpw"
	"scriptorium/api/internal/openpecha"
	"scriptorium/api/internal/store"
	"scriptorium/api/internal/typology"
)

func newTestHandler(t *testing.T) (http.Handler, *Service, *fakeStore) {
	t.Helper()
	svc, fs := newTestService(t)
	server := NewHTTPServer(svc, "*")
	return server.Handler(), svc, fs
}

// doJSON fires a request at the handler and decodes the JSON response.
func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, decoded
}

func TestHealthAndReady(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	code, body := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	if code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready: %d %v", code, body)
	}
}

func TestRequestIDHeader(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRequireSession(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	code, body := doJSON(t, handler, http.MethodGet, "/api/users/me", "", nil)
	if code != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("missing token: %d %v", code, body)
	}

	code, _ = doJSON(t, handler, http.MethodGet, "/api/users/me", "not-a-jwt", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", code)
	}
}

func TestAuthFlow(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	code, body := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": "livia",
		"email":    "livia@example.com",
		"password": "correct-horse",
		"fullName": "Livia Drusilla",
	})
	if code != http.StatusCreated {
		t.Fatalf("signup: %d %v", code, body)
	}
	verifyToken, _ := body["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatal("expected dev verification token without SMTP")
	}

	// Unverified accounts cannot sign in yet.
	code, body = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"identifier": "livia",
		"password":   "correct-horse",
	})
	if code != http.StatusForbidden || body["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("signin before verify: %d %v", code, body)
	}

	code, _ = doJSON(t, handler, http.MethodPost, "/api/auth/verify-email", "", map[string]any{
		"token": verifyToken,
	})
	if code != http.StatusOK {
		t.Fatalf("verify: %d", code)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"identifier": "livia@example.com",
		"password":   "correct-horse",
	})
	if code != http.StatusOK {
		t.Fatalf("signin: %d %v", code, body)
	}
	access, _ := body["accessToken"].(string)
	refresh, _ := body["refreshToken"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("expected tokens: %v", body)
	}
	if body["role"] != "annotator" {
		t.Fatalf("expected annotator role, got %v", body["role"])
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/users/me", access, nil)
	if code != http.StatusOK {
		t.Fatalf("me: %d %v", code, body)
	}
	user := body["user"].(map[string]any)
	if user["username"] != "livia" {
		t.Fatalf("unexpected user: %v", user)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": refresh,
	})
	if code != http.StatusOK {
		t.Fatalf("refresh: %d %v", code, body)
	}
	rotated, _ := body["refreshToken"].(string)
	if rotated == "" || rotated == refresh {
		t.Fatal("expected a rotated refresh token")
	}

	// The old refresh token is gone after rotation.
	code, _ = doJSON(t, handler, http.MethodPost, "/api/session/refresh", "", map[string]any{
		"refreshToken": refresh,
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("stale refresh: %d", code)
	}

	code, _ = doJSON(t, handler, http.MethodPost, "/api/session/logout", access, map[string]any{
		"refreshToken": rotated,
	})
	if code != http.StatusOK {
		t.Fatalf("logout: %d", code)
	}
	code, _ = doJSON(t, handler, http.MethodGet, "/api/users/me", access, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("revoked access token still works: %d", code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	handler, _, fs := newTestHandler(t)
	user := seedUser(t, fs, "livia", "annotator")
	hash, err := bcrypt.GenerateFromPassword([]byte("old-password-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := fs.UpdateUserPassword(context.Background(), user.ID, string(hash)); err != nil {
		t.Fatalf("seed password: %v", err)
	}

	code, body := doJSON(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{
		"email": user.Email,
	})
	if code != http.StatusOK {
		t.Fatalf("request reset: %d %v", code, body)
	}
	resetToken, _ := body["devResetToken"].(string)
	if resetToken == "" {
		t.Fatal("expected dev reset token without SMTP")
	}

	// Unknown addresses get the same response, without a token.
	code, body = doJSON(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{
		"email": "nobody@example.com",
	})
	if code != http.StatusOK {
		t.Fatalf("request reset unknown: %d", code)
	}
	if _, leaked := body["devResetToken"]; leaked {
		t.Fatal("reset token leaked for unknown email")
	}

	code, _ = doJSON(t, handler, http.MethodPost, "/api/auth/reset-password", "", map[string]any{
		"token":       resetToken,
		"newPassword": "new-password-1",
	})
	if code != http.StatusOK {
		t.Fatalf("reset: %d", code)
	}

	code, _ = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"identifier": "livia",
		"password":   "new-password-1",
	})
	if code != http.StatusOK {
		t.Fatalf("signin with new password: %d", code)
	}
	code, _ = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"identifier": "livia",
		"password":   "old-password-1",
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("old password still works: %d", code)
	}
}

func TestRBACDenials(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	annotator := sessionFor(t, svc, seedUser(t, fs, "livia", "annotator"))
	reviewer := sessionFor(t, svc, seedUser(t, fs, "cato", "reviewer"))

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
	}{
		{"annotator creates text", http.MethodPost, "/api/texts", annotator.Token, map[string]any{"title": "T", "content": "c"}},
		{"annotator lists users", http.MethodGet, "/api/users", annotator.Token, nil},
		{"annotator opens review queue", http.MethodGet, "/api/texts/review-queue", annotator.Token, nil},
		{"annotator exports archive", http.MethodGet, "/api/export/archive", annotator.Token, nil},
		{"reviewer claims annotation task", http.MethodPost, "/api/texts/task", reviewer.Token, nil},
		{"reviewer uploads typology", http.MethodPost, "/api/typologies", reviewer.Token, map[string]any{"title": "T"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := doJSON(t, handler, tc.method, tc.path, tc.token, tc.body)
			if code != http.StatusForbidden || body["code"] != "FORBIDDEN" {
				t.Fatalf("%d %v", code, body)
			}
		})
	}
}

func TestTextAndReviewLifecycle(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))
	annotator := sessionFor(t, svc, seedUser(t, fs, "livia", "annotator"))
	reviewer := sessionFor(t, svc, seedUser(t, fs, "cato", "reviewer"))

	code, body := doJSON(t, handler, http.MethodPost, "/api/texts", admin.Token, map[string]any{
		"title":    "Epistulae I",
		"content":  "The cat sat on the mat.",
		"language": "en",
	})
	if code != http.StatusOK {
		t.Fatalf("create text: %d %v", code, body)
	}
	textID := body["text"].(map[string]any)["id"].(string)

	// Duplicate titles are refused.
	code, body = doJSON(t, handler, http.MethodPost, "/api/texts", admin.Token, map[string]any{
		"title":   "Epistulae I",
		"content": "other",
	})
	if code != http.StatusConflict || body["code"] != "TITLE_EXISTS" {
		t.Fatalf("duplicate title: %d %v", code, body)
	}

	// The annotator claims it from the task queue.
	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/task", annotator.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("task: %d %v", code, body)
	}
	claimed := body["text"].(map[string]any)
	if claimed["id"] != textID || claimed["status"] != store.StatusProgress {
		t.Fatalf("unexpected claim: %v", claimed)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+textID+"/annotations", annotator.Token, map[string]any{
		"annotationType": "pos",
		"startPosition":  4,
		"endPosition":    7,
		"label":          "NOUN",
	})
	if code != http.StatusOK {
		t.Fatalf("annotate: %d %v", code, body)
	}
	annID := body["annotation"].(map[string]any)["id"].(string)

	// Out-of-range offsets are rejected with details.
	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+textID+"/annotations", annotator.Token, map[string]any{
		"annotationType": "pos",
		"startPosition":  5,
		"endPosition":    999,
	})
	if code != http.StatusUnprocessableEntity || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bad offsets: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPut, "/api/texts/"+textID, annotator.Token, map[string]any{
		"status": store.StatusAnnotated,
	})
	if code != http.StatusOK {
		t.Fatalf("mark annotated: %d %v", code, body)
	}

	// The annotator cannot review their own text.
	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+textID+"/review/start", annotator.Token, nil)
	if code != http.StatusForbidden {
		t.Fatalf("self review: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+textID+"/review/start", reviewer.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("review start: %d %v", code, body)
	}
	progress := body["progress"].(map[string]any)
	if progress["total"] != float64(1) || progress["reviewed"] != float64(0) {
		t.Fatalf("unexpected progress: %v", progress)
	}

	// Finishing before every annotation is reviewed is refused.
	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+textID+"/review/finish", reviewer.Token, nil)
	if code != http.StatusConflict || body["code"] != "REVIEW_INCOMPLETE" {
		t.Fatalf("premature finish: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/annotations/"+annID+"/review", reviewer.Token, map[string]any{
		"decision": "agree",
	})
	if code != http.StatusOK {
		t.Fatalf("submit review: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+textID+"/review/finish", reviewer.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("finish: %d %v", code, body)
	}
	if body["status"] != store.StatusReviewed {
		t.Fatalf("expected reviewed, got %v", body["status"])
	}
}

func TestReviewDisagreementSendsTextBack(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	annotator := sessionFor(t, svc, seedUser(t, fs, "livia", "annotator"))
	reviewer := sessionFor(t, svc, seedUser(t, fs, "cato", "reviewer"))

	text := seedText(t, fs, "txt_1", "Epistulae II", "The cat sat.")
	if err := fs.AssignAnnotator(context.Background(), text.ID, annotator.UserID); err != nil {
		t.Fatalf("assign annotator: %v", err)
	}

	code, body := doJSON(t, handler, http.MethodPost, "/api/texts/"+text.ID+"/annotations", annotator.Token, map[string]any{
		"annotationType": "pos",
		"startPosition":  4,
		"endPosition":    7,
	})
	if code != http.StatusOK {
		t.Fatalf("annotate: %d %v", code, body)
	}
	annID := body["annotation"].(map[string]any)["id"].(string)

	if err := fs.UpdateTextStatus(context.Background(), text.ID, store.StatusAnnotated); err != nil {
		t.Fatalf("mark annotated: %v", err)
	}

	if code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+text.ID+"/review/start", reviewer.Token, nil); code != http.StatusOK {
		t.Fatalf("review start: %d %v", code, body)
	}

	// Disagreeing without a comment is refused.
	code, body = doJSON(t, handler, http.MethodPost, "/api/annotations/"+annID+"/review", reviewer.Token, map[string]any{
		"decision": "disagree",
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("bare disagree: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/annotations/"+annID+"/review", reviewer.Token, map[string]any{
		"decision": "disagree",
		"comment":  "wrong span",
	})
	if code != http.StatusOK {
		t.Fatalf("disagree: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPost, "/api/texts/"+text.ID+"/review/finish", reviewer.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("finish: %d %v", code, body)
	}
	if body["status"] != store.StatusNeedsRevision {
		t.Fatalf("expected needs revision, got %v", body["status"])
	}
	if body["disagreed"] != float64(1) {
		t.Fatalf("expected one disagreement, got %v", body["disagreed"])
	}
}

func TestReviewClaimExclusivity(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	first := sessionFor(t, svc, seedUser(t, fs, "cato", "reviewer"))
	second := sessionFor(t, svc, seedUser(t, fs, "cicero", "reviewer"))

	text := seedText(t, fs, "txt_1", "Epistulae III", "content")
	if err := fs.UpdateTextStatus(context.Background(), text.ID, store.StatusAnnotated); err != nil {
		t.Fatalf("mark annotated: %v", err)
	}

	if code, body := doJSON(t, handler, http.MethodPost, "/api/texts/"+text.ID+"/review/start", first.Token, nil); code != http.StatusOK {
		t.Fatalf("first claim: %d %v", code, body)
	}
	code, body := doJSON(t, handler, http.MethodPost, "/api/texts/"+text.ID+"/review/start", second.Token, nil)
	if code != http.StatusConflict || body["code"] != "TEXT_CLAIMED" {
		t.Fatalf("second claim: %d %v", code, body)
	}
	// The claiming reviewer may reopen their own session.
	if code, body := doJSON(t, handler, http.MethodPost, "/api/texts/"+text.ID+"/review/start", first.Token, nil); code != http.StatusOK {
		t.Fatalf("reopen: %d %v", code, body)
	}
}

func TestBulkUploadEndpoint(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))

	code, body := doJSON(t, handler, http.MethodPost, "/api/texts/bulk-upload", admin.Token, map[string]any{
		"files": []map[string]any{
			{
				"name": "good.json",
				"record": map[string]any{
					"text": map[string]any{"title": "Carmen I", "content": "Salve munde"},
					"annotations": []map[string]any{
						{"annotation_type": "pos", "start_position": 0, "end_position": 5, "label": "VERB"},
					},
				},
			},
			{
				"name": "bad.json",
				"record": map[string]any{
					"text": map[string]any{"title": "Carmen II", "content": "Salve"},
					"annotations": []map[string]any{
						{"annotation_type": "pos", "start_position": 0, "end_position": 99},
					},
				},
			},
		},
	})
	if code != http.StatusOK {
		t.Fatalf("bulk upload: %d %v", code, body)
	}
	summary := body["summary"].(map[string]any)
	if summary["succeeded"] != float64(1) || summary["failed"] != float64(1) {
		t.Fatalf("unexpected summary: %v", summary)
	}
	results := body["results"].([]any)
	first := results[0].(map[string]any)
	if first["ok"] != true || first["annotations"] != float64(1) {
		t.Fatalf("unexpected first result: %v", first)
	}
	second := results[1].(map[string]any)
	if second["ok"] == true || second["error"] == "" {
		t.Fatalf("unexpected second result: %v", second)
	}
}

func TestTypologyEndpoints(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))

	upload := typology.Typology{
		Title: "Error typology",
		Categories: []typology.Category{
			{
				ID:   "lex",
				Name: "Lexis",
				Subcategories: []typology.Category{
					{ID: "lex.1", Name: "Wrong word"},
					{ID: "lex.2", Name: "Omission"},
				},
			},
			{ID: "syn", Name: "Syntax"},
		},
	}

	code, body := doJSON(t, handler, http.MethodPost, "/api/typologies", admin.Token, upload)
	if code != http.StatusOK {
		t.Fatalf("upload: %d %v", code, body)
	}
	if body["items"] != float64(4) {
		t.Fatalf("expected 4 stored items, got %v", body["items"])
	}
	typeID := body["annotationType"].(map[string]any)["id"].(string)

	code, body = doJSON(t, handler, http.MethodGet, "/api/annotation-types/"+typeID+"/typology", admin.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("get tree: %d %v", code, body)
	}
	categories := body["categories"].([]any)
	if len(categories) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(categories))
	}
	root := categories[0].(map[string]any)
	if root["name"] != "Lexis" || len(root["subcategories"].([]any)) != 2 {
		t.Fatalf("unexpected root: %v", root)
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/annotation-types/"+typeID+"/typology?flat=true", admin.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("get leaves: %d %v", code, body)
	}
	leaves := body["leaves"].([]any)
	if len(leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(leaves))
	}

	// Deleting a node with children is refused.
	var parentID string
	for id, item := range fs.items {
		if item.Title == "Lexis" {
			parentID = id
		}
	}
	code, body = doJSON(t, handler, http.MethodDelete, "/api/typologies/items/"+parentID, admin.Token, nil)
	if code != http.StatusConflict || body["code"] != "ITEM_HAS_CHILDREN" {
		t.Fatalf("delete parent: %d %v", code, body)
	}

	// Re-uploading replaces the stored tree wholesale.
	upload.Categories = upload.Categories[:1]
	code, body = doJSON(t, handler, http.MethodPost, "/api/typologies", admin.Token, upload)
	if code != http.StatusOK {
		t.Fatalf("re-upload: %d %v", code, body)
	}
	if body["items"] != float64(3) {
		t.Fatalf("expected 3 items after replace, got %v", body["items"])
	}
}

func TestExportUnavailableWithoutService(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))

	code, body := doJSON(t, handler, http.MethodGet, "/api/export/stats", admin.Token, nil)
	if code != http.StatusServiceUnavailable || body["code"] != "EXPORT_UNAVAILABLE" {
		t.Fatalf("export stats: %d %v", code, body)
	}
}

func TestExportDateRangeValidation(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))

	code, body := doJSON(t, handler, http.MethodGet, "/api/export/stats?from=not-a-date", admin.Token, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("bad from: %d %v", code, body)
	}
	code, body = doJSON(t, handler, http.MethodGet, "/api/export/stats?from=2026-02-01&to=2026-01-01", admin.Token, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("inverted range: %d %v", code, body)
	}
}

func TestAdminUserManagement(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))
	target := seedUser(t, fs, "livia", "annotator")

	code, body := doJSON(t, handler, http.MethodPut, "/api/users/"+target.ID+"/role", admin.Token, map[string]any{
		"role": "reviewer",
	})
	if code != http.StatusOK {
		t.Fatalf("promote: %d %v", code, body)
	}
	if body["user"].(map[string]any)["role"] != "reviewer" {
		t.Fatalf("unexpected payload: %v", body)
	}

	code, body = doJSON(t, handler, http.MethodPut, "/api/users/"+target.ID+"/role", admin.Token, map[string]any{
		"role": "emperor",
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus role: %d %v", code, body)
	}

	// Admins cannot change their own role or deactivate themselves.
	code, body = doJSON(t, handler, http.MethodPut, "/api/users/"+admin.UserID+"/role", admin.Token, map[string]any{
		"role": "annotator",
	})
	if code != http.StatusConflict {
		t.Fatalf("self demote: %d %v", code, body)
	}
	code, body = doJSON(t, handler, http.MethodPut, "/api/users/"+admin.UserID+"/active", admin.Token, map[string]any{
		"active": false,
	})
	if code != http.StatusConflict {
		t.Fatalf("self deactivate: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodPut, "/api/users/"+target.ID+"/active", admin.Token, map[string]any{
		"active": false,
	})
	if code != http.StatusOK {
		t.Fatalf("deactivate: %d %v", code, body)
	}
	stored, _ := fs.GetUserByID(context.Background(), target.ID)
	if stored.IsActive {
		t.Fatal("expected user deactivated")
	}
}

func TestSessionIntrospection(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)

	code, body := doJSON(t, handler, http.MethodGet, "/api/session", "", nil)
	if code != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("anonymous: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/session", session.Token, nil)
	if code != http.StatusOK || body["authenticated"] != true || body["username"] != "livia" {
		t.Fatalf("authenticated: %d %v", code, body)
	}
}

func TestUpdateTextReviewerNullVersusAbsent(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	admin := sessionFor(t, svc, seedUser(t, fs, "root", "admin"))
	reviewer := seedUser(t, fs, "cato", "reviewer")
	text := seedText(t, fs, "txt_1", "Epistulae IV", "Salve munde")

	code, body := doJSON(t, handler, http.MethodPut, "/api/texts/"+text.ID, admin.Token, map[string]any{
		"reviewerId": reviewer.ID,
	})
	if code != http.StatusOK {
		t.Fatalf("assign reviewer: %d %v", code, body)
	}
	if got := body["text"].(map[string]any)["reviewerId"]; got != reviewer.ID {
		t.Fatalf("expected reviewer %s, got %v", reviewer.ID, got)
	}

	// Updating an unrelated field leaves the assignment alone.
	code, body = doJSON(t, handler, http.MethodPut, "/api/texts/"+text.ID, admin.Token, map[string]any{
		"source": "letters",
	})
	if code != http.StatusOK {
		t.Fatalf("update source: %d %v", code, body)
	}
	if got := body["text"].(map[string]any)["reviewerId"]; got != reviewer.ID {
		t.Fatalf("absent field must not touch the assignment, got %v", got)
	}

	// An explicit null clears it.
	code, body = doJSON(t, handler, http.MethodPut, "/api/texts/"+text.ID, admin.Token, map[string]any{
		"reviewerId": nil,
	})
	if code != http.StatusOK {
		t.Fatalf("clear reviewer: %d %v", code, body)
	}
	if got := body["text"].(map[string]any)["reviewerId"]; got != nil {
		t.Fatalf("expected cleared reviewer, got %v", got)
	}
	stored, _ := fs.GetText(context.Background(), text.ID)
	if stored.ReviewerID != nil {
		t.Fatalf("expected stored reviewer cleared, got %v", *stored.ReviewerID)
	}

	// Anything that is not a string or null is rejected.
	code, body = doJSON(t, handler, http.MethodPut, "/api/texts/"+text.ID, admin.Token, map[string]any{
		"reviewerId": 42,
	})
	if code != http.StatusBadRequest {
		t.Fatalf("numeric reviewerId: %d %v", code, body)
	}
}

// fakeCatalog stands in for the OpenPecha client.
type fakeCatalog struct {
	expressions []openpecha.Expression
	instances   map[string][]openpecha.Instance
	docs        map[string]map[string]any
	err         error
}

func (f *fakeCatalog) ListExpressions(ctx context.Context, filterType string) ([]openpecha.Expression, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.expressions, nil
}

func (f *fakeCatalog) ListInstances(ctx context.Context, expressionID string) ([]openpecha.Instance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.instances[expressionID], nil
}

func (f *fakeCatalog) GetInstanceText(ctx context.Context, instanceID string) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[instanceID], nil
}

func TestOpenPechaProxy(t *testing.T) {
	fs := newFakeStore()
	catalog := &fakeCatalog{
		expressions: []openpecha.Expression{{ID: "E1", Title: "Root Text", Language: "bo"}},
		instances: map[string][]openpecha.Instance{
			"E1": {{ID: "I1", ExpressionID: "E1", Type: "root"}},
		},
		docs: map[string]map[string]any{
			"I1": {"content": "text body"},
		},
	}
	svc := newForTest(testConfig(), fs, newFakeSessions(), Options{
		AuthPW:    authpw.NewService(fs),
		OpenPecha: catalog,
	})
	handler := NewHTTPServer(svc, "*").Handler()
	session := sessionFor(t, svc, seedUser(t, fs, "livia", "annotator"))

	code, body := doJSON(t, handler, http.MethodGet, "/api/openpecha/texts?type=root", session.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("list expressions: %d %v", code, body)
	}
	expressions := body["expressions"].([]any)
	if len(expressions) != 1 || expressions[0].(map[string]any)["title"] != "Root Text" {
		t.Fatalf("unexpected expressions %v", expressions)
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/openpecha/texts?type=bogus", session.Token, nil)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("bogus filter: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/openpecha/texts/E1/instances", session.Token, nil)
	if code != http.StatusOK {
		t.Fatalf("list instances: %d %v", code, body)
	}
	instances := body["instances"].([]any)
	if instances[0].(map[string]any)["expressionId"] != "E1" {
		t.Fatalf("unexpected instances %v", instances)
	}

	// An expression without manifestations reads as missing.
	code, body = doJSON(t, handler, http.MethodGet, "/api/openpecha/texts/E2/instances", session.Token, nil)
	if code != http.StatusNotFound {
		t.Fatalf("unknown expression: %d %v", code, body)
	}

	code, body = doJSON(t, handler, http.MethodGet, "/api/openpecha/instances/I1", session.Token, nil)
	if code != http.StatusOK || body["content"] != "text body" {
		t.Fatalf("instance text: %d %v", code, body)
	}
}

func TestOpenPechaUnavailableWithoutEndpoint(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	session := sessionFor(t, svc, seedUser(t, fs, "livia", "annotator"))

	code, body := doJSON(t, handler, http.MethodGet, "/api/openpecha/texts", session.Token, nil)
	if code != http.StatusServiceUnavailable || body["code"] != "OPENPECHA_UNAVAILABLE" {
		t.Fatalf("%d %v", code, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, svc, fs := newTestHandler(t)
	session := sessionFor(t, svc, seedUser(t, fs, "livia", "annotator"))

	code, body := doJSON(t, handler, http.MethodPatch, "/api/users/me", session.Token, nil)
	if code != http.StatusMethodNotAllowed {
		t.Fatalf("%d %v", code, body)
	}
}
