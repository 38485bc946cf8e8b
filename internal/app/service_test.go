package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"scriptorium/api/internal/authpw"
	"scriptorium/api/internal/config"
	"scriptorium/api/internal/markup"
	"scriptorium/api/internal/store"
)

// fakeStore is an in-memory dataStore (and authpw.UserStore) for handler
// and service tests.
type fakeStore struct {
	mu sync.Mutex

	users       map[string]store.User
	texts       map[string]store.Text
	annotations map[string]store.Annotation
	types       map[string]store.AnnotationType
	items       map[string]store.TypologyItem
	reviews     map[string]store.Review // keyed annotationID/reviewerID
	rejected    map[string]map[string]bool
	revoked     map[string]bool
	resets      map[string]string
	usedResets  map[string]bool

	// lookupErr, when set, is returned by the by-title and by-name
	// lookups to simulate a store failure.
	lookupErr error

	seq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		texts:       make(map[string]store.Text),
		annotations: make(map[string]store.Annotation),
		types:       make(map[string]store.AnnotationType),
		items:       make(map[string]store.TypologyItem),
		reviews:     make(map[string]store.Review),
		rejected:    make(map[string]map[string]bool),
		revoked:     make(map[string]bool),
		resets:      make(map[string]string),
		usedResets:  make(map[string]bool),
	}
}

func (f *fakeStore) nextTime() time.Time {
	f.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

// users

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = f.nextTime()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Username == username {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) ListUsers(ctx context.Context, offset, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	if offset >= len(users) {
		return []store.User{}, nil
	}
	users = users[offset:]
	if limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

func (f *fakeStore) UpdateUserProfile(ctx context.Context, userID, fullName, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.FullName = fullName
	user.Email = email
	f.users[userID] = user
	return nil
}

func (f *fakeStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.Role = role
	f.users[userID] = user
	return nil
}

func (f *fakeStore) SetUserActive(ctx context.Context, userID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.IsActive = active
	f.users[userID] = user
	return nil
}

// token revocation

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// authpw.UserStore

func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usedResets[token] {
		return "", sql.ErrNoRows
	}
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedResets[token] = true
	return nil
}

// texts

func (f *fakeStore) InsertText(ctx context.Context, item store.Text) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = f.nextTime()
	}
	f.texts[item.ID] = item
	return nil
}

func (f *fakeStore) InsertTextWithAnnotations(ctx context.Context, item store.Text, annotations []store.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = f.nextTime()
	}
	f.texts[item.ID] = item
	for _, ann := range annotations {
		f.annotations[ann.ID] = ann
	}
	return nil
}

func (f *fakeStore) GetText(ctx context.Context, textID string) (store.Text, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.texts[textID]
	if !ok || item.DeletedAt != nil {
		return store.Text{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) GetTextByTitle(ctx context.Context, title string) (store.Text, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return store.Text{}, f.lookupErr
	}
	for _, item := range f.texts {
		if item.Title == title && item.DeletedAt == nil {
			return item, nil
		}
	}
	return store.Text{}, sql.ErrNoRows
}

func (f *fakeStore) ListTexts(ctx context.Context, filter store.TextFilter) ([]store.Text, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Text, 0)
	for _, item := range f.texts {
		if item.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Language != "" && item.Language != filter.Language {
			continue
		}
		if filter.ReviewerID != "" && (item.ReviewerID == nil || *item.ReviewerID != filter.ReviewerID) {
			continue
		}
		if filter.UploadedBy != "" && (item.UploadedBy == nil || *item.UploadedBy != filter.UploadedBy) {
			continue
		}
		item.AnnotationCount = f.countAnnotationsLocked(item.ID)
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) UpdateText(ctx context.Context, textID string, title, content, source, language, translation, status *string, reviewerID **string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.texts[textID]
	if !ok {
		return sql.ErrNoRows
	}
	if title != nil {
		item.Title = *title
	}
	if content != nil {
		item.Content = *content
	}
	if source != nil {
		item.Source = *source
	}
	if language != nil {
		item.Language = *language
	}
	if translation != nil {
		item.Translation = *translation
	}
	if status != nil {
		item.Status = *status
	}
	if reviewerID != nil {
		item.ReviewerID = *reviewerID
	}
	f.texts[textID] = item
	return nil
}

func (f *fakeStore) UpdateTextStatus(ctx context.Context, textID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.texts[textID]
	item.Status = status
	f.texts[textID] = item
	return nil
}

func (f *fakeStore) AssignAnnotator(ctx context.Context, textID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.texts[textID]
	item.AnnotatorID = &userID
	item.Status = store.StatusProgress
	f.texts[textID] = item
	return nil
}

func (f *fakeStore) AssignReviewer(ctx context.Context, textID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.texts[textID]
	item.ReviewerID = &userID
	f.texts[textID] = item
	return nil
}

func (f *fakeStore) SoftDeleteText(ctx context.Context, textID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.texts[textID]
	now := time.Now()
	item.DeletedAt = &now
	f.texts[textID] = item
	return nil
}

func (f *fakeStore) NextTaskText(ctx context.Context, userID string) (*store.Text, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	candidates := make([]store.Text, 0)
	for _, item := range f.texts {
		if item.DeletedAt != nil || item.Status != store.StatusInitialized || item.AnnotatorID != nil {
			continue
		}
		if f.rejected[userID][item.ID] {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	claimed := candidates[0]
	claimed.AnnotatorID = &userID
	claimed.Status = store.StatusProgress
	f.texts[claimed.ID] = claimed
	return &claimed, nil
}

func (f *fakeStore) RejectText(ctx context.Context, userID, textID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejected[userID] == nil {
		f.rejected[userID] = make(map[string]bool)
	}
	f.rejected[userID][textID] = true
	item := f.texts[textID]
	if item.AnnotatorID != nil && *item.AnnotatorID == userID {
		item.AnnotatorID = nil
		item.Status = store.StatusInitialized
		f.texts[textID] = item
	}
	return nil
}

func (f *fakeStore) ListTextsForReview(ctx context.Context, reviewerID string, offset, limit int) ([]store.Text, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Text, 0)
	for _, item := range f.texts {
		if item.DeletedAt != nil || item.Status != store.StatusAnnotated {
			continue
		}
		if item.ReviewerID != nil && *item.ReviewerID != reviewerID {
			continue
		}
		if item.AnnotatorID != nil && *item.AnnotatorID == reviewerID {
			continue
		}
		item.AnnotationCount = f.countAnnotationsLocked(item.ID)
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) CountTextsByStatus(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, item := range f.texts {
		if item.DeletedAt != nil {
			continue
		}
		counts[item.Status]++
	}
	return counts, nil
}

// annotations

func (f *fakeStore) countAnnotationsLocked(textID string) int {
	count := 0
	for _, ann := range f.annotations {
		if ann.TextID == textID {
			count++
		}
	}
	return count
}

func (f *fakeStore) InsertAnnotation(ctx context.Context, item store.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = f.nextTime()
	}
	f.annotations[item.ID] = item
	return nil
}

func (f *fakeStore) GetAnnotation(ctx context.Context, annotationID string) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.annotations[annotationID]
	if !ok {
		return store.Annotation{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListAnnotationsByText(ctx context.Context, textID string) ([]store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Annotation, 0)
	for _, item := range f.annotations {
		if item.TextID != textID {
			continue
		}
		for _, review := range f.reviews {
			if review.AnnotationID == item.ID {
				agreed := review.Decision == store.DecisionAgree
				item.IsAgreed = &agreed
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Start < items[j].Start })
	return items, nil
}

func (f *fakeStore) UpdateAnnotation(ctx context.Context, item store.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.annotations[item.ID]
	if !ok {
		return sql.ErrNoRows
	}
	item.CreatedAt = existing.CreatedAt
	f.annotations[item.ID] = item
	return nil
}

func (f *fakeStore) DeleteAnnotation(ctx context.Context, annotationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.annotations, annotationID)
	return nil
}

func (f *fakeStore) DeleteAnnotationsByTextAndAnnotator(ctx context.Context, textID, annotatorID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, item := range f.annotations {
		if item.TextID == textID && item.AnnotatorID != nil && *item.AnnotatorID == annotatorID {
			delete(f.annotations, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) CountAnnotationsByAnnotator(ctx context.Context, annotatorID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, item := range f.annotations {
		if item.AnnotatorID != nil && *item.AnnotatorID == annotatorID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountAnnotationsByText(ctx context.Context, textID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countAnnotationsLocked(textID), nil
}

// annotation types and typologies

func (f *fakeStore) InsertAnnotationType(ctx context.Context, item store.AnnotationType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = f.nextTime()
	}
	f.types[item.ID] = item
	return nil
}

func (f *fakeStore) GetAnnotationType(ctx context.Context, typeID string) (store.AnnotationType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.types[typeID]
	if !ok {
		return store.AnnotationType{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) GetAnnotationTypeByName(ctx context.Context, name string) (store.AnnotationType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return store.AnnotationType{}, f.lookupErr
	}
	for _, item := range f.types {
		if item.Name == name {
			return item, nil
		}
	}
	return store.AnnotationType{}, sql.ErrNoRows
}

func (f *fakeStore) ListAnnotationTypes(ctx context.Context) ([]store.AnnotationType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.AnnotationType, 0, len(f.types))
	for _, item := range f.types {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (f *fakeStore) UpdateAnnotationType(ctx context.Context, typeID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.types[typeID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Name = name
	f.types[typeID] = item
	return nil
}

func (f *fakeStore) DeleteAnnotationType(ctx context.Context, typeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.types, typeID)
	return nil
}

func (f *fakeStore) InsertTypologyItems(ctx context.Context, items []store.TypologyItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		f.items[item.ID] = item
	}
	return nil
}

func (f *fakeStore) ListTypologyItems(ctx context.Context, typeID string) ([]store.TypologyItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TypologyItem, 0)
	for _, item := range f.items {
		if item.TypeID == typeID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (f *fakeStore) GetTypologyItem(ctx context.Context, itemID string) (store.TypologyItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return store.TypologyItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) UpdateTypologyItem(ctx context.Context, itemID, title, description string, meta map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Title = title
	item.Description = description
	item.Meta = meta
	f.items[itemID] = item
	return nil
}

func (f *fakeStore) DeleteTypologyItem(ctx context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, itemID)
	return nil
}

func (f *fakeStore) DeleteTypologyItemsByType(ctx context.Context, typeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for id, item := range f.items {
		if item.TypeID == typeID {
			delete(f.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) CountTypologyChildren(ctx context.Context, itemID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, item := range f.items {
		if item.ParentID != nil && *item.ParentID == itemID {
			count++
		}
	}
	return count, nil
}

// reviews

func (f *fakeStore) UpsertReview(ctx context.Context, review store.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := review.AnnotationID + "/" + review.ReviewerID
	if review.CreatedAt.IsZero() {
		review.CreatedAt = f.nextTime()
	}
	f.reviews[key] = review
	return nil
}

func (f *fakeStore) ListReviewsByText(ctx context.Context, textID string) ([]store.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Review, 0)
	for _, review := range f.reviews {
		ann, ok := f.annotations[review.AnnotationID]
		if ok && ann.TextID == textID {
			items = append(items, review)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) CountReviewsByText(ctx context.Context, textID string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agreed, disagreed := 0, 0
	for _, review := range f.reviews {
		ann, ok := f.annotations[review.AnnotationID]
		if !ok || ann.TextID != textID {
			continue
		}
		if review.Decision == store.DecisionAgree {
			agreed++
		} else {
			disagreed++
		}
	}
	return agreed, disagreed, nil
}

func (f *fakeStore) CountReviewsByReviewer(ctx context.Context, reviewerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, review := range f.reviews {
		if review.ReviewerID == reviewerID {
			count++
		}
	}
	return count, nil
}

// fakeSessions is an in-memory refresh session store.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]store.User
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]store.User)}
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     "test-secret",
		AdminPassword: "admin-bootstrap",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		CORSOrigin:    "*",
	}
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	svc := newForTest(testConfig(), fs, newFakeSessions(), Options{
		AuthPW: authpw.NewService(fs),
	})
	return svc, fs
}

func seedUser(t *testing.T, fs *fakeStore, username, role string) store.User {
	t.Helper()
	user := store.User{
		ID:              "usr_" + username,
		Username:        username,
		Email:           username + "@example.com",
		FullName:        username,
		Role:            role,
		IsActive:        true,
		IsEmailVerified: true,
	}
	if err := fs.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedText(t *testing.T, fs *fakeStore, id, title, content string) store.Text {
	t.Helper()
	text := store.Text{
		ID:      id,
		Title:   title,
		Content: content,
		Status:  store.StatusInitialized,
	}
	if err := fs.InsertText(context.Background(), text); err != nil {
		t.Fatalf("seed text: %v", err)
	}
	return text
}

func sessionFor(t *testing.T, svc *Service, user store.User) Session {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestBootstrapSeedsAdminOnce(t *testing.T) {
	svc, fs := newTestService(t)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, err := fs.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if admin.Role != "admin" || !admin.IsActive || !admin.IsEmailVerified {
		t.Fatalf("unexpected admin user: %+v", admin)
	}

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	count := 0
	for _, user := range fs.users {
		if user.Username == "admin" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one admin, got %d", count)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")

	session := sessionFor(t, svc, user)
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected tokens")
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if parsed.UserID != user.ID || parsed.Role != "annotator" {
		t.Fatalf("unexpected session: %+v", parsed)
	}
}

func TestRefreshRotatesAndPicksUpRoleChange(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)

	if err := fs.UpdateUserRole(context.Background(), user.ID, "reviewer"); err != nil {
		t.Fatalf("update role: %v", err)
	}

	refreshed, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Role != "reviewer" {
		t.Fatalf("expected refreshed role reviewer, got %s", refreshed.Role)
	}

	// The old refresh token is single use.
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("expected stale refresh token to fail")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)

	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestSessionRejectedForDeactivatedUser(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)

	if err := fs.SetUserActive(context.Background(), user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected token for deactivated user to be rejected")
	}
}

func TestNextTaskSkipsRejectedTexts(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)
	first := seedText(t, fs, "txt_1", "First", "aaa")
	second := seedText(t, fs, "txt_2", "Second", "bbb")

	if err := svc.RejectTask(context.Background(), session, first.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	payload, err := svc.NextTask(context.Background(), session)
	if err != nil {
		t.Fatalf("next task: %v", err)
	}
	text := payload["text"].(map[string]any)
	if text["id"] != second.ID {
		t.Fatalf("expected %s, got %v", second.ID, text["id"])
	}
	if text["status"] != store.StatusProgress {
		t.Fatalf("expected claimed text in progress, got %v", text["status"])
	}
}

func TestUpdateTextStatusTransitionGuard(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)
	text := seedText(t, fs, "txt_1", "First", "aaa")

	status := store.StatusReviewed
	_, err := svc.UpdateText(context.Background(), session, text.ID, UpdateTextInput{Status: &status})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "INVALID_STATUS_TRANSITION" {
		t.Fatalf("expected INVALID_STATUS_TRANSITION, got %v", err)
	}

	// Admins may jump states.
	admin := seedUser(t, fs, "root", "admin")
	adminSession := sessionFor(t, svc, admin)
	if _, err := svc.UpdateText(context.Background(), adminSession, text.ID, UpdateTextInput{Status: &status}); err != nil {
		t.Fatalf("admin override: %v", err)
	}
}

func asDomainError(err error, target **DomainError) bool {
	if err == nil {
		return false
	}
	de, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = de
	return true
}

func TestCreateAnnotationValidatesOffsets(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)
	text := seedText(t, fs, "txt_1", "First", "The cat sat.")

	_, err := svc.CreateAnnotation(context.Background(), session, text.ID, AnnotationInput{
		Type:  "pos",
		Start: 4,
		End:   99,
	})
	var domainErr *DomainError
	if !asDomainError(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %v", err)
	}

	payload, err := svc.CreateAnnotation(context.Background(), session, text.ID, AnnotationInput{
		Type:  "pos",
		Start: 4,
		End:   7,
		Label: "NOUN",
	})
	if err != nil {
		t.Fatalf("create annotation: %v", err)
	}
	ann := payload["annotation"].(map[string]any)
	if ann["selectedText"] != "cat" {
		t.Fatalf("expected backfilled selected text, got %v", ann["selectedText"])
	}
	if ann["confidence"] != 100 {
		t.Fatalf("expected default confidence 100, got %v", ann["confidence"])
	}

	// The first annotation advances the text into progress.
	stored, _ := fs.GetText(context.Background(), text.ID)
	if stored.Status != store.StatusProgress {
		t.Fatalf("expected text in progress, got %s", stored.Status)
	}
}

func TestAnnotationOwnership(t *testing.T) {
	svc, fs := newTestService(t)
	owner := seedUser(t, fs, "livia", "annotator")
	other := seedUser(t, fs, "marcus", "annotator")
	ownerSession := sessionFor(t, svc, owner)
	otherSession := sessionFor(t, svc, other)
	text := seedText(t, fs, "txt_1", "First", "The cat sat.")

	payload, err := svc.CreateAnnotation(context.Background(), ownerSession, text.ID, AnnotationInput{
		Type: "pos", Start: 4, End: 7,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	annID := payload["annotation"].(map[string]any)["id"].(string)

	if err := svc.DeleteAnnotation(context.Background(), otherSession, annID); err == nil {
		t.Fatal("expected foreign delete to be forbidden")
	}
	if err := svc.DeleteAnnotation(context.Background(), ownerSession, annID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestUserStats(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	session := sessionFor(t, svc, user)
	text := seedText(t, fs, "txt_1", "First", "The cat sat.")

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateAnnotation(context.Background(), session, text.ID, AnnotationInput{
			Type: "pos", Start: i, End: i + 1,
		}); err != nil {
			t.Fatalf("create annotation %d: %v", i, err)
		}
	}

	payload, err := svc.UserStats(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	stats := payload["stats"].(map[string]any)
	if stats["annotations"] != 3 {
		t.Fatalf("expected 3 annotations, got %v", stats["annotations"])
	}
}

func TestUniquenessCheckSurfacesStoreErrors(t *testing.T) {
	svc, fs := newTestService(t)
	admin := seedUser(t, fs, "root", "admin")
	session := sessionFor(t, svc, admin)
	fs.lookupErr = errors.New("connection reset by peer")

	// A failing title lookup must surface the store error, not fall
	// through to the insert as if the title were free.
	_, err := svc.CreateText(context.Background(), session, CreateTextInput{Title: "First", Content: "body"})
	if err == nil {
		t.Fatal("expected error from failing title lookup")
	}
	var de *DomainError
	if asDomainError(err, &de) {
		t.Fatalf("expected a store error, got domain error %s", de.Code)
	}
	if len(fs.texts) != 0 {
		t.Fatal("text must not be inserted when the uniqueness check fails")
	}

	if _, err := svc.CreateAnnotationType(context.Background(), session, "pos"); err == nil {
		t.Fatal("expected error from failing type lookup")
	}
	if len(fs.types) != 0 {
		t.Fatal("type must not be inserted when the uniqueness check fails")
	}

	payload, err := svc.BulkUpload(context.Background(), session, []BulkFile{
		{Name: "one.json", Record: bulkRecord("Bulk Title", "The cat sat", 4, 7)},
	})
	if err != nil {
		t.Fatalf("bulk upload: %v", err)
	}
	results := payload["results"].([]BulkFileResult)
	if results[0].OK {
		t.Fatal("expected bulk file to fail when the title lookup fails")
	}
	if results[0].Error != "could not check title uniqueness" {
		t.Fatalf("unexpected bulk error %q", results[0].Error)
	}
}

func TestBulkUploadMixedResults(t *testing.T) {
	svc, fs := newTestService(t)
	admin := seedUser(t, fs, "root", "admin")
	session := sessionFor(t, svc, admin)

	files := []BulkFile{
		{Name: "good.json", Record: bulkRecord("Epistle I", "Salve munde", 0, 5)},
		{Name: "bad.json", Record: bulkRecord("Epistle II", "Salve", 0, 99)},
		{Name: "dup.json", Record: bulkRecord("Epistle I", "Salve iterum", 0, 5)},
	}

	payload, err := svc.BulkUpload(context.Background(), session, files)
	if err != nil {
		t.Fatalf("bulk upload: %v", err)
	}
	summary := payload["summary"].(map[string]any)
	if summary["succeeded"] != 1 || summary["failed"] != 2 {
		t.Fatalf("unexpected summary: %v", summary)
	}

	results := payload["results"].([]BulkFileResult)
	if !results[0].OK || results[0].Annotations != 1 {
		t.Fatalf("expected first file ingested: %+v", results[0])
	}
	if results[1].OK || results[2].OK {
		t.Fatalf("expected later files rejected: %+v", results[1:])
	}

	// The good file landed as annotated with its annotation stored.
	text, err := fs.GetTextByTitle(context.Background(), "Epistle I")
	if err != nil {
		t.Fatalf("uploaded text missing: %v", err)
	}
	if text.Status != store.StatusAnnotated {
		t.Fatalf("expected annotated, got %s", text.Status)
	}
	count, _ := fs.CountAnnotationsByText(context.Background(), text.ID)
	if count != 1 {
		t.Fatalf("expected 1 annotation, got %d", count)
	}
}

func bulkRecord(title, content string, start, end int) markup.ExportRecord {
	return markup.ExportRecord{
		Text: markup.ExportText{Title: title, Content: content},
		Annotations: []markup.ExportAnnotation{{
			AnnotationType: "pos",
			StartPosition:  start,
			EndPosition:    end,
			Label:          "NOUN",
		}},
	}
}

func TestBulkUploadSelectedTextMismatch(t *testing.T) {
	svc, fs := newTestService(t)
	admin := seedUser(t, fs, "root", "admin")
	session := sessionFor(t, svc, admin)

	record := bulkRecord("Epistle III", "Salve munde", 0, 5)
	record.Annotations[0].SelectedText = "munde"

	payload, err := svc.BulkUpload(context.Background(), session, []BulkFile{{Name: "f.json", Record: record}})
	if err != nil {
		t.Fatalf("bulk upload: %v", err)
	}
	results := payload["results"].([]BulkFileResult)
	if results[0].OK {
		t.Fatal("expected mismatched selected_text to fail")
	}
	if results[0].Error == "" {
		t.Fatal("expected error message")
	}
}

func TestValidatePositions(t *testing.T) {
	svc, fs := newTestService(t)
	user := seedUser(t, fs, "livia", "annotator")
	_ = sessionFor(t, svc, user)
	text := seedText(t, fs, "txt_1", "First", "The cat sat.")

	payload, err := svc.ValidatePositions(context.Background(), text.ID, []PositionSpan{
		{Start: 4, End: 7, SelectedText: "cat"},
		{Start: 4, End: 7, SelectedText: "dog"},
		{Start: -1, End: 3},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if payload["valid"] != false {
		t.Fatal("expected overall invalid")
	}
	spans := payload["spans"].([]map[string]any)
	if spans[0]["valid"] != true || spans[1]["valid"] != false || spans[2]["valid"] != false {
		t.Fatalf("unexpected span results: %v", spans)
	}
	if spans[1]["expected"] != "cat" {
		t.Fatalf("expected mismatch hint, got %v", spans[1]["expected"])
	}
}

func TestStatusCountsPayload(t *testing.T) {
	svc, fs := newTestService(t)
	seedText(t, fs, "txt_1", "First", "aaa")
	second := seedText(t, fs, "txt_2", "Second", "bbb")
	if err := fs.UpdateTextStatus(context.Background(), second.ID, store.StatusReviewed); err != nil {
		t.Fatalf("update status: %v", err)
	}

	payload, err := svc.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	counts := payload["counts"].(map[string]int)
	if counts[store.StatusInitialized] != 1 || counts[store.StatusReviewed] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestClearAnnotationsOnlyRemovesOwn(t *testing.T) {
	svc, fs := newTestService(t)
	owner := seedUser(t, fs, "livia", "annotator")
	other := seedUser(t, fs, "marcus", "annotator")
	ownerSession := sessionFor(t, svc, owner)
	otherSession := sessionFor(t, svc, other)
	text := seedText(t, fs, "txt_1", "First", "The cat sat on the mat.")

	for i, session := range []Session{ownerSession, ownerSession, otherSession} {
		if _, err := svc.CreateAnnotation(context.Background(), session, text.ID, AnnotationInput{
			Type: "pos", Start: i, End: i + 1,
		}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	payload, err := svc.ClearAnnotations(context.Background(), ownerSession, text.ID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if payload["deleted"] != 2 {
		t.Fatalf("expected 2 deleted, got %v", payload["deleted"])
	}
	remaining, _ := fs.CountAnnotationsByText(context.Background(), text.ID)
	if remaining != 1 {
		t.Fatalf("expected 1 remaining, got %d", remaining)
	}
}

func ExampleService_StatusCounts() {
	fs := newFakeStore()
	svc := newForTest(testConfig(), fs, newFakeSessions(), Options{})
	_ = fs.InsertText(context.Background(), store.Text{ID: "t1", Title: "A", Content: "x", Status: store.StatusInitialized})

	payload, _ := svc.StatusCounts(context.Background())
	fmt.Println(payload["counts"].(map[string]int)[store.StatusInitialized])
	// Output: 1
}
