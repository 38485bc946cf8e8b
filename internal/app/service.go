package app

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"scriptorium/api/internal/auth"
	"scriptorium/api/internal/authpw"
	"scriptorium/api/internal/config"
	"scriptorium/api/internal/email"
	"scriptorium/api/internal/export"
	"scriptorium/api/internal/rbac"
	"scriptorium/api/internal/search"
	"scriptorium/api/internal/store"
	"scriptorium/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the persistence surface the service needs. PostgresStore
// satisfies it; tests plug in a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	// users
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByUsername(context.Context, string) (store.User, error)
	ListUsers(context.Context, int, int) ([]store.User, error)
	UpdateUserProfile(ctx context.Context, userID, fullName, email string) error
	UpdateUserRole(ctx context.Context, userID, role string) error
	SetUserActive(ctx context.Context, userID string, active bool) error

	// token revocation
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	// texts
	InsertText(context.Context, store.Text) error
	InsertTextWithAnnotations(ctx context.Context, text store.Text, annotations []store.Annotation) error
	GetText(context.Context, string) (store.Text, error)
	GetTextByTitle(context.Context, string) (store.Text, error)
	ListTexts(context.Context, store.TextFilter) ([]store.Text, error)
	UpdateText(ctx context.Context, textID string, title, content, source, language, translation, status *string, reviewerID **string) error
	UpdateTextStatus(ctx context.Context, textID, status string) error
	AssignAnnotator(ctx context.Context, textID, userID string) error
	AssignReviewer(ctx context.Context, textID, userID string) error
	SoftDeleteText(ctx context.Context, textID string) error
	NextTaskText(ctx context.Context, userID string) (*store.Text, error)
	RejectText(ctx context.Context, userID, textID string) error
	ListTextsForReview(ctx context.Context, reviewerID string, offset, limit int) ([]store.Text, error)
	CountTextsByStatus(ctx context.Context) (map[string]int, error)

	// annotations
	InsertAnnotation(context.Context, store.Annotation) error
	GetAnnotation(context.Context, string) (store.Annotation, error)
	ListAnnotationsByText(context.Context, string) ([]store.Annotation, error)
	UpdateAnnotation(context.Context, store.Annotation) error
	DeleteAnnotation(context.Context, string) error
	DeleteAnnotationsByTextAndAnnotator(ctx context.Context, textID, annotatorID string) (int, error)
	CountAnnotationsByAnnotator(ctx context.Context, annotatorID string) (int, error)
	CountAnnotationsByText(ctx context.Context, textID string) (int, error)

	// annotation types and typologies
	InsertAnnotationType(context.Context, store.AnnotationType) error
	GetAnnotationType(context.Context, string) (store.AnnotationType, error)
	GetAnnotationTypeByName(context.Context, string) (store.AnnotationType, error)
	ListAnnotationTypes(context.Context) ([]store.AnnotationType, error)
	UpdateAnnotationType(ctx context.Context, typeID, name string) error
	DeleteAnnotationType(ctx context.Context, typeID string) error
	InsertTypologyItems(context.Context, []store.TypologyItem) error
	ListTypologyItems(ctx context.Context, typeID string) ([]store.TypologyItem, error)
	GetTypologyItem(ctx context.Context, itemID string) (store.TypologyItem, error)
	UpdateTypologyItem(ctx context.Context, itemID, title, description string, meta map[string]any) error
	DeleteTypologyItem(ctx context.Context, itemID string) error
	DeleteTypologyItemsByType(ctx context.Context, typeID string) (int, error)
	CountTypologyChildren(ctx context.Context, itemID string) (int, error)

	// reviews
	UpsertReview(context.Context, store.Review) error
	ListReviewsByText(ctx context.Context, textID string) ([]store.Review, error)
	CountReviewsByText(ctx context.Context, textID string) (agreed, disagreed int, err error)
	CountReviewsByReviewer(ctx context.Context, reviewerID string) (int, error)
}

// sessionStore holds refresh sessions. Redis when configured, Postgres
// otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessionStore adapts the relational store to the session interface.
type pgSessionStore struct {
	store *store.PostgresStore
}

func (p pgSessionStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessionStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessionStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexText(t search.TextRecord)
	IndexAnnotation(a search.AnnotationRecord)
	DeleteText(id string)
	DeleteAnnotation(id string)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	authpw    *authpw.Service
	email     *email.Service
	search    searchService
	export    *export.Service
	openpecha openPechaCatalog
}

// Options bundles the optional collaborators wired in main.
type Options struct {
	Sessions  sessionStore
	AuthPW    *authpw.Service
	Email     *email.Service
	Search    searchService
	Export    *export.Service
	OpenPecha openPechaCatalog
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts Options) *Service {
	sessions := opts.Sessions
	if sessions == nil {
		sessions = pgSessionStore{store: dataStore}
	}
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		authpw:    opts.AuthPW,
		email:     opts.Email,
		search:    opts.Search,
		export:    opts.Export,
		openpecha: opts.OpenPecha,
	}
}

// newForTest wires a service around fakes.
func newForTest(cfg config.Config, ds dataStore, sessions sessionStore, opts Options) *Service {
	return &Service{
		cfg:       cfg,
		store:     ds,
		sessions:  sessions,
		authpw:    opts.AuthPW,
		email:     opts.Email,
		search:    opts.Search,
		export:    opts.Export,
		openpecha: opts.OpenPecha,
	}
}

// Bootstrap seeds the initial admin account so a fresh deployment is
// usable before anyone signs up.
func (s *Service) Bootstrap(ctx context.Context) error {
	const adminUsername = "admin"
	if _, err := s.store.GetUserByUsername(ctx, adminUsername); err == nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.CreateUser(ctx, store.User{
		ID:              util.NewID("usr"),
		Username:        adminUsername,
		Email:           "admin@localhost",
		FullName:        "Administrator",
		PasswordHash:    string(hash),
		Role:            string(rbac.RoleAdmin),
		IsActive:        true,
		IsEmailVerified: true,
	})
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues access and refresh tokens for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Sessions only carry a user snapshot; reload so role changes apply.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:      user.ID,
		Username: user.Username,
		Role:     user.Role,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Search proxies the search facade.
func (s *Service) Search(ctx context.Context, q, filterType, language, status string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(search.Query{
		Text:           q,
		FilterType:     search.ResultType(filterType),
		FilterLanguage: language,
		FilterStatus:   status,
		Limit:          limit,
		Offset:         offset,
	}), nil
}
