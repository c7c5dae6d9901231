package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/artboard/internal/auth"
	"github.com/hitoshi/artboard/internal/middleware"
	"github.com/hitoshi/artboard/internal/model"
	"github.com/hitoshi/artboard/internal/security"
	"github.com/hitoshi/artboard/internal/user"
)

const testSecret = "router-test-secret-at-least-32-bytes!"

// memUserRepo はメモリ上でユーザーを保持するUserRepositoryの実装。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return model.ErrEmailTaken
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) Update(_ context.Context, id string, update model.UserUpdate) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	if update.Name != nil {
		u.Name = update.Name
	}
	if update.Email != nil {
		u.Email = *update.Email
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return model.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) hashOf(email string) string {
	u, _ := r.FindByEmail(context.Background(), email)
	if u == nil {
		return ""
	}
	return u.PasswordHash
}

type testEnv struct {
	handler http.Handler
	repo    *memUserRepo
	tokens  *auth.TokenManager
}

// newTestEnv は実サービスとメモリストアで組み立てたルーターを返す。
func newTestEnv(t *testing.T, production bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	repo := newMemUserRepo()
	hasher := auth.NewBcryptHasher(4)
	tokens := auth.NewTokenManager(testSecret, time.Hour)
	sanitizer := security.NewNameSanitizer()

	authService := auth.NewService(repo, hasher, tokens, sanitizer, nil)
	userService := user.NewService(repo, hasher, sanitizer)

	h := NewRouter(&RouterDeps{
		Logger:            logger,
		Responder:         middleware.NewErrorResponder(production, logger),
		CORSAllowedOrigin: "http://localhost:5173",
		Authenticator:     authService,
		AuthService:       authService,
		UserService:       userService,
		APIVersion:        "v1",
	})
	return &testEnv{handler: h, repo: repo, tokens: tokens}
}

type apiResponse struct {
	Status  string             `json:"status"`
	Data    json.RawMessage    `json:"data"`
	Message string             `json:"message"`
	Errors  []model.FieldError `json:"errors"`
	Stack   string             `json:"stack"`
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	return rec.Code, resp
}

type authData struct {
	User  map[string]any `json:"user"`
	Token string         `json:"token"`
}

func (e *testEnv) register(t *testing.T, email, password string) authData {
	t.Helper()
	code, resp := e.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"`+email+`","password":"`+password+`","name":"Tester"}`, "")
	if code != http.StatusCreated {
		t.Fatalf("register status = %d, message = %q", code, resp.Message)
	}
	var data authData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("dataのデコードに失敗: %v", err)
	}
	return data
}

func TestRouter_Register_ReturnsTokenWithoutPassword(t *testing.T) {
	env := newTestEnv(t, false)

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"a@b.com","password":"longenough","name":"A"}`, "")
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (message %q)", code, resp.Message)
	}
	if resp.Status != middleware.StatusSuccess {
		t.Errorf("status field = %q, want success", resp.Status)
	}

	var data authData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("dataのデコードに失敗: %v", err)
	}
	if data.Token == "" {
		t.Error("token が空")
	}
	for _, key := range []string{"password", "passwordHash", "PasswordHash", "password_hash"} {
		if _, ok := data.User[key]; ok {
			t.Errorf("user に %q が含まれてはならない", key)
		}
	}
	if data.User["email"] != "a@b.com" || data.User["name"] != "A" {
		t.Errorf("user = %+v", data.User)
	}
}

func TestRouter_Register_WithoutName(t *testing.T) {
	env := newTestEnv(t, false)

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"a@b.com","password":"longenough"}`, "")
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (message %q)", code, resp.Message)
	}
	var data authData
	json.Unmarshal(resp.Data, &data)
	if data.User["name"] != nil {
		t.Errorf("name = %v, want null", data.User["name"])
	}
}

func TestRouter_Register_Twice_SecondIsUserExists(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "dup@example.com", "password123")

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"dup@example.com","password":"password456"}`, "")
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if resp.Message != "User already exists" {
		t.Errorf("message = %q, want %q", resp.Message, "User already exists")
	}
}

func TestRouter_Register_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{"invalid email", `{"email":"not-an-email","password":"longenough"}`, []string{"email"}},
		{"short password", `{"email":"a@b.com","password":"short"}`, []string{"password"}},
		{"empty object", `{}`, []string{"email", "password"}},
		{"empty body", ``, []string{"email", "password"}},
		{"empty name", `{"email":"a@b.com","password":"longenough","name":""}`, []string{"name"}},
		{"wrong type", `{"email":42,"password":"longenough"}`, []string{"email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", tt.body, "")
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", code)
			}
			if resp.Message != "Validation error" {
				t.Errorf("message = %q, want Validation error", resp.Message)
			}
			if len(resp.Errors) != len(tt.wantFields) {
				t.Fatalf("errors = %+v, want fields %v", resp.Errors, tt.wantFields)
			}
			for i, f := range tt.wantFields {
				if resp.Errors[i].Field != f {
					t.Errorf("errors[%d].field = %q, want %q", i, resp.Errors[i].Field, f)
				}
				if resp.Errors[i].Message == "" {
					t.Errorf("errors[%d].message が空", i)
				}
			}
		})
	}
}

func TestRouter_Register_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, false)

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/register", `{"email":`, "")
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if resp.Message != "Invalid JSON body" {
		t.Errorf("message = %q, want Invalid JSON body", resp.Message)
	}
}

func TestRouter_Register_SanitizesName(t *testing.T) {
	env := newTestEnv(t, false)

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"x@example.com","password":"longenough","name":"<script>alert(1)</script>Bob"}`, "")
	if code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (message %q)", code, resp.Message)
	}
	var data authData
	json.Unmarshal(resp.Data, &data)
	if name, _ := data.User["name"].(string); strings.ContainsAny(name, "<>") {
		t.Errorf("name = %q, HTMLが除去されていない", name)
	}
}

func TestRouter_Login_NoEnumerationSignal(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "known@example.com", "password123")

	wrongCode, wrongResp := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"known@example.com","password":"wrong-password"}`, "")
	unknownCode, unknownResp := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"unknown@example.com","password":"wrong-password"}`, "")

	if wrongCode != http.StatusUnauthorized || unknownCode != http.StatusUnauthorized {
		t.Fatalf("status = %d / %d, want 401 / 401", wrongCode, unknownCode)
	}
	if wrongResp.Message != unknownResp.Message {
		t.Errorf("メッセージが異なる: %q vs %q", wrongResp.Message, unknownResp.Message)
	}
	if wrongResp.Message != "Invalid credentials" {
		t.Errorf("message = %q, want Invalid credentials", wrongResp.Message)
	}
}

func TestRouter_Login_Success(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "known@example.com", "password123")

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/login",
		`{"email":"known@example.com","password":"password123"}`, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (message %q)", code, resp.Message)
	}
	var data authData
	json.Unmarshal(resp.Data, &data)
	if data.Token == "" {
		t.Error("token が空")
	}
	if _, ok := data.User["password"]; ok {
		t.Error("user に password が含まれてはならない")
	}
}

func TestRouter_Login_EmptyPasswordIsInvalidCredentials(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "known@example.com", "password123")

	code, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"known@example.com","password":""}`, "")
	if code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}

	code, resp := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"known@example.com"}`, "")
	if code != http.StatusBadRequest || len(resp.Errors) != 1 || resp.Errors[0].Field != "password" {
		t.Errorf("status = %d, errors = %+v, want 400 with password error", code, resp.Errors)
	}
}

func TestRouter_ResetPassword_SameMessageForUnknownEmail(t *testing.T) {
	env := newTestEnv(t, false)
	env.register(t, "known@example.com", "password123")

	knownCode, knownResp := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", `{"email":"known@example.com"}`, "")
	unknownCode, unknownResp := env.do(t, http.MethodPost, "/api/v1/auth/reset-password", `{"email":"nobody@example.com"}`, "")

	if knownCode != http.StatusOK || unknownCode != http.StatusOK {
		t.Fatalf("status = %d / %d, want 200 / 200", knownCode, unknownCode)
	}
	if knownResp.Message != unknownResp.Message || knownResp.Message != resetRequestedMessage {
		t.Errorf("messages = %q / %q", knownResp.Message, unknownResp.Message)
	}
}

func TestRouter_TokenForDeletedUser_Rejected(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "gone@example.com", "password123")

	code, resp := env.do(t, http.MethodDelete, "/api/v1/users/me", "", data.Token)
	if code != http.StatusOK || resp.Message != "Account deleted successfully" {
		t.Fatalf("delete status = %d, message = %q", code, resp.Message)
	}

	code, resp = env.do(t, http.MethodGet, "/api/v1/users/me", "", data.Token)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if resp.Message != "User not found" {
		t.Errorf("message = %q, want User not found", resp.Message)
	}
}

func TestRouter_ExpiredToken_Rejected(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "exp@example.com", "password123")

	var u struct {
		ID string `json:"id"`
	}
	raw, _ := json.Marshal(data.User)
	json.Unmarshal(raw, &u)

	expired, err := auth.NewTokenManager(testSecret, -time.Minute).Issue(u.ID)
	if err != nil {
		t.Fatalf("Issue がエラーを返した: %v", err)
	}

	code, resp := env.do(t, http.MethodGet, "/api/v1/users/me", "", expired)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if resp.Message != "Invalid token" {
		t.Errorf("message = %q, want Invalid token", resp.Message)
	}
}

func TestRouter_ChangePassword_WrongCurrentKeepsHash(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "pw@example.com", "original-pass")
	before := env.repo.hashOf("pw@example.com")

	code, resp := env.do(t, http.MethodPatch, "/api/v1/users/me/password",
		`{"currentPassword":"not-the-password","newPassword":"brand-new-pass"}`, data.Token)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if resp.Message != "Current password is incorrect" {
		t.Errorf("message = %q", resp.Message)
	}
	if after := env.repo.hashOf("pw@example.com"); after != before {
		t.Error("現在のパスワード誤りでハッシュが変更された")
	}

	code, _ = env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"pw@example.com","password":"original-pass"}`, "")
	if code != http.StatusOK {
		t.Errorf("旧パスワードでのログイン status = %d, want 200", code)
	}
}

func TestRouter_ChangePassword_Success(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "pw@example.com", "original-pass")

	code, resp := env.do(t, http.MethodPatch, "/api/v1/users/me/password",
		`{"currentPassword":"original-pass","newPassword":"brand-new-pass"}`, data.Token)
	if code != http.StatusOK || resp.Message != "Password updated successfully" {
		t.Fatalf("status = %d, message = %q", code, resp.Message)
	}

	if code, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"pw@example.com","password":"original-pass"}`, ""); code != http.StatusUnauthorized {
		t.Errorf("旧パスワードでのログイン status = %d, want 401", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"pw@example.com","password":"brand-new-pass"}`, ""); code != http.StatusOK {
		t.Errorf("新パスワードでのログイン status = %d, want 200", code)
	}
}

func TestRouter_ChangePassword_ShortNewPassword(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "pw@example.com", "original-pass")

	code, resp := env.do(t, http.MethodPatch, "/api/v1/users/me/password",
		`{"currentPassword":"original-pass","newPassword":"short"}`, data.Token)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Field != "newPassword" {
		t.Errorf("errors = %+v", resp.Errors)
	}
}

func TestRouter_Profile_GetAndUpdate(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "me@example.com", "password123")
	env.register(t, "taken@example.com", "password123")

	code, resp := env.do(t, http.MethodGet, "/api/v1/users/me", "", data.Token)
	if code != http.StatusOK {
		t.Fatalf("GET status = %d", code)
	}
	var got struct {
		User map[string]any `json:"user"`
	}
	json.Unmarshal(resp.Data, &got)
	if got.User["email"] != "me@example.com" {
		t.Errorf("user = %+v", got.User)
	}
	if _, ok := got.User["password"]; ok {
		t.Error("user に password が含まれてはならない")
	}

	code, resp = env.do(t, http.MethodPatch, "/api/v1/users/me", `{"email":"taken@example.com"}`, data.Token)
	if code != http.StatusBadRequest || resp.Message != "Email already in use" {
		t.Errorf("email conflict: status = %d, message = %q", code, resp.Message)
	}

	code, resp = env.do(t, http.MethodPatch, "/api/v1/users/me", `{"email":"me@example.com","name":"<b>Renamed</b>"}`, data.Token)
	if code != http.StatusOK {
		t.Fatalf("PATCH status = %d, message = %q", code, resp.Message)
	}
	json.Unmarshal(resp.Data, &got)
	if got.User["name"] != "Renamed" {
		t.Errorf("name = %v, want Renamed", got.User["name"])
	}

	code, resp = env.do(t, http.MethodPatch, "/api/v1/users/me", `{"email":"bad"}`, data.Token)
	if code != http.StatusBadRequest || len(resp.Errors) != 1 || resp.Errors[0].Field != "email" {
		t.Errorf("invalid email: status = %d, errors = %+v", code, resp.Errors)
	}
}

func TestRouter_OverlongFields_Rejected(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "me@example.com", "password123")

	longName := strings.Repeat("n", 300)
	longEmail := strings.Repeat("a", 250) + "@example.com"

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		token     string
		wantField string
	}{
		{"register name", http.MethodPost, "/api/v1/auth/register",
			`{"email":"new@example.com","password":"longenough","name":"` + longName + `"}`, "", "name"},
		{"register email", http.MethodPost, "/api/v1/auth/register",
			`{"email":"` + longEmail + `","password":"longenough"}`, "", "email"},
		{"profile name", http.MethodPatch, "/api/v1/users/me",
			`{"name":"` + longName + `"}`, data.Token, "name"},
		{"profile email", http.MethodPatch, "/api/v1/users/me",
			`{"email":"` + longEmail + `"}`, data.Token, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, tt.path, tt.body, tt.token)
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (message %q)", code, resp.Message)
			}
			if len(resp.Errors) != 1 || resp.Errors[0].Field != tt.wantField {
				t.Errorf("errors = %+v, want field %q", resp.Errors, tt.wantField)
			}
		})
	}

	if u, _ := env.repo.FindByEmail(context.Background(), "new@example.com"); u != nil {
		t.Error("長すぎる名前のユーザーが作成されている")
	}
}

func TestRouter_Profile_NameTooShortAfterSanitize(t *testing.T) {
	env := newTestEnv(t, false)
	data := env.register(t, "me@example.com", "password123")

	code, resp := env.do(t, http.MethodPatch, "/api/v1/users/me", `{"name":"<b>x</b>"}`, data.Token)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Field != "name" ||
		resp.Errors[0].Message != "Name must be at least 2 characters" {
		t.Errorf("errors = %+v", resp.Errors)
	}

	_, resp = env.do(t, http.MethodGet, "/api/v1/users/me", "", data.Token)
	var got struct {
		User map[string]any `json:"user"`
	}
	json.Unmarshal(resp.Data, &got)
	if got.User["name"] != "Tester" {
		t.Errorf("name = %v, 変更されてはならない", got.User["name"])
	}
}

func TestRouter_NonUUIDSubject_InvalidToken(t *testing.T) {
	env := newTestEnv(t, false)

	token, err := env.tokens.Issue("not-a-uuid")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	code, resp := env.do(t, http.MethodGet, "/api/v1/users/me", "", token)
	if code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", code)
	}
	if resp.Message != "Invalid token" {
		t.Errorf("message = %q, want Invalid token", resp.Message)
	}
}

// panicUserService は呼び出されたらテストを失敗させるUserServiceInterface。
type panicUserService struct{ t *testing.T }

func (s panicUserService) fail() { s.t.Error("認証に失敗したリクエストがハンドラーに到達した") }

func (s panicUserService) Profile(context.Context, string) (*model.UserProfile, error) {
	s.fail()
	return nil, errors.New("unreachable")
}

func (s panicUserService) UpdateProfile(context.Context, string, model.UserUpdate) (*model.UserProfile, error) {
	s.fail()
	return nil, errors.New("unreachable")
}

func (s panicUserService) ChangePassword(context.Context, string, string, string) error {
	s.fail()
	return errors.New("unreachable")
}

func (s panicUserService) Withdraw(context.Context, string) error {
	s.fail()
	return errors.New("unreachable")
}

func TestRouter_ProtectedRoutes_MalformedAuthorization(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	repo := newMemUserRepo()
	hasher := auth.NewBcryptHasher(4)
	authService := auth.NewService(repo, hasher, auth.NewTokenManager(testSecret, time.Hour), nil, nil)
	h := NewRouter(&RouterDeps{
		Logger:        logger,
		Authenticator: authService,
		AuthService:   authService,
		UserService:   panicUserService{t: t},
		APIVersion:    "v1",
	})

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/users/me"},
		{http.MethodPatch, "/api/v1/users/me"},
		{http.MethodPatch, "/api/v1/users/me/password"},
		{http.MethodDelete, "/api/v1/users/me"},
	}
	headers := []struct {
		name, value, wantMessage string
	}{
		{"missing", "", "Authentication required"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "Authentication required"},
		{"lowercase bearer", "bearer abc", "Authentication required"},
		{"bearer without token", "Bearer ", "Authentication required"},
		{"garbage token", "Bearer not.a.jwt", "Invalid token"},
	}

	for _, rt := range routes {
		for _, hd := range headers {
			t.Run(rt.method+" "+rt.path+" "+hd.name, func(t *testing.T) {
				req := httptest.NewRequest(rt.method, rt.path, strings.NewReader(`{}`))
				if hd.value != "" {
					req.Header.Set("Authorization", hd.value)
				}
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)

				if rec.Code != http.StatusUnauthorized {
					t.Fatalf("status = %d, want 401", rec.Code)
				}
				var resp apiResponse
				json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Message != hd.wantMessage {
					t.Errorf("message = %q, want %q", resp.Message, hd.wantMessage)
				}
			})
		}
	}
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/nope?x=1"},
		{http.MethodGet, "/unknown"},
		{http.MethodPut, "/api/v1/users/me"},
		{http.MethodGet, "/api/v1/auth/login"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			code, resp := env.do(t, tt.method, tt.path, "", "")
			if code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", code)
			}
			want := "Route " + tt.path + " not found"
			if resp.Message != want {
				t.Errorf("message = %q, want %q", resp.Message, want)
			}
			if resp.Status != middleware.StatusError {
				t.Errorf("status field = %q, want error", resp.Status)
			}
		})
	}
}

func TestRouter_StackOnlyOutsideProduction(t *testing.T) {
	dev := newTestEnv(t, false)
	_, resp := dev.do(t, http.MethodGet, "/api/v1/missing", "", "")
	if resp.Stack == "" {
		t.Error("開発環境ではstackを含むべき")
	}

	prod := newTestEnv(t, true)
	_, resp = prod.do(t, http.MethodGet, "/api/v1/missing", "", "")
	if resp.Stack != "" {
		t.Error("本番環境ではstackを含めてはならない")
	}
}

type stubChecker struct{ err error }

func (c stubChecker) PingContext(context.Context) error { return c.err }

func TestRouter_Health(t *testing.T) {
	for _, path := range []string{"/api/health", "/api/v1/health"} {
		t.Run(path, func(t *testing.T) {
			h := NewRouter(&RouterDeps{
				Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
				APIVersion:    "v1",
				HealthChecker: stubChecker{},
			})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var body map[string]string
			json.NewDecoder(rec.Body).Decode(&body)
			if body["status"] != "ok" || body["version"] != "v1" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestRouter_Health_DatabaseDown(t *testing.T) {
	h := NewRouter(&RouterDeps{
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
		APIVersion:    "v2",
		HealthChecker: stubChecker{err: errors.New("connection refused")},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRouter_RateLimitAheadOfRoutes(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{Window: time.Minute, MaxRequests: 2})
	t.Cleanup(rl.Stop)

	h := NewRouter(&RouterDeps{
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
		RateLimiter: rl,
		APIVersion:  "v1",
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/api/v1/missing", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After ヘッダーが無い")
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}
