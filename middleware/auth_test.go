package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"waste-ops-service/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func TestExtractToken(t *testing.T) {
	testCases := []struct {
		name   string
		header string

		expect string
	}{
		{"Bearer token", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"Missing scheme", "abc.def.ghi", ""},
		{"Wrong scheme", "Basic abc.def.ghi", ""},
		{"Empty header", "", ""},
		{"Lowercase scheme", "bearer abc.def.ghi", ""},
	}

	for _, testCase := range testCases {
		if got := extractToken(testCase.header); got != testCase.expect {
			t.Errorf("%s: expected %q, got %q", testCase.name, testCase.expect, got)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("user1", models.RoleAgent, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("cannot generate token: %v", err)
	}

	userID, role, err := validateToken(token, testSecret)
	if err != nil {
		t.Fatalf("cannot validate token: %v", err)
	}
	if userID != "user1" {
		t.Errorf("expected user1, got %s", userID)
	}
	if role != models.RoleAgent {
		t.Errorf("expected agent role, got %s", role)
	}
}

func TestValidateTokenRejections(t *testing.T) {
	good, _ := GenerateToken("user1", models.RoleCitizen, testSecret, time.Hour)
	expired, _ := GenerateToken("user1", models.RoleCitizen, testSecret, -time.Hour)
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)

	testCases := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"Wrong secret", good, []byte("other-secret")},
		{"Expired token", expired, testSecret},
		{"Missing user_id claim", noUser, testSecret},
		{"Garbage", "not-a-token", testSecret},
	}

	for _, testCase := range testCases {
		if _, _, err := validateToken(testCase.token, testCase.secret); err == nil {
			t.Errorf("%s: expected an error", testCase.name)
		}
	}
}

func TestValidateTokenDefaultRole(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "user1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("cannot sign token: %v", err)
	}

	_, role, err := validateToken(token, testSecret)
	if err != nil {
		t.Fatalf("cannot validate token: %v", err)
	}
	if role != models.RoleCitizen {
		t.Errorf("expected default citizen role, got %s", role)
	}
}

func authTestRouter(handler gin.HandlerFunc, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := append([]gin.HandlerFunc{AuthMiddleware(testSecret)}, extra...)
	chain = append(chain, handler)
	r.GET("/ping", chain...)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	token, _ := GenerateToken("user1", models.RoleAdmin, testSecret, time.Hour)
	r := authTestRouter(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": CallerID(c), "role": string(CallerRole(c))})
	})

	testCases := []struct {
		name   string
		header string

		expectCode int
	}{
		{"Valid token", "Bearer " + token, http.StatusOK},
		{"No header", "", http.StatusUnauthorized},
		{"Bad format", token, http.StatusUnauthorized},
		{"Bad token", "Bearer bogus", http.StatusUnauthorized},
	}

	for _, testCase := range testCases {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if testCase.header != "" {
			req.Header.Set("Authorization", testCase.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != testCase.expectCode {
			t.Errorf("%s: expected %d, got %d", testCase.name, testCase.expectCode, w.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	adminToken, _ := GenerateToken("admin1", models.RoleAdmin, testSecret, time.Hour)
	citizenToken, _ := GenerateToken("citizen1", models.RoleCitizen, testSecret, time.Hour)
	r := authTestRouter(func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, RequireRole(models.RoleAdmin))

	testCases := []struct {
		name  string
		token string

		expectCode int
	}{
		{"Admin passes", adminToken, http.StatusOK},
		{"Citizen blocked", citizenToken, http.StatusForbidden},
	}

	for _, testCase := range testCases {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer "+testCase.token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != testCase.expectCode {
			t.Errorf("%s: expected %d, got %d", testCase.name, testCase.expectCode, w.Code)
		}
	}
}

func TestRequireFieldWork(t *testing.T) {
	agentToken, _ := GenerateToken("agent1", models.RoleAgent, testSecret, time.Hour)
	citizenToken, _ := GenerateToken("citizen1", models.RoleCitizen, testSecret, time.Hour)
	r := authTestRouter(func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, RequireFieldWork())

	testCases := []struct {
		name  string
		token string

		expectCode int
	}{
		{"Agent passes", agentToken, http.StatusOK},
		{"Citizen blocked", citizenToken, http.StatusForbidden},
	}

	for _, testCase := range testCases {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer "+testCase.token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != testCase.expectCode {
			t.Errorf("%s: expected %d, got %d", testCase.name, testCase.expectCode, w.Code)
		}
	}
}
