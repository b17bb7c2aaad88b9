package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/swayammedia/habitpal/internal/auth"
	"github.com/swayammedia/habitpal/internal/database"
	"github.com/swayammedia/habitpal/internal/friends"
	"github.com/swayammedia/habitpal/internal/habits"
	"github.com/swayammedia/habitpal/internal/ids"
	"github.com/swayammedia/habitpal/internal/profiles"
	"github.com/swayammedia/habitpal/internal/server"
)

func newAPIHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(t.TempDir(), "integration.db")
	db, err := database.OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	clock := time.Now
	idProvider := ids.NewUUIDProvider()

	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to build profile service: %v", err)
	}
	accountService, err := auth.NewService(auth.ServiceConfig{
		Database:   db,
		Profiles:   profileService,
		IDProvider: idProvider,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build account service: %v", err)
	}
	friendService, err := friends.NewService(friends.ServiceConfig{
		Database:   db,
		Profiles:   profileService,
		IDProvider: idProvider,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build friend service: %v", err)
	}
	habitService, err := habits.NewService(habits.ServiceConfig{
		Database:   db,
		Friends:    friendService,
		Profiles:   profileService,
		IDProvider: idProvider,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build habit service: %v", err)
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("integration-secret"),
		Issuer:        "habitpal-auth",
		Audience:      "habitpal-api",
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:   tokenManager,
		Accounts: accountService,
		Profiles: profileService,
		Friends:  friendService,
		Habits:   habitService,
		Clock:    clock,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func register(t *testing.T, handler http.Handler, email, username, fullName string) string {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":"long-enough","username":%q,"full_name":%q}`, email, username, fullName)
	recorder := doJSON(t, handler, http.MethodPost, "/auth/register", "", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("registration for %s failed: %d %s", username, recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	return response.AccessToken
}

type visibleHabit struct {
	AssignmentID string `json:"assignment_id"`
	Habit        struct {
		Title string `json:"title"`
	} `json:"habit"`
	Owner struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
	} `json:"owner"`
	CompletedToday bool `json:"completed_today"`
}

func listHabits(t *testing.T, handler http.Handler, path, token string) []visibleHabit {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodGet, path, token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("listing %s failed: %d %s", path, recorder.Code, recorder.Body.String())
	}
	var listing struct {
		Habits []visibleHabit `json:"habits"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listing); err != nil {
		t.Fatalf("failed to decode habits: %v", err)
	}
	return listing.Habits
}

func TestFriendHabitVisibilityEndToEnd(t *testing.T) {
	handler := newAPIHandler(t)

	aliceToken := register(t, handler, "alice@example.com", "alice", "Alice A")
	bobToken := register(t, handler, "bob@example.com", "bob", "Bob B")

	// Bob creates a habit and completes it today.
	recorder := doJSON(t, handler, http.MethodPost, "/habits", bobToken, `{"title":"Swim","description":"laps"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("habit creation failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var created visibleHabit
	if err := json.Unmarshal(recorder.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created habit: %v", err)
	}
	recorder = doJSON(t, handler, http.MethodPost, "/habits/"+created.AssignmentID+"/completion", bobToken, `{"completed":true}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("completion failed: %d %s", recorder.Code, recorder.Body.String())
	}

	// Before any friendship, Alice sees nothing.
	if entries := listHabits(t, handler, "/habits/friends", aliceToken); len(entries) != 0 {
		t.Fatalf("expected no visible habits before friendship, got %d", len(entries))
	}

	// Alice requests, Bob accepts.
	recorder = doJSON(t, handler, http.MethodPost, "/friends/requests", aliceToken, `{"username":"bob"}`)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("friend request failed: %d %s", recorder.Code, recorder.Body.String())
	}
	recorder = doJSON(t, handler, http.MethodGet, "/friends/requests", bobToken, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("request listing failed: %d", recorder.Code)
	}
	var pending struct {
		Requests []struct {
			RequestID string `json:"request_id"`
			Username  string `json:"username"`
		} `json:"requests"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &pending); err != nil {
		t.Fatalf("failed to decode requests: %v", err)
	}
	if len(pending.Requests) != 1 || pending.Requests[0].Username != "alice" {
		t.Fatalf("unexpected pending requests %#v", pending.Requests)
	}
	recorder = doJSON(t, handler, http.MethodPost, "/friends/requests/"+pending.Requests[0].RequestID+"/respond", bobToken, `{"accept":true}`)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("accept failed: %d %s", recorder.Code, recorder.Body.String())
	}

	// Both sides now see the friendship.
	for _, token := range []string{aliceToken, bobToken} {
		recorder = doJSON(t, handler, http.MethodGet, "/friends", token, "")
		if recorder.Code != http.StatusOK {
			t.Fatalf("friend listing failed: %d", recorder.Code)
		}
		var friendsList struct {
			Friends []struct {
				Username string `json:"username"`
			} `json:"friends"`
		}
		if err := json.Unmarshal(recorder.Body.Bytes(), &friendsList); err != nil {
			t.Fatalf("failed to decode friends: %v", err)
		}
		if len(friendsList.Friends) != 1 {
			t.Fatalf("expected one friend, got %d", len(friendsList.Friends))
		}
	}

	// Alice now sees exactly Bob's habit, completed today, owned by Bob.
	entries := listHabits(t, handler, "/habits/friends", aliceToken)
	if len(entries) != 1 {
		t.Fatalf("expected one visible friend habit, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Habit.Title != "Swim" {
		t.Fatalf("unexpected habit title %q", entry.Habit.Title)
	}
	if !entry.CompletedToday {
		t.Fatalf("expected habit completed today")
	}
	if entry.Owner.Username != "bob" || entry.Owner.FullName != "Bob B" {
		t.Fatalf("unexpected owner %#v", entry.Owner)
	}

	// Bob's own dashboard is unaffected by the friendship.
	own := listHabits(t, handler, "/habits", bobToken)
	if len(own) != 1 || own[0].Owner.Username != "bob" {
		t.Fatalf("unexpected own habits %#v", own)
	}
}
