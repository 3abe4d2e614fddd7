package server

import (
	"net/http"
	"testing"

	"github.com/garagetrack/garagetrack/internal/mailer"
	"github.com/garagetrack/garagetrack/internal/registry"
)

func TestCreateGarageIssuesBearerToken(t *testing.T) {
	env := newTestEnvironment(t)

	_, token := env.createGarage(t)
	if token == "" {
		t.Fatal("expected non-empty access token")
	}

	recorder := env.do(t, http.MethodGet, "/vehicles", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected issued token to authorize, got %d", recorder.Code)
	}
}

func TestAccessGarageRejectsMalformedIdentifier(t *testing.T) {
	env := newTestEnvironment(t)

	for _, malformed := range []string{"not-a-uuid", "{123e4567-e89b-12d3-a456-426614174000}", ""} {
		recorder := env.do(t, http.MethodPost, "/garage/access", "", map[string]string{"garage_id": malformed})
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", malformed, recorder.Code)
		}
	}
}

func TestAccessGarageReturnsTokenForKnownIdentifier(t *testing.T) {
	env := newTestEnvironment(t)
	garageID, _ := env.createGarage(t)

	recorder := env.do(t, http.MethodPost, "/garage/access", "", map[string]string{"garage_id": garageID})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected access status: %d body %s", recorder.Code, recorder.Body.String())
	}
	var payload tokenPayload
	decodeBody(t, recorder, &payload)
	if payload.GarageID != garageID {
		t.Fatalf("expected garage id %s, got %s", garageID, payload.GarageID)
	}
	if payload.AccessToken == "" {
		t.Fatal("expected access token")
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnvironment(t)

	recorder := env.do(t, http.MethodGet, "/vehicles", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, "/vehicles", "garbage-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", recorder.Code)
	}
}

func TestGarageEmailReportsSimulatedStatus(t *testing.T) {
	env := newTestEnvironment(t)
	garageID, _ := env.createGarage(t)

	recorder := env.do(t, http.MethodPost, "/garage/email", "", map[string]string{
		"email":     "owner@example.com",
		"garage_id": garageID,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected email status: %d body %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		Status string `json:"status"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Status != mailer.StatusSimulated {
		t.Fatalf("expected simulated status, got %q", payload.Status)
	}
}

func TestGarageEmailRejectsInvalidRecipient(t *testing.T) {
	env := newTestEnvironment(t)

	recorder := env.do(t, http.MethodPost, "/garage/email", "", map[string]string{
		"email":     "not-an-address",
		"garage_id": "123e4567-e89b-12d3-a456-426614174000",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid recipient, got %d", recorder.Code)
	}
}

func TestPlateLookupOutcomeTaxonomy(t *testing.T) {
	testCases := []struct {
		name       string
		lookupErr  error
		wantStatus int
	}{
		{name: "found", lookupErr: nil, wantStatus: http.StatusOK},
		{name: "not found", lookupErr: registry.ErrPlateNotFound, wantStatus: http.StatusNotFound},
		{name: "upstream failure", lookupErr: registry.ErrLookupFailed, wantStatus: http.StatusBadGateway},
		{name: "not configured", lookupErr: registry.ErrNotConfigured, wantStatus: http.StatusServiceUnavailable},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			env := newTestEnvironment(t)
			env.plates.result = registry.LookupResult{Make: "Volvo", Model: "V70", Plate: "AB12345"}
			env.plates.err = testCase.lookupErr

			recorder := env.do(t, http.MethodGet, "/lookup/ab12345", "", nil)
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("expected status %d, got %d body %s", testCase.wantStatus, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestPlateLookupServesSecondRequestFromCache(t *testing.T) {
	env := newTestEnvironment(t)
	env.plates.result = registry.LookupResult{Make: "Volvo", Model: "V70", Plate: "AB12345"}

	first := env.do(t, http.MethodGet, "/lookup/AB12345", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected first lookup status: %d", first.Code)
	}
	second := env.do(t, http.MethodGet, "/lookup/ab12345", "", nil)
	if second.Code != http.StatusOK {
		t.Fatalf("unexpected second lookup status: %d", second.Code)
	}
	if env.plates.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", env.plates.calls)
	}

	var payload registry.LookupResult
	decodeBody(t, second, &payload)
	if payload.Make != "Volvo" {
		t.Fatalf("unexpected cached payload: %+v", payload)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnvironment(t)

	if recorder := env.do(t, http.MethodGet, "/healthz", "", nil); recorder.Code != http.StatusOK {
		t.Fatalf("unexpected health status: %d", recorder.Code)
	}
	if recorder := env.do(t, http.MethodGet, "/metrics", "", nil); recorder.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", recorder.Code)
	}
}
