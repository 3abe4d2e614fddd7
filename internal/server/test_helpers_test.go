package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/garagetrack/garagetrack/internal/fleet"
	"github.com/garagetrack/garagetrack/internal/garage"
	"github.com/garagetrack/garagetrack/internal/localcache"
	"github.com/garagetrack/garagetrack/internal/mailer"
	"github.com/garagetrack/garagetrack/internal/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type testEnvironment struct {
	handler http.Handler
	cache   *localcache.Memory
	plates  *stubPlateLookup
}

type stubPlateLookup struct {
	result registry.LookupResult
	err    error
	calls  int
}

func (s *stubPlateLookup) Lookup(context.Context, string) (registry.LookupResult, error) {
	s.calls++
	if s.err != nil {
		return registry.LookupResult{}, s.err
	}
	return s.result, nil
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server-%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&garage.Garage{},
		&fleet.Vehicle{},
		&fleet.VehicleSpecs{},
		&fleet.ServiceLog{},
		&fleet.ServiceTask{},
		&fleet.OutboxEntry{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	garageService, err := garage.NewService(garage.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build garage service: %v", err)
	}
	fleetService, err := fleet.NewService(fleet.ServiceConfig{
		Database:   db,
		IDProvider: fleet.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build fleet service: %v", err)
	}
	cache := localcache.NewMemory()
	syncService, err := fleet.NewSyncService(fleet.SyncServiceConfig{
		Database:   db,
		Cache:      cache,
		Fleet:      fleetService,
		IDProvider: fleet.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build sync service: %v", err)
	}

	plates := &stubPlateLookup{}
	handler, err := NewHTTPHandler(Dependencies{
		GarageService: garageService,
		TokenIssuer: garage.NewTokenIssuer(garage.TokenIssuerConfig{
			SigningSecret: []byte("test-signing-secret"),
			TokenTTL:      time.Hour,
		}),
		FleetService: fleetService,
		SyncService:  syncService,
		Mailer:       mailer.NewLogMailer(zap.NewNop()),
		PlateClient:  plates,
		Cache:        cache,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testEnvironment{handler: handler, cache: cache, plates: plates}
}

func (env *testEnvironment) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

// createGarage provisions a garage over the API and returns its id and token.
func (env *testEnvironment) createGarage(t *testing.T) (string, string) {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/garage", "", nil)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected create garage status: %d body %s", recorder.Code, recorder.Body.String())
	}
	var payload tokenPayload
	decodeBody(t, recorder, &payload)
	if payload.GarageID == "" || payload.AccessToken == "" {
		t.Fatalf("incomplete token payload: %+v", payload)
	}
	return payload.GarageID, payload.AccessToken
}
