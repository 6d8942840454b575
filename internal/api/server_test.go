package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ironvale/fleetcore/internal/audit"
	"github.com/ironvale/fleetcore/internal/auth"
	"github.com/ironvale/fleetcore/internal/command"
	"github.com/ironvale/fleetcore/internal/device"
	"github.com/ironvale/fleetcore/internal/events"
	"github.com/ironvale/fleetcore/internal/infrastructure/config"
	"github.com/ironvale/fleetcore/internal/infrastructure/logging"
	"github.com/ironvale/fleetcore/internal/infrastructure/mqtt"
	"github.com/ironvale/fleetcore/internal/provisioning"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// setupTestDB creates an in-memory SQLite database with the fleet schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// A second pool connection would see its own empty in-memory database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE registrations (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL UNIQUE,
			mac_address TEXT NOT NULL UNIQUE,
			secret_hash TEXT NOT NULL,
			model TEXT NOT NULL,
			manufacturer TEXT NOT NULL DEFAULT '',
			firmware_version TEXT,
			status TEXT NOT NULL DEFAULT 'registered'
				CHECK (status IN ('registered', 'provisioned', 'paired', 'offline')),
			provisioned INTEGER NOT NULL DEFAULT 0,
			paired INTEGER NOT NULL DEFAULT 0,
			provisioning_token TEXT,
			user_id TEXT,
			location_id TEXT,
			batch_id TEXT,
			created_at TEXT NOT NULL,
			provisioned_at TEXT,
			paired_at TEXT,
			last_seen_at TEXT
		) STRICT;
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			is_online INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_seen TEXT,
			firmware_version TEXT,
			config TEXT NOT NULL DEFAULT '{}',
			user_id TEXT,
			device_type TEXT,
			location_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE device_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state_key TEXT NOT NULL,
			state_value TEXT NOT NULL,
			state_type TEXT NOT NULL
				CHECK (state_type IN ('boolean', 'number', 'string', 'json')),
			created_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE provisioning_batches (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			firmware_version TEXT,
			total_devices INTEGER NOT NULL DEFAULT 0,
			provisioned_devices INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
			created_by TEXT NOT NULL,
			installer_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			CHECK (provisioned_devices <= total_devices)
		) STRICT;
		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			user_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// fakePublisher captures published MQTT messages.
type fakePublisher struct {
	topics   []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

// testEnv wires a full server against an in-memory database. Handlers are
// exercised through the real router so middleware and role checks apply.
type testEnv struct {
	handler   http.Handler
	workflow  *provisioning.Workflow
	devices   *device.SQLiteRepository
	ledger    *device.SQLiteStateLedger
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	logger := logging.Default()

	devRepo := device.NewSQLiteRepository(db)
	store := device.NewStore(devRepo, 8)
	ledger := device.NewSQLiteStateLedger(db)
	auditRepo := audit.NewSQLiteRepository(db)

	workflow, err := provisioning.NewWorkflow(
		provisioning.NewSQLiteRepository(db, devRepo), auditRepo, logger)
	if err != nil {
		t.Fatalf("NewWorkflow() error = %v", err)
	}

	publisher := &fakePublisher{}
	dispatcher := command.NewDispatcher(
		publisher, mqtt.Topics{Namespace: "fleet"}, auditRepo, logger, 1)

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1"},
		Security:   config.SecurityConfig{JWT: config.JWTConfig{Secret: testJWTSecret}},
		Logger:     logger,
		Store:      store,
		Ledger:     ledger,
		Workflow:   workflow,
		Dispatcher: dispatcher,
		AuditRepo:  auditRepo,
		Events:     events.NewHub(16),
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.hub = NewWSHub(srv.events, logger)

	return &testEnv{
		handler:   srv.buildRouter(),
		workflow:  workflow,
		devices:   devRepo,
		ledger:    ledger,
		publisher: publisher,
	}
}

// token mints a JWT for the given role.
func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("user-1", role, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

// doRequest performs a request against the router and returns the recorder.
func (e *testEnv) doRequest(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a JSON response body into v.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doRequest(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("health body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/devices", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/devices", "not-a-jwt", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/devices", token(t, auth.RoleOperator), nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		method string
		path   string
		role   auth.Role
		body   any
		want   int
	}{
		{"operator cannot register", http.MethodPost, "/api/v1/registrations", auth.RoleOperator,
			provisioning.DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:01", Model: "FC-100"}, http.StatusForbidden},
		{"installer cannot register", http.MethodPost, "/api/v1/registrations", auth.RoleInstaller,
			provisioning.DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:01", Model: "FC-100"}, http.StatusForbidden},
		{"admin can register", http.MethodPost, "/api/v1/registrations", auth.RoleAdmin,
			provisioning.DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:01", Model: "FC-100"}, http.StatusCreated},
		{"installer cannot read audit", http.MethodGet, "/api/v1/audit", auth.RoleInstaller,
			nil, http.StatusForbidden},
		{"admin can read audit", http.MethodGet, "/api/v1/audit", auth.RoleAdmin,
			nil, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.doRequest(t, tc.method, tc.path, token(t, tc.role), tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestProvisioningLifecycle(t *testing.T) {
	env := newTestEnv(t)
	adminTok := token(t, auth.RoleAdmin)
	installerTok := token(t, auth.RoleInstaller)

	// Register
	rec := env.doRequest(t, http.MethodPost, "/api/v1/registrations", adminTok,
		provisioning.DeviceInfo{MACAddress: "AA:BB:CC:DD:EE:10", Model: "FC-200"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var registered struct {
		Registration struct {
			ID       string `json:"id"`
			DeviceID string `json:"device_id"`
			MAC      string `json:"mac_address"`
		} `json:"registration"`
		Secret string `json:"secret"`
	}
	decodeBody(t, rec, &registered)
	if registered.Secret == "" {
		t.Fatal("register returned empty secret")
	}
	if registered.Registration.MAC != "aa:bb:cc:dd:ee:10" {
		t.Errorf("mac = %q, want lowercased", registered.Registration.MAC)
	}

	// Duplicate MAC conflicts
	rec = env.doRequest(t, http.MethodPost, "/api/v1/registrations", adminTok,
		provisioning.DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:10", Model: "FC-200"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want %d", rec.Code, http.StatusConflict)
	}

	// Issue provisioning token
	rec = env.doRequest(t, http.MethodPost,
		"/api/v1/registrations/"+registered.Registration.ID+"/token", installerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue token status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var grant struct {
		Token  string `json:"token"`
		QRCode struct {
			DeviceID string `json:"device_id"`
		} `json:"qr_code"`
	}
	decodeBody(t, rec, &grant)
	if grant.Token == "" || grant.QRCode.DeviceID != registered.Registration.DeviceID {
		t.Errorf("grant = %+v", grant)
	}

	// Wrong secret is unauthorised
	rec = env.doRequest(t, http.MethodPost, "/api/v1/pair", installerTok,
		pairRequest{DeviceID: registered.Registration.DeviceID, Secret: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong-secret pair status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// Correct secret pairs and creates the device
	rec = env.doRequest(t, http.MethodPost, "/api/v1/pair", installerTok,
		pairRequest{DeviceID: registered.Registration.DeviceID, Secret: registered.Secret})
	if rec.Code != http.StatusOK {
		t.Fatalf("pair status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var paired device.Device
	decodeBody(t, rec, &paired)
	if paired.ID != registered.Registration.DeviceID {
		t.Errorf("paired device ID = %q, want %q", paired.ID, registered.Registration.DeviceID)
	}
	if paired.IsOnline {
		t.Error("paired device should start offline")
	}

	// Second pairing attempt conflicts
	rec = env.doRequest(t, http.MethodPost, "/api/v1/pair", installerTok,
		pairRequest{DeviceID: registered.Registration.DeviceID, Secret: registered.Secret})
	if rec.Code != http.StatusConflict {
		t.Errorf("repeat pair status = %d, want %d", rec.Code, http.StatusConflict)
	}

	// Registration readable by ID
	rec = env.doRequest(t, http.MethodGet,
		"/api/v1/registrations/"+registered.Registration.ID, installerTok, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get registration status = %d", rec.Code)
	}
}

func TestDeviceStateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	operatorTok := token(t, auth.RoleOperator)

	if err := env.devices.Create(ctx, &device.Device{ID: "dev-1", IsActive: true}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	observations := []device.Observation{
		{Key: "power", Value: "true", Type: device.TypeBoolean},
		{Key: "brightness", Value: "80", Type: device.TypeNumber},
		{Key: "label", Value: "kitchen", Type: device.TypeString},
	}
	if err := env.ledger.AppendBurst(ctx, "dev-1", observations, time.Now()); err != nil {
		t.Fatalf("AppendBurst() error = %v", err)
	}

	t.Run("current state", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/devices/dev-1/state", operatorTok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}

		var body struct {
			States []device.DeviceState `json:"states"`
			Count  int                  `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 3 {
			t.Fatalf("count = %d, want 3", body.Count)
		}
		// Ordered by key: brightness, label, power.
		if body.States[0].Key != "brightness" || body.States[2].Value != "true" {
			t.Errorf("states = %+v", body.States)
		}
	})

	t.Run("history honours key filter and limit", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet,
			"/api/v1/devices/dev-1/state/history?key=power&limit=10", operatorTok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}

		var body struct {
			History []device.DeviceState `json:"history"`
		}
		decodeBody(t, rec, &body)
		if len(body.History) != 1 || body.History[0].Key != "power" {
			t.Errorf("history = %+v", body.History)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/devices/ghost/state", operatorTok, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("list includes device", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/devices", operatorTok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 1 {
			t.Errorf("count = %d, want 1", body.Count)
		}
	})
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	operatorTok := token(t, auth.RoleOperator)

	if err := env.devices.Create(ctx, &device.Device{ID: "dev-cmd", IsActive: true}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("dispatches to command topic", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodPost, "/api/v1/devices/dev-cmd/command", operatorTok,
			commandRequest{Command: "reboot", Parameters: map[string]any{"delay": 5}})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
		}

		if len(env.publisher.topics) != 1 {
			t.Fatalf("published %d messages, want 1", len(env.publisher.topics))
		}
		if got, want := env.publisher.topics[0], "fleet/devices/dev-cmd/command"; got != want {
			t.Errorf("topic = %q, want %q", got, want)
		}

		var envelope command.Envelope
		if err := json.Unmarshal(env.publisher.payloads[0], &envelope); err != nil {
			t.Fatalf("decoding envelope: %v", err)
		}
		if envelope.Command != "reboot" {
			t.Errorf("command = %q, want reboot", envelope.Command)
		}
	})

	t.Run("missing command name", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodPost, "/api/v1/devices/dev-cmd/command", operatorTok,
			commandRequest{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodPost, "/api/v1/devices/ghost/command", operatorTok,
			commandRequest{Command: "reboot"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestBatchEndpoints(t *testing.T) {
	env := newTestEnv(t)
	adminTok := token(t, auth.RoleAdmin)

	devices := make([]provisioning.DeviceInfo, 3)
	for i := range devices {
		devices[i] = provisioning.DeviceInfo{
			MACAddress: fmt.Sprintf("aa:bb:cc:dd:00:%02d", i),
			Model:      "FC-300",
		}
	}

	rec := env.doRequest(t, http.MethodPost, "/api/v1/batches", adminTok,
		createBatchRequest{Model: "FC-300", FirmwareVersion: "1.0.0", Devices: devices})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create batch status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var created createBatchResponse
	decodeBody(t, rec, &created)
	if created.Batch.TotalDevices != 3 {
		t.Errorf("total devices = %d, want 3", created.Batch.TotalDevices)
	}
	if created.Batch.Status != provisioning.BatchPending {
		t.Errorf("status = %q, want %q", created.Batch.Status, provisioning.BatchPending)
	}
	if len(created.Members) != 3 {
		t.Errorf("members = %d, want 3", len(created.Members))
	}

	t.Run("get batch", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/batches/"+created.Batch.ID, adminTok, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("unknown batch", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/batches/nope", adminTok, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("list batches", func(t *testing.T) {
		rec := env.doRequest(t, http.MethodGet, "/api/v1/batches", adminTok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}

		var body struct {
			Count int `json:"count"`
		}
		decodeBody(t, rec, &body)
		if body.Count != 1 {
			t.Errorf("count = %d, want 1", body.Count)
		}
	})
}

func TestListAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	adminTok := token(t, auth.RoleAdmin)

	rec := env.doRequest(t, http.MethodPost, "/api/v1/registrations", adminTok,
		provisioning.DeviceInfo{MACAddress: "aa:bb:cc:dd:ee:99", Model: "FC-100"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	rec = env.doRequest(t, http.MethodGet, "/api/v1/audit?action=registered", adminTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d (body %s)", rec.Code, rec.Body.String())
	}

	var result audit.ListResult
	decodeBody(t, rec, &result)
	if result.Total != 1 {
		t.Errorf("total = %d, want 1", result.Total)
	}
	if len(result.Logs) != 1 || result.Logs[0].Action != audit.ActionRegistered {
		t.Errorf("logs = %+v", result.Logs)
	}
}
