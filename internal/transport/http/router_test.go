package httptransport

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"liquidity/internal/platform/metrics"
	"liquidity/internal/zone/journal"
	"liquidity/internal/zone/monitor"
	"liquidity/internal/zone/sharding"
	"liquidity/internal/zone/status"
	"liquidity/internal/zone/validator"
)

type gatewayFixture struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	der    []byte
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	eventJournal := journal.NewInMemoryJournal()
	router := sharding.NewRouter(validator.Config{},
		eventJournal, journal.NewInMemorySnapshotStore(), status.NopPublisher{}, logger, m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = router.StopAll(ctx)
	})

	zoneMonitor := monitor.New(logger, nil)
	handler := NewHandler(logger, router, zoneMonitor, eventJournal, func() error { return nil }, "test", "admin-token")
	server := httptest.NewServer(NewRouter(handler, registry))
	t.Cleanup(server.Close)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return &gatewayFixture{server: server, key: key, der: der}
}

func (f *gatewayFixture) token(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": base64.StdEncoding.EncodeToString(f.der),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func (f *gatewayFixture) put(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, f.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token(t))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) commandResponseBody {
	t.Helper()
	defer resp.Body.Close()
	var body commandResponseBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestCreateZoneOverHTTP(t *testing.T) {
	f := newGatewayFixture(t)

	resp := f.put(t, "/zone", map[string]any{
		"type":                    "CreateZone",
		"equity_owner_public_key": f.der,
		"name":                    "test zone",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, "ZoneCreated", body.Type)
	require.NotNil(t, body.Zone)
	require.NotEmpty(t, body.Zone.ID)
	require.Equal(t, "0", body.Zone.EquityAccountID)
	require.Len(t, body.Zone.Members, 1)
	require.Len(t, body.Zone.Accounts, 1)
}

func TestCommandAgainstExistingZone(t *testing.T) {
	f := newGatewayFixture(t)

	created := decodeBody(t, f.put(t, "/zone", map[string]any{
		"type":                    "CreateZone",
		"equity_owner_public_key": f.der,
	}))
	zoneID := created.Zone.ID

	resp := f.put(t, "/zone/"+zoneID, map[string]any{
		"type": "CreateMember",
		"owner_public_keys": [][]byte{f.der},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "MemberCreated", body.Type)
	require.Equal(t, "1", body.Member.ID)
}

func TestValidationFailureMapsToBadRequest(t *testing.T) {
	f := newGatewayFixture(t)

	resp := f.put(t, "/zone", map[string]any{
		"type":                    "CreateZone",
		"equity_owner_public_key": []byte("garbage"),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	require.Equal(t, "CommandFailure", body.Type)
	require.Len(t, body.Errors, 1)
	require.Equal(t, "InvalidPublicKey", body.Errors[0].Code)
}

func TestCreateZoneWithChosenIDIsRejected(t *testing.T) {
	f := newGatewayFixture(t)

	// Zone ids are minted by the gateway; a caller must not pick its own.
	resp := f.put(t, "/zone/my-own-id", map[string]any{
		"type":                    "CreateZone",
		"equity_owner_public_key": f.der,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "invalid", body["error"])
}

func TestJoinOverHTTPIsRejected(t *testing.T) {
	f := newGatewayFixture(t)
	resp := f.put(t, "/zone/some-zone", map[string]any{"type": "JoinZone"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUnauthenticatedRequestIsRejected(t *testing.T) {
	f := newGatewayFixture(t)
	req, err := http.NewRequest(http.MethodPut, f.server.URL+"/zone", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpsEndpoints(t *testing.T) {
	f := newGatewayFixture(t)

	for _, path := range []string{"/alive", "/ready", "/version", "/metrics"} {
		resp, err := f.server.Client().Get(f.server.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func TestDiagnosticsRequireAdminToken(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/diagnostics/zones")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/diagnostics/zones", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", "admin-token")
	resp, err = f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestZoneEventsDiagnostics(t *testing.T) {
	f := newGatewayFixture(t)
	created := decodeBody(t, f.put(t, "/zone", map[string]any{
		"type":                    "CreateZone",
		"equity_owner_public_key": f.der,
	}))

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/diagnostics/events/"+created.Zone.ID, nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", "admin-token")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []eventRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	require.Equal(t, int64(1), records[0].SequenceNr)
	require.Equal(t, "ZoneCreatedEvent", records[0].Event)

	// The decoded event body is rendered, not just its kind.
	payload, ok := records[0].Payload.(map[string]any)
	require.True(t, ok, "payload must be a JSON object, got %T", records[0].Payload)
	zone, ok := payload["Zone"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, created.Zone.ID, zone["ID"])
}
