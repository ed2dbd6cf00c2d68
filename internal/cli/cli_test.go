package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-wifi/internal/api"
	"github.com/bbernstein/lacylights-wifi/internal/server"
	"github.com/bbernstein/lacylights-wifi/internal/services/pubsub"
	"github.com/bbernstein/lacylights-wifi/internal/services/testutil"
	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
)

// newDaemon serves the real HTTP API over a driver that is never started.
func newDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	cfg := wifi.DefaultConfig()
	cfg.CtrlDir = t.TempDir()
	driver := wifi.NewDriver(cfg, nil, nil, db.DriverNV)

	srv := server.New(driver, pubsub.New(), server.Options{Profiles: db.APProfile, Version: "test"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func executeCommand(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root := NewRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--server", serverURL}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestStatusCommand(t *testing.T) {
	ts := newDaemon(t)

	out, err := executeCommand(t, ts.URL, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:")
	assert.Contains(t, out, "NOT_STARTED")

	out, err = executeCommand(t, ts.URL, "status", "-o", "json")
	require.NoError(t, err)
	var st api.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "NOT_STARTED", st.State)
	assert.Equal(t, "none", st.Kind)

	out, err = executeCommand(t, ts.URL, "status", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "state: NOT_STARTED")
}

func TestTxPowerCommand(t *testing.T) {
	ts := newDaemon(t)

	out, err := executeCommand(t, ts.URL, "txpower", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "DBm:")
	assert.Contains(t, out, "20")

	_, err = executeCommand(t, ts.URL, "txpower", "99")
	assert.ErrorContains(t, err, "PARAM_FAILED")

	_, err = executeCommand(t, ts.URL, "txpower", "loud")
	assert.ErrorContains(t, err, "invalid dbm")

	// reading needs a running supplicant
	_, err = executeCommand(t, ts.URL, "txpower")
	assert.ErrorContains(t, err, "NOT_STARTED")
}

func TestCountryCommand(t *testing.T) {
	ts := newDaemon(t)

	out, err := executeCommand(t, ts.URL, "country", "US", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"code": "US"`)

	_, err = executeCommand(t, ts.URL, "country", "usa")
	assert.ErrorContains(t, err, "PARAM_FAILED")
}

func TestDriverErrorsSurface(t *testing.T) {
	ts := newDaemon(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"join", "stage", "--passphrase", "secret123"}, "NOT_STARTED"},
		{[]string{"leave"}, "NOT_STARTED"},
		{[]string{"scan"}, "NOT_STARTED"},
		{[]string{"results"}, "NOT_STARTED"},
		{[]string{"rssi"}, "NOT_STARTED"},
		{[]string{"save"}, "NOT_SUPPORTED"},
		{[]string{"start", "ap"}, "PARAM_FAILED"},
		{[]string{"start", "mesh"}, "PARAM_FAILED"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := executeCommand(t, ts.URL, tt.args...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestStopCommand_WhenStopped(t *testing.T) {
	ts := newDaemon(t)

	out, err := executeCommand(t, ts.URL, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "NOT_STARTED")
}

func TestInterfacesCommand(t *testing.T) {
	ts := newDaemon(t)

	_, err := executeCommand(t, ts.URL, "interfaces", "--all", "-o", "json")
	require.NoError(t, err)
}

func TestStartCommand_ProfileChecks(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ap.yaml")
	require.NoError(t, os.WriteFile(good, []byte("ssid: stage-ap\nchannel: 6\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("channel: 6\n"), 0o600))

	_, err := executeCommand(t, "http://127.0.0.1:1", "start", "station", "--profile", good)
	assert.ErrorContains(t, err, "only applies to ap")

	_, err = executeCommand(t, "http://127.0.0.1:1", "start", "ap", "--profile", bad)
	assert.ErrorContains(t, err, "invalid AP profile")

	_, err = executeCommand(t, "http://127.0.0.1:1", "start", "ap", "--profile", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestStartCommand_SendsProfile(t *testing.T) {
	var got api.StartRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.Status{State: "AP_ENABLED", Kind: "ap"})
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "ap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ssid: stage-ap\nchannel: 6\nsecurity: wpa2_ccmp\npassphrase: lights-on\n"), 0o600))

	out, err := executeCommand(t, ts.URL, "start", "ap", "--profile", path)
	require.NoError(t, err)
	assert.Contains(t, out, "AP_ENABLED")
	assert.Equal(t, "ap", got.Kind)
	require.NotNil(t, got.AP)
	assert.Equal(t, "stage-ap", got.AP.SSID)
	assert.Equal(t, "lights-on", got.AP.Passphrase)
}

func TestResultsCommand_Table(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/scan/results", r.URL.Path)
		_ = json.NewEncoder(w).Encode(api.ScanResults{Results: []api.ScanResult{
			{BSSID: "02:00:00:00:00:01", SSID: "stage", Channel: 6, RSSI: -48, Security: []string{"wpa2_ccmp"}},
			{BSSID: "02:00:00:00:00:02", SSID: "", Channel: 11, RSSI: -80, Security: []string{}},
		}})
	}))
	defer ts.Close()

	out, err := executeCommand(t, ts.URL, "results")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "BSSID")
	assert.Contains(t, lines[0], "SECURITY")
	assert.Contains(t, lines[1], "stage")
	assert.Contains(t, lines[1], "wpa2_ccmp")
	assert.NotContains(t, lines[0], "VENDORIES", "table output uses the narrow row")

	out, err = executeCommand(t, ts.URL, "results", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "ssid: stage")
}

func TestEventsCommand(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "LINK_UP,LINK_DOWN", r.URL.Query().Get("topics"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		now := time.Now().UTC()
		_ = conn.WriteJSON(api.Event{Topic: "LINK_UP", SSID: "stage", Time: now})
		_ = conn.WriteJSON(api.Event{Topic: "LINK_DOWN", Code: 3, Time: now})
		// hold the socket open; the client leaves after --count events
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	out, err := executeCommand(t, ts.URL, "events", "--topics", "LINK_UP,LINK_DOWN", "--count", "2", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"topic": "LINK_UP"`)
	assert.Contains(t, out, `"topic": "LINK_DOWN"`)
}

func TestPanicCommand_RequiresConfirmation(t *testing.T) {
	_, err := executeCommand(t, "http://127.0.0.1:1", "panic")
	assert.ErrorContains(t, err, "--yes")
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := executeCommand(t, "http://127.0.0.1:1", "status", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestAPIError(t *testing.T) {
	e := &APIError{Code: 409, Status: "NOT_STARTED", Message: "wifi: NOT_STARTED"}
	assert.Equal(t, "wifi: NOT_STARTED (NOT_STARTED)", e.Error())

	e = &APIError{Code: 502, Message: "bad gateway"}
	assert.Equal(t, "HTTP 502: bad gateway", e.Error())
}

func TestFormatters(t *testing.T) {
	type row struct {
		Name  string
		Count int
	}

	assert.Equal(t, "Nothing found.\n", NewFormatter("table").Format([]row{}))

	table := NewFormatter("table").Format([]row{{"a", 1}, {"", 2}})
	assert.Contains(t, table, "NAME")
	assert.Contains(t, table, "-")

	assert.Equal(t, "{\n  \"Name\": \"a\",\n  \"Count\": 1\n}\n", NewFormatter("json").Format(row{"a", 1}))
	assert.Equal(t, "name: a\ncount: 1\n", NewFormatter("YAML").Format(row{"a", 1}))
}
