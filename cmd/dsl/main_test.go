package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

const testSpec = `
strategy_id: momentum-1
asset: eth
direction: long
leverage: 10
entry_price: 2000
size: 1.5
phase1:
  retrace_threshold: 0.03
phase2:
  retrace_threshold: 0.015
tiers:
  - trigger_pct: 10
    lock_pct: 5
`

// newWorkspace writes a config pointing at a fake ticker endpoint.
func newWorkspace(t *testing.T, lastPrice string) (dir, configPath string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"ETHUSDT","lastPrice":"`+lastPrice+`"}]}}`)
	}))
	t.Cleanup(srv.Close)

	dir = t.TempDir()
	configPath = writeFile(t, dir, "config.yaml", `
exchanges:
  - name: bybit
    rest_endpoint: `+srv.URL+`
storage:
  state_dir: `+filepath.Join(dir, "state")+`
  journal_path: `+filepath.Join(dir, "dsl.db")+`
logging:
  level: error
`)
	return dir, configPath
}

func decodeResult(t *testing.T, out *bytes.Buffer) domain.CycleResult {
	t.Helper()
	var res domain.CycleResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res
}

func TestCmd_InitRunDeactivate(t *testing.T) {
	dir, configPath := newWorkspace(t, "2010")
	specPath := writeFile(t, dir, "position.yaml", testSpec)

	var out bytes.Buffer
	require.NoError(t, cmdInit([]string{"-config", configPath, "-f", specPath}, &out))
	assert.Contains(t, out.String(), `"strategy_id": "momentum-1"`)

	out.Reset()
	require.NoError(t, cmdRun([]string{"-config", configPath, "-strategy", "momentum-1", "-asset", "ETH"}, &out))
	res := decodeResult(t, &out)
	assert.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, 2010.0, res.Price)
	assert.InDelta(t, 5.0, res.ROEPct, 1e-9)
	assert.Equal(t, domain.StateActivePhase1, res.State)
	assert.NotEmpty(t, res.RunID)

	// the same record addressed by its file
	out.Reset()
	statePath := filepath.Join(dir, "state", "momentum-1__ETH.json")
	require.NoError(t, cmdRun([]string{"-config", configPath, "-state", statePath}, &out))
	res = decodeResult(t, &out)
	assert.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, "momentum-1", res.StrategyID)

	out.Reset()
	require.NoError(t, cmdDeactivate([]string{"-config", configPath, "-strategy", "momentum-1", "-asset", "ETH", "-reason", "test"}, &out))
	assert.Contains(t, out.String(), `"active": false`)

	out.Reset()
	require.NoError(t, cmdRun([]string{"-config", configPath, "-strategy", "momentum-1", "-asset", "ETH"}, &out))
	res = decodeResult(t, &out)
	assert.Equal(t, domain.StateDeactivated, res.State)
	assert.False(t, res.Active)
}

func TestCmdRun_MissingRecord(t *testing.T) {
	_, configPath := newWorkspace(t, "2010")

	var out bytes.Buffer
	require.NoError(t, cmdRun([]string{"-config", configPath, "-strategy", "nope", "-asset", "BTC"}, &out))

	res := decodeResult(t, &out)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.ErrorKindConfig, res.ErrorKind)
}

func TestCmdRun_BadConfigStillPrintsResult(t *testing.T) {
	var out bytes.Buffer
	err := cmdRun([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml"), "-strategy", "s", "-asset", "ETH"}, &out)
	require.NoError(t, err)

	res := decodeResult(t, &out)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.ErrorKindConfig, res.ErrorKind)
	assert.Equal(t, -1, res.CurrentTierIndex)
}

func TestCmdRun_StateFileNameMismatch(t *testing.T) {
	dir, configPath := newWorkspace(t, "2010")
	specPath := writeFile(t, dir, "position.yaml", testSpec)
	require.NoError(t, cmdInit([]string{"-config", configPath, "-f", specPath}, io.Discard))

	// a copy under a name that does not match its identity
	raw := readFile(t, filepath.Join(dir, "state", "momentum-1__ETH.json"))
	renamed := writeFile(t, dir, "copy.json", raw)

	var out bytes.Buffer
	require.NoError(t, cmdRun([]string{"-config", configPath, "-state", renamed}, &out))

	res := decodeResult(t, &out)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.ErrorKindConfig, res.ErrorKind)
	assert.Equal(t, "momentum-1", res.StrategyID)
}

func TestCmdRun_NeedsTarget(t *testing.T) {
	err := cmdRun([]string{"-asset", "ETH"}, io.Discard)

	assert.Error(t, err)
}
