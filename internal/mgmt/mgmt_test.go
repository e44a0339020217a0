package mgmt

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-net/vswitchd-core/internal/config"
	"github.com/ssw-net/vswitchd-core/internal/datapath"
	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/driver"
	"github.com/ssw-net/vswitchd-core/pkg/ratelimit"
)

func testServer() *Server {
	cfg := config.DatapathConfig{
		MaxRecircDepth:      5,
		EMCShift:            8,
		EMCSegs:             2,
		FlowTableCapacity:   64,
		WorkersPerNuma:      1,
		MaintenanceInterval: 1024,
	}
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	counts := func(int) actions.Counters { return nil }
	dp := datapath.New(cfg, driver.NewFakeDriver(), counts, ratelimit.New(ratelimit.Config{}), logger)
	return NewServer(":0", dp, logger)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAddPortAndListPorts(t *testing.T) {
	s := testServer()

	rec := doRequest(t, s, http.MethodPost, "/ports", addPortRequest{
		Name: "eth0", DevType: "fake", NumaID: 0, PollMode: true, RxQueues: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/ports", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ports []portDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ports))
	require.Len(t, ports, 1)
	assert.Equal(t, "eth0", ports[0].Name)
}

func TestDelPortUnknownReturnsNotFound(t *testing.T) {
	s := testServer()
	rec := doRequest(t, s, http.MethodDelete, "/ports/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddFlowGetDeleteRoundtrip(t *testing.T) {
	s := testServer()

	rec := doRequest(t, s, http.MethodPost, "/ports", addPortRequest{
		Name: "eth0", DevType: "fake", NumaID: 0, PollMode: true, RxQueues: 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/flows", flowDTO{
		Actions: []actionDTO{{Kind: "output", Port: 1}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	ufid := created["ufid"]
	require.NotEmpty(t, ufid)

	rec = doRequest(t, s, http.MethodGet, "/flows/"+ufid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got flowDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "output", got.Actions[0].Kind)

	rec = doRequest(t, s, http.MethodDelete, "/flows/"+ufid, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/flows/"+ufid, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddFlowRejectsConntrack(t *testing.T) {
	s := testServer()
	doRequest(t, s, http.MethodPost, "/ports", addPortRequest{
		Name: "eth0", DevType: "fake", NumaID: 0, PollMode: true, RxQueues: 1,
	})

	rec := doRequest(t, s, http.MethodPost, "/flows", flowDTO{
		Actions: []actionDTO{{Kind: "conntrack"}},
	})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSetCoreMaskInvalidMask(t *testing.T) {
	s := testServer()
	rec := doRequest(t, s, http.MethodPost, "/core-mask", coreMaskRequest{Mask: "not-hex"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerStatsUnknownWorker(t *testing.T) {
	s := testServer()
	rec := doRequest(t, s, http.MethodGet, "/workers/42/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshotFlowsReturnsCompressedBody(t *testing.T) {
	s := testServer()
	doRequest(t, s, http.MethodPost, "/ports", addPortRequest{
		Name: "eth0", DevType: "fake", NumaID: 0, PollMode: true, RxQueues: 1,
	})
	doRequest(t, s, http.MethodPost, "/flows", flowDTO{
		Actions: []actionDTO{{Kind: "output", Port: 1}},
	})

	rec := doRequest(t, s, http.MethodGet, "/flows/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "zstd", rec.Header().Get("Content-Encoding"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestListWorkersAfterAddPort(t *testing.T) {
	s := testServer()
	doRequest(t, s, http.MethodPost, "/ports", addPortRequest{
		Name: "eth0", DevType: "fake", NumaID: 0, PollMode: true, RxQueues: 1,
	})

	rec := doRequest(t, s, http.MethodGet, "/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ids []int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Len(t, ids, 1)
}
