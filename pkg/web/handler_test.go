package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"t7stream/pkg/apis/response"
	"t7stream/pkg/calibration"
	"t7stream/pkg/device"
	"t7stream/pkg/generic"
	"t7stream/pkg/storage"
	"t7stream/pkg/stream"
)

func newTestServer(t *testing.T, monitor *stream.Monitor) *Server {
	s, err := NewServer(generic.Default(), &Config{
		Port:    "0",
		Monitor: monitor,
		Info: &Info{
			Address:           "192.168.1.207",
			Stream:            &device.StreamConfig{ScanRateHz: 1000, NumAddresses: 2, ScanList: []uint32{0, 2}},
			Channels:          []device.Channel{{AIN: 0, NegativeChannel: 199, Range: 10}, {AIN: 1, NegativeChannel: 199, Range: 10}},
			Calibration:       calibration.Nominal(),
			CalibrationSource: "nominal",
		},
	})
	require.NoError(t, err)
	return s
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Router.ServeHTTP(w, req)
	return w
}

// errorCodes decodes an error body into its codes.
func errorCodes(t *testing.T, w *httptest.ResponseRecorder) []response.ErrCode {
	body := &response.MultiError{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), body))
	var codes []response.ErrCode
	for _, err := range body.Errors() {
		coded, ok := err.(interface{ GetCode() response.ErrCode })
		require.True(t, ok, "error %v has no code", err)
		codes = append(codes, coded.GetCode())
	}
	return codes
}

func TestGetSession(t *testing.T) {
	monitor := stream.NewMonitor("abc", []uint32{0, 2})
	s := newTestServer(t, monitor)

	w := get(s, "/api/v1/session")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, []response.ErrCode{response.ErrCodeSessionNotStarted}, errorCodes(t, w))

	monitor.Start(time.Now())
	monitor.Observe(&stream.Result{
		Status: stream.StatusAutoRecoverEnd,
		Scans:  [][]float64{{1, 2}, {3, 4}},
		State:  stream.State{ScanTotal: 2, ScansSkipped: 5, BacklogScans: 3},
	})

	w = get(s, "/api/v1/session")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "abc", body["sessionId"])
	assert.Equal(t, "192.168.1.207", body["address"])
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "AutoRecoverEnd", body["statusName"])
	assert.Equal(t, 5.0, body["scansSkipped"])
	assert.Len(t, body["channels"], 2)
	assert.Len(t, body["inputs"], 2)
}

func TestGetChannel(t *testing.T) {
	monitor := stream.NewMonitor("abc", []uint32{0, 2})
	s := newTestServer(t, monitor)
	monitor.Observe(&stream.Result{Scans: [][]float64{{1, 2}, {3, 4}}})

	w := get(s, "/api/v1/session/channels/1")
	require.Equal(t, http.StatusOK, w.Code)
	var st stream.ChannelStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, uint32(2), st.Address)
	assert.Equal(t, 3.0, st.Mean)

	assert.Equal(t, http.StatusNotFound, get(s, "/api/v1/session/channels/7").Code)
	assert.Equal(t, http.StatusBadRequest, get(s, "/api/v1/session/channels/x").Code)
}

func TestGetCalibration(t *testing.T) {
	s := newTestServer(t, stream.NewMonitor("abc", nil))
	w := get(s, "/api/v1/calibration")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"source":"nominal"`)
	assert.Contains(t, w.Body.String(), `"center":33523`)
}

func TestScansWithoutHub(t *testing.T) {
	s := newTestServer(t, stream.NewMonitor("abc", nil))
	w := get(s, "/api/v1/scans")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []response.ErrCode{response.ErrCodeStreamUnavailable}, errorCodes(t, w))
}

func TestNewServerNeedsMonitor(t *testing.T) {
	_, err := NewServer(generic.Default(), &Config{})
	assert.Error(t, err)
}

func TestArchivedSessions(t *testing.T) {
	s := newTestServer(t, stream.NewMonitor("abc", nil))
	assert.Equal(t, http.StatusNotFound, get(s, "/api/v1/sessions").Code)
	assert.Equal(t, []response.ErrCode{response.ErrCodeArchiveUnavailable}, errorCodes(t, get(s, "/api/v1/sessions/abc")))

	archive, err := generic.NewStore(t.TempDir(), storage.StoreGroupSession)
	require.NoError(t, err)
	s.Archive = archive
	require.NoError(t, archive.Save("abc", &Record{
		Info:    s.Info,
		Session: stream.Snapshot{SessionID: "abc", ScanTotal: 10},
		Report:  &stream.Report{Elapsed: time.Second, TimedScanRate: 10},
	}))

	w := get(s, "/api/v1/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":["abc"]}`, w.Body.String())

	w = get(s, "/api/v1/sessions/abc")
	require.Equal(t, http.StatusOK, w.Code)
	record := &Record{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), record))
	assert.Equal(t, "192.168.1.207", record.Address)
	assert.Equal(t, 10.0, record.Session.ScanTotal)
	assert.Equal(t, 10.0, record.Report.TimedScanRate)

	w = get(s, "/api/v1/sessions/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, []response.ErrCode{response.ErrCodeSessionNotFound}, errorCodes(t, w))
}

func TestOnlyGetIsAllowed(t *testing.T) {
	s := newTestServer(t, stream.NewMonitor("abc", nil))
	for _, method := range []string{http.MethodPost, http.MethodDelete} {
		w := httptest.NewRecorder()
		s.Router.ServeHTTP(w, httptest.NewRequest(method, "/api/v1/session", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assert.Equal(t, http.MethodGet, w.Header().Get("Allow"))
	}
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/api/v1/session").Code)
}
