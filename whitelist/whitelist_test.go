package whitelist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JP-Makers/rs-dbc/can"
	"github.com/JP-Makers/rs-dbc/dbc"
)

const testDBC = `BO_ 100 EngineData: 8 ECU
 SG_ RPM : 7|16@0+ (0.25,0) [0|16000] "rpm" Vector__XXX
 SG_ Temp : 16|8@1- (1,0) [-128|127] "degC" Vector__XXX

BO_ 2566834709 Diag: 8 Vector__XXX
 SG_ Counter : 0|8@1+ (1,0) [0|255] "" Vector__XXX
 SG_ Status : 8|8@1+ (1,0) [0|255] "" Vector__XXX
`

// diagFrameID is Diag's id with the IDE marker cleared, as the gateway reports it.
const diagFrameID = 2566834709 & 0x1FFFFFFF

func newTestWhiteList(t *testing.T) *WhiteList {
	t.Helper()
	d, err := dbc.Parse(testDBC)
	require.NoError(t, err)
	return New(d, true)
}

func TestApply(t *testing.T) {
	w := newTestWhiteList(t)

	code := w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{"100": {"RPM"}, "7": {"A", "B"}}})
	require.Equal(t, OK, code)
	assert.True(t, w.QueryByCanId(100))
	assert.True(t, w.QueryByCanIdAndSignal(100, "RPM"))
	assert.False(t, w.QueryByCanIdAndSignal(100, "Temp"))
	assert.True(t, w.QueryByCanIdAndSignal(7, "B"))

	code = w.Apply(&WhiteListReq{Action: Do_Delete, CanList: map[string][]string{"7": {"A", "B"}}})
	require.Equal(t, OK, code)
	assert.False(t, w.QueryByCanId(7))

	code = w.Apply(&WhiteListReq{Action: Do_ResetWith, CanList: map[string][]string{"8": {"X"}}})
	require.Equal(t, OK, code)
	assert.False(t, w.QueryByCanId(100))
	assert.True(t, w.QueryByCanId(8))

	assert.Equal(t, InvalidAction, w.Apply(&WhiteListReq{Action: 42}))
}

func TestApplyAllSignals(t *testing.T) {
	w := newTestWhiteList(t)

	w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{"100": {"*"}}})
	assert.Equal(t, WhiteListMap{100: {"RPM": true, "Temp": true}}, w.Snapshot())

	// ids missing from the DBC cannot be expanded
	w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{"5": {"*"}}})
	assert.False(t, w.QueryByCanId(5))

	w.Apply(&WhiteListReq{Action: Do_Delete, CanList: map[string][]string{"100": {"*"}}})
	assert.Empty(t, w.Snapshot())
}

func TestApplyExtendedID(t *testing.T) {
	for _, key := range []string{"2566834709", "419360789"} {
		t.Run(key, func(t *testing.T) {
			w := newTestWhiteList(t)
			w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{key: {"*"}}})

			assert.Equal(t, WhiteListMap{diagFrameID: {"Counter": true, "Status": true}}, w.Snapshot())
			assert.True(t, w.QueryByCanId(diagFrameID))
			assert.True(t, w.QueryByCanId(2566834709))
			assert.True(t, w.QueryByCanIdAndSignal(diagFrameID, "Status"))

			decoded, other := can.NewDecoder(w.dbc, w).Decode([]can.PDU{
				{CanId: diagFrameID, Payload: []byte{7, 9, 0, 0, 0, 0, 0, 0}},
			})
			assert.Empty(t, other)
			require.Len(t, decoded, 1)
			assert.Equal(t, "Diag", decoded[0].CanName)
			require.Len(t, decoded[0].Signals, 2)
			assert.Equal(t, 9.0, decoded[0].Signals[1].Value)

			w.Apply(&WhiteListReq{Action: Do_Delete, CanList: map[string][]string{key: {"Counter"}}})
			assert.Equal(t, WhiteListMap{diagFrameID: {"Status": true}}, w.Snapshot())
		})
	}
}

func TestLoadNormalizesExtendedIDs(t *testing.T) {
	file := filepath.Join(t.TempDir(), "whitelist.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"2566834709":{"Counter":true},"419360789":{"Status":true}}`), 0o600))

	w := New(nil, true)
	require.NoError(t, w.Load(file))
	assert.Equal(t, WhiteListMap{diagFrameID: {"Counter": true, "Status": true}}, w.Snapshot())
}

func TestApplySkipsBadIds(t *testing.T) {
	w := newTestWhiteList(t)
	w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{"abc": {"RPM"}}})
	assert.Empty(t, w.Snapshot())
}

func TestEnableFlag(t *testing.T) {
	w := New(nil, false)
	assert.False(t, w.IsEnable())
	w.SetEnableFlag(true)
	assert.True(t, w.IsEnable())
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := newTestWhiteList(t)

	r := gin.New()
	r.Any("/whitelist", w.Handler())

	tests := []struct {
		name   string
		method string
		body   string
		status int
		code   uint
	}{
		{"ok", http.MethodPost, `{"taskId":1,"action":2,"canList":{"100":["RPM"]}}`, http.StatusOK, OK},
		{"bad json", http.MethodPost, `{`, http.StatusUnprocessableEntity, ParseJsonError},
		{"bad action", http.MethodPost, `{"action":9}`, http.StatusUnprocessableEntity, InvalidAction},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed, WrongHttpMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/whitelist", strings.NewReader(tt.body))
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, jsoniter.Get(rec.Body.Bytes(), "statusCode").ToUint())
			assert.Equal(t, WhiteListCode[tt.code], jsoniter.Get(rec.Body.Bytes(), "reason").ToString())
		})
	}

	assert.True(t, w.QueryByCanIdAndSignal(100, "RPM"))
}

func TestLoadSave(t *testing.T) {
	file := filepath.Join(t.TempDir(), "whitelist.json")

	w := newTestWhiteList(t)
	require.NoError(t, w.Load(file))
	assert.Empty(t, w.Snapshot())

	w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{"100": {"*"}}})
	require.NoError(t, w.Save(file))

	loaded := New(nil, true)
	require.NoError(t, loaded.Load(file))
	assert.Equal(t, w.Snapshot(), loaded.Snapshot())

	require.ErrorIs(t, loaded.Load(""), ErrEmptyFilename)
	require.ErrorIs(t, loaded.Save(""), ErrEmptyFilename)
}

func TestRunSaver(t *testing.T) {
	file := filepath.Join(t.TempDir(), "whitelist.json")
	w := newTestWhiteList(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.RunSaver(ctx, file) }()

	w.Apply(&WhiteListReq{Action: Do_Add, CanList: map[string][]string{"100": {"RPM"}}})

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(file)
		return err == nil && strings.Contains(string(data), "RPM")
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
