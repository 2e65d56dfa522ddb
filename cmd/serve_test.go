package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JP-Makers/rs-dbc/base"
	"github.com/JP-Makers/rs-dbc/can"
	"github.com/JP-Makers/rs-dbc/dbc"
	"github.com/JP-Makers/rs-dbc/rwmap"
	"github.com/JP-Makers/rs-dbc/whitelist"
)

func loadTestDBC(t *testing.T) *dbc.Dbc {
	t.Helper()
	buf, err := os.ReadFile("can.dbc")
	require.NoError(t, err)
	d, err := dbc.FromSlice(buf)
	require.NoError(t, err)
	return d
}

func TestFrameMerger(t *testing.T) {
	m := newFrameMerger(base.Filter{IsFilterFrame: true, FilterInterval: 10})

	assert.Empty(t, m.Add([]can.PDU{
		{Timestamp: 1_000_000, CanId: 2},
		{Timestamp: 1_000_000, CanId: 1},
	}))
	assert.Empty(t, m.Add([]can.PDU{{Timestamp: 1_005_000, CanId: 1, BusId: 9}}))

	out := m.Add([]can.PDU{{Timestamp: 1_010_000, CanId: 3}})
	require.Len(t, out, 2)
	assert.Equal(t, uint32(1), out[0].CanId)
	assert.Equal(t, uint8(9), out[0].BusId)
	assert.Equal(t, uint32(2), out[1].CanId)

	assert.Empty(t, m.Add(nil))
}

func TestFrameMergerDisabled(t *testing.T) {
	m := newFrameMerger(base.Filter{IsFilterFrame: false})
	in := []can.PDU{{CanId: 1}, {CanId: 1}}
	assert.Equal(t, in, m.Add(in))
}

func TestDecodeDatagramDirection(t *testing.T) {
	data := can.EncodeDatagram([]can.PDU{
		{CanId: 1, Direction: can.SDPERecv},
		{CanId: 2, Direction: can.SDPESend},
	})

	a := &adapter{cfg: base.NewConfig()}
	pdus := a.decodeDatagram(RecvData{RecvTime: 1, Data: data})
	require.Len(t, pdus, 1)
	assert.Equal(t, uint32(1), pdus[0].CanId)

	a.cfg.Bidirection = true
	assert.Len(t, a.decodeDatagram(RecvData{RecvTime: 1, Data: data}), 2)
	assert.Equal(t, int64(4), a.stats.pdus.Load())

	assert.Empty(t, a.decodeDatagram(RecvData{Data: []byte{1}}))
	assert.Equal(t, int64(1), a.stats.decodeErr.Load())
}

type recordingMQTT struct {
	topics []string
}

func (r *recordingMQTT) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	r.topics = append(r.topics, p.Topic)
	return &paho.PublishResponse{}, nil
}

func TestParseAndPublish(t *testing.T) {
	cfg := base.NewConfig()
	client := &recordingMQTT{}
	a := &adapter{
		cfg:       cfg,
		decoder:   can.NewDecoder(loadTestDBC(t), nil),
		publisher: can.NewPublisher(client, &cfg.MQTT),
		frames:    rwmap.NewRWMap[uint32, can.Frame](0),
	}

	a.parseAndPublish(context.Background(), []can.PDU{
		{Timestamp: 2_000_000, CanId: 100, Payload: []byte{0, 0, 0, 3, 0, 0, 0, 0}},
	})

	frame, ok := a.frames.Get(100)
	require.True(t, ok)
	assert.Equal(t, "EngineData", frame.CanName)
	assert.Equal(t, "D", frame.Signals[2].Label)
	assert.Equal(t, []string{cfg.MQTT.WhiteList.Topic}, client.topics)
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := base.NewConfig()
	d := loadTestDBC(t)
	wl := whitelist.New(d, true)
	frames := rwmap.NewRWMap[uint32, can.Frame](0)
	r := NewRouter(&cfg.HttpServer, d, wl, frames)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/ping", "").Code)

	rec := do(http.MethodGet, "/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Diag", jsoniter.Get(rec.Body.Bytes(), 1, "messageName").ToString())
	assert.Equal(t, "CAN Extended", jsoniter.Get(rec.Body.Bytes(), 1, "messageId", "kind").ToString())

	rec = do(http.MethodGet, "/messages/100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EngineData", jsoniter.Get(rec.Body.Bytes(), "messageName").ToString())
	assert.Equal(t, uint32(10), jsoniter.Get(rec.Body.Bytes(), "cycleTime").ToUint32())

	rec = do(http.MethodGet, "/messages/419360789", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Diag", jsoniter.Get(rec.Body.Bytes(), "messageName").ToString())

	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/messages/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/messages/x", "").Code)

	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/frames/100", "").Code)
	frames.Set(100, can.Frame{CanId: 100, CanName: "EngineData"})
	rec = do(http.MethodGet, "/frames/100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EngineData", jsoniter.Get(rec.Body.Bytes(), "name").ToString())

	rec = do(http.MethodPost, "/whitelist", `{"action":1,"canList":{"100":["*"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, wl.QueryByCanIdAndSignal(100, "Gear"))

	rec = do(http.MethodPost, "/whitelist", `{"action":2,"canList":{"2566834709":["*"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, wl.QueryByCanIdAndSignal(419360789, "Counter"))
}

func TestSimulatedDatagrams(t *testing.T) {
	d := loadTestDBC(t)

	datagrams := simulatedDatagrams(d, 0x1A5, time.UnixMilli(1234))
	require.Len(t, datagrams, 1)

	pdus, err := can.DecodeDatagram(datagrams[0], 0)
	require.NoError(t, err)
	require.Len(t, pdus, 2)

	assert.Equal(t, uint64(1234), pdus[0].UdpTimeStamp)
	assert.Equal(t, uint32(100), pdus[0].CanId)
	assert.Equal(t, []byte{0xA5, 0xA5, 0xA5, 0xA5, 0xA5, 0xA5, 0xA5, 0xA5}, pdus[0].Payload)
	assert.Equal(t, uint32(2566834709&0x1FFFFFFF), pdus[1].CanId)

	// the decoder resolves what the simulator sends
	decoded, _ := can.NewDecoder(d, nil).Decode(pdus)
	assert.Len(t, decoded, 2)
}

func TestSimulatedDatagramsSplit(t *testing.T) {
	var text strings.Builder
	for id := 1; id <= 150; id++ {
		fmt.Fprintf(&text, "BO_ %d M%d: 8 ECU\n", id, id)
	}
	// a declared size far beyond any CAN frame
	text.WriteString("BO_ 151 Huge: 4000000000 ECU\n")

	d, err := dbc.Parse(text.String())
	require.NoError(t, err)

	datagrams := simulatedDatagrams(d, 1, time.UnixMilli(0))
	require.Greater(t, len(datagrams), 1)

	var pdus []can.PDU
	for _, datagram := range datagrams {
		assert.LessOrEqual(t, len(datagram), BufSize)

		got, err := can.DecodeDatagram(datagram, 0)
		require.NoError(t, err)
		pdus = append(pdus, got...)
	}

	require.Len(t, pdus, 151)
	for i, pdu := range pdus {
		assert.Equal(t, uint32(i+1), pdu.CanId)
	}
	assert.Len(t, pdus[149].Payload, 8)
	assert.Len(t, pdus[150].Payload, can.MaxPayloadLen)
}
