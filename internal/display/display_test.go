package display

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/timeutil"
)

var (
	macA = csi.MAC{0xaa, 0, 0, 0, 0, 1}
	macB = csi.MAC{0xaa, 0, 0, 0, 0, 2}
)

func record(mac csi.MAC, seq uint16) *csi.Record {
	rec := &csi.Record{MAC: mac, SeqNr: seq, RSSI: -50, NSubcarriers: 4, Timestamp: time.Unix(1700000000, 0)}
	copy(rec.Amplitude[:], []float64{1, 3, 2, 2})
	copy(rec.Phase[:], []float64{0, 0.5, 1, 1.5})
	return rec
}

func TestNewFrame_CopiesAndSummarizes(t *testing.T) {
	rec := record(macA, 1)
	f := NewFrame(rec)
	rec.Amplitude[0] = 100

	assert.Equal(t, []float64{1, 3, 2, 2}, f.Amplitude)
	assert.Equal(t, "aa:00:00:00:00:01", f.MAC)
	assert.InDelta(t, 2.0, f.Summary.MeanAmplitude, 1e-9)
	assert.Equal(t, 3.0, f.Summary.MaxAmplitude)
	assert.Equal(t, 1, f.Summary.MaxIndex)
	assert.Greater(t, f.Summary.StdAmplitude, 0.0)

	single := &csi.Record{NSubcarriers: 1}
	single.Amplitude[0] = 4
	assert.Zero(t, NewFrame(single).Summary.StdAmplitude)
	assert.Equal(t, Summary{}, NewFrame(&csi.Record{}).Summary)
}

func TestHub_ThrottlesPerSender(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	h := NewHub(100*time.Millisecond, clock)
	_, ch := h.Subscribe()

	h.Accept(record(macA, 1))
	h.Accept(record(macA, 2)) // within the interval
	h.Accept(record(macB, 3)) // other sender is independent
	clock.Advance(100 * time.Millisecond)
	h.Accept(record(macA, 4))

	var seqs []uint16
	for len(ch) > 0 {
		seqs = append(seqs, (<-ch).SeqNr)
	}
	assert.Equal(t, []uint16{1, 3, 4}, seqs)

	latest, ok := h.Latest(macA)
	require.True(t, ok)
	assert.Equal(t, uint16(4), latest.SeqNr)
	assert.Equal(t, []csi.MAC{macA, macB}, h.Senders())
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(-1, nil)
	_, ch := h.Subscribe()
	for i := 0; i < 100; i++ {
		h.Accept(record(macA, uint16(i)))
	}
	assert.Equal(t, cap(ch), len(ch))
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub(-1, nil)
	id, ch := h.Subscribe()
	h.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	h.Unsubscribe(id)

	_, ch2 := h.Subscribe()
	require.NoError(t, h.Close())
	_, ok = <-ch2
	assert.False(t, ok)

	h.Accept(record(macA, 1))
	_, found := h.Latest(macA)
	assert.False(t, found)

	_, ch3 := h.Subscribe()
	_, ok = <-ch3
	assert.False(t, ok)
}

func TestHub_Clear(t *testing.T) {
	h := NewHub(0, nil)
	h.Accept(record(macA, 1))
	h.Clear()
	assert.Empty(t, h.Senders())
}

func newServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	h.AttachRoutes(mux, "/display/")
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHandlers(t *testing.T) {
	h := NewHub(-1, nil)
	srv := newServer(t, h)

	resp, body := get(t, srv.URL+"/display/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "No frames received yet")

	resp, _ = get(t, srv.URL+"/display/latest")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	h.Accept(record(macA, 9))

	resp, body = get(t, srv.URL+"/display/")
	assert.Contains(t, string(body), "aa:00:00:00:00:01")

	resp, body = get(t, srv.URL+"/display/latest")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var f Frame
	require.NoError(t, json.Unmarshal(body, &f))
	assert.Equal(t, uint16(9), f.SeqNr)

	resp, _ = get(t, srv.URL+"/display/latest?mac=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = get(t, srv.URL+"/display/latest?mac=aa:00:00:00:00:02")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, srv.URL+"/display/chart?mac=AA:00:00:00:00:01")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "echarts"))

	resp, body = get(t, srv.URL+"/display/plot.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))
}

func TestWebsocket_StreamsFrames(t *testing.T) {
	h := NewHub(-1, nil)
	srv := newServer(t, h)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/display/ws?mac=aa:00:00:00:00:02"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait until the handler has subscribed.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.subscribers) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.Accept(record(macA, 1))
	h.Accept(record(macB, 2))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, "aa:00:00:00:00:02", f.MAC)
	assert.Equal(t, uint16(2), f.SeqNr)

	require.NoError(t, h.Close())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
