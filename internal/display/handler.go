package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"image/color"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/gorilla/websocket"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/csistudio/internal/csi"
	"github.com/banshee-data/csistudio/internal/monitoring"
)

const assetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><title>CSI senders</title></head><body>
<h1>CSI senders</h1>
{{if not .}}<p>No frames received yet.</p>{{end}}
<ul>
{{range .}}<li>{{.}}: <a href="chart?mac={{.}}">chart</a> | <a href="plot.png?mac={{.}}">png</a> | <a href="latest?mac={{.}}">json</a></li>
{{end}}</ul>
</body></html>
`))

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// AttachRoutes mounts the display pages below prefix, e.g. "/display/".
func (h *Hub) AttachRoutes(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix+"/", h.handleIndex)
	mux.HandleFunc(prefix+"/latest", h.handleLatest)
	mux.HandleFunc(prefix+"/chart", h.handleChart)
	mux.HandleFunc(prefix+"/plot.png", h.handlePlot)
	mux.HandleFunc(prefix+"/ws", h.handleWebsocket)
}

func (h *Hub) handleIndex(w http.ResponseWriter, r *http.Request) {
	macs := h.Senders()
	names := make([]string, len(macs))
	for i, m := range macs {
		names[i] = m.String()
	}
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, names); err != nil {
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// frameFor resolves the mac query parameter, defaulting to the first
// sender when there is exactly one.
func (h *Hub) frameFor(w http.ResponseWriter, r *http.Request) (*Frame, bool) {
	raw := r.URL.Query().Get("mac")
	var mac csi.MAC
	if raw == "" {
		senders := h.Senders()
		if len(senders) != 1 {
			http.Error(w, "mac parameter is required", http.StatusBadRequest)
			return nil, false
		}
		mac = senders[0]
	} else {
		m, err := csi.ParseMAC(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid mac: %v", err), http.StatusBadRequest)
			return nil, false
		}
		mac = m
	}
	f, ok := h.Latest(mac)
	if !ok {
		http.Error(w, "no frame from "+mac.String(), http.StatusNotFound)
		return nil, false
	}
	return f, true
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	f, ok := h.frameFor(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f); err != nil {
		monitoring.Logf("display: encode frame: %v", err)
	}
}

func (h *Hub) handleChart(w http.ResponseWriter, r *http.Request) {
	f, ok := h.frameFor(w, r)
	if !ok {
		return
	}
	xs := make([]int, len(f.Amplitude))
	amp := make([]opts.LineData, len(f.Amplitude))
	phase := make([]opts.LineData, len(f.Phase))
	for i := range f.Amplitude {
		xs[i] = i
		amp[i] = opts.LineData{Value: f.Amplitude[i]}
		phase[i] = opts.LineData{Value: f.Phase[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "CSI " + f.MAC, Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "CSI " + f.MAC,
			Subtitle: fmt.Sprintf("seq=%d rssi=%.1f mean=%.2f max=%.2f@%d", f.SeqNr, f.RSSI, f.Summary.MeanAmplitude, f.Summary.MaxAmplitude, f.Summary.MaxIndex),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "subcarrier", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(xs).
		AddSeries("amplitude", amp).
		AddSeries("phase", phase)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *Hub) handlePlot(w http.ResponseWriter, r *http.Request) {
	f, ok := h.frameFor(w, r)
	if !ok {
		return
	}
	wt, err := RenderPNG(f, 10*vg.Inch, 4*vg.Inch)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render plot: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		monitoring.Logf("display: write png: %v", err)
	}
}

// RenderPNG plots amplitude and phase of f over the subcarrier index.
func RenderPNG(f *Frame, width, height vg.Length) (io.WriterTo, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("CSI %s seq=%d", f.MAC, f.SeqNr)
	p.X.Label.Text = "subcarrier"
	p.Add(plotter.NewGrid())

	ampPts := make(plotter.XYs, len(f.Amplitude))
	phasePts := make(plotter.XYs, len(f.Phase))
	for i := range f.Amplitude {
		ampPts[i] = plotter.XY{X: float64(i), Y: f.Amplitude[i]}
		phasePts[i] = plotter.XY{X: float64(i), Y: f.Phase[i]}
	}

	ampLine, err := plotter.NewLine(ampPts)
	if err != nil {
		return nil, fmt.Errorf("amplitude line: %w", err)
	}
	ampLine.Width = vg.Points(1)
	ampLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	phaseLine, err := plotter.NewLine(phasePts)
	if err != nil {
		return nil, fmt.Errorf("phase line: %w", err)
	}
	phaseLine.Width = vg.Points(1)
	phaseLine.Color = color.RGBA{R: 255, G: 127, B: 14, A: 255}

	p.Add(ampLine, phaseLine)
	p.Legend.Add("amplitude", ampLine)
	p.Legend.Add("phase", phaseLine)
	p.Legend.Top = true

	return p.WriterTo(width, height, "png")
}

// handleWebsocket streams pushed frames as JSON text messages until the
// client goes away.
func (h *Hub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	var filter *csi.MAC
	if raw := r.URL.Query().Get("mac"); raw != "" {
		m, err := csi.ParseMAC(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid mac: %v", err), http.StatusBadRequest)
			return
		}
		filter = &m
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("display: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	id, frames := h.Subscribe()
	defer h.Unsubscribe(id)

	// The reader only watches for the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case f, ok := <-frames:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if filter != nil && f.MAC != filter.String() {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
