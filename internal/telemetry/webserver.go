package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ary1234554321/Neurosurf/internal/logging"
	"github.com/ary1234554321/Neurosurf/internal/render"
)

const maxPlotSide = 4096

// WebServer exposes snapshots, plots and live updates over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server on addr backed by hub.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.F("subsystem", "web"))
	return &WebServer{
		hub:    hub,
		logger: logger,
		srv:    &http.Server{Addr: addr, Handler: NewRouter(hub, logger)},
	}
}

// NewRouter registers every telemetry route on a fresh gin engine.
func NewRouter(hub *Hub, logger logging.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", hub.handleHealth)
	api := r.Group("/api")
	api.GET("/streams", hub.handleStreams)
	api.GET("/snapshot", hub.handleSnapshot)
	api.GET("/history", hub.handleHistory)
	api.GET("/config", hub.handleConfig)
	api.GET("/live", hub.handleLive)
	api.GET("/channels/:channel", hub.handleChannel)
	api.GET("/channels/:channel/plot.png", hub.handlePlot)
	return r
}

// Start begins listening and shuts down when the context is canceled.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.F("err", err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", w.srv.Addr))
	if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.F("err", err))
	}
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			logging.F("method", c.Request.Method),
			logging.F("path", c.FullPath()),
			logging.F("status", c.Writer.Status()),
			logging.F("duration_ms", time.Since(start).Seconds()*1000),
		)
	}
}

func (h *Hub) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": len(h.Streams())})
}

func (h *Hub) handleStreams(c *gin.Context) {
	c.JSON(http.StatusOK, h.Streams())
}

func (h *Hub) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.History())
}

func (h *Hub) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.Configs())
}

func (h *Hub) snapshotOrAbort(c *gin.Context) (*Snapshot, bool) {
	snap := h.Latest(c.Query("stream"))
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot published yet"})
		return nil, false
	}
	return snap, true
}

func (h *Hub) channelOrAbort(c *gin.Context) (*Snapshot, ChannelSnapshot, bool) {
	snap, ok := h.snapshotOrAbort(c)
	if !ok {
		return nil, ChannelSnapshot{}, false
	}
	idx, err := strconv.Atoi(c.Param("channel"))
	if err != nil || idx < 0 || idx >= len(snap.Channels) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel " + c.Param("channel")})
		return nil, ChannelSnapshot{}, false
	}
	return snap, snap.Channels[idx], true
}

func (h *Hub) handleSnapshot(c *gin.Context) {
	if snap, ok := h.snapshotOrAbort(c); ok {
		c.JSON(http.StatusOK, snap)
	}
}

// handleChannel serves one channel. ?display=true trims the spectrum to the
// bins up to the Nyquist index.
func (h *Hub) handleChannel(c *gin.Context) {
	_, ch, ok := h.channelOrAbort(c)
	if !ok {
		return
	}
	if display, _ := strconv.ParseBool(c.Query("display")); display {
		end := min(ch.NyquistIndex+1, len(ch.Freqs), len(ch.Magnitudes))
		ch.Freqs = ch.Freqs[:end]
		ch.Magnitudes = ch.Magnitudes[:end]
	}
	c.JSON(http.StatusOK, ch)
}

func (h *Hub) handlePlot(c *gin.Context) {
	snap, ch, ok := h.channelOrAbort(c)
	if !ok {
		return
	}
	opts := render.Options{Width: queryInt(c, "width"), Height: queryInt(c, "height")}
	if opts.Width > maxPlotSide || opts.Height > maxPlotSide {
		c.JSON(http.StatusBadRequest, gin.H{"error": "plot too large"})
		return
	}
	series := render.Series{
		Title:        snap.Stream + " channel " + c.Param("channel"),
		Timestamps:   ch.Timestamps,
		Raw:          ch.Raw,
		Filtered:     ch.Filtered,
		Freqs:        ch.Freqs,
		Magnitudes:   ch.Magnitudes,
		NyquistIndex: ch.NyquistIndex,
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := render.WritePNG(c.Writer, series, opts); err != nil {
		h.logger.Warn("error rendering plot", logging.F("err", err))
	}
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func (h *Hub) handleLive(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// send existing history for immediate display
	for _, sum := range h.History() {
		c.SSEvent("snapshot", sum)
	}
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case sum, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", sum)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
