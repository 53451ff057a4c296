// Package sdr exposes a radio.Radio over HTTP
package sdr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi"

	"github.com/axisdr/sdrlab/config"
	"github.com/axisdr/sdrlab/radio"
	"github.com/axisdr/sdrlab/server"
	"github.com/axisdr/sdrlab/server/middleware/locker"
)

// HTTPRadio wraps a Radio in an HTTP route table
type HTTPRadio struct {
	// Radio is the underlying radio
	Radio *radio.Radio

	// RouteTable maps URLs to functions
	RouteTable server.RouteTable
}

// NewHTTPRadio returns a new HTTP wrapper around an open radio
func NewHTTPRadio(r *radio.Radio) HTTPRadio {
	return HTTPRadio{
		Radio: r,
		RouteTable: server.RouteTable{
			{Method: http.MethodGet, Path: "/dma/status"}:  GetStatus(r),
			{Method: http.MethodPost, Path: "/rx/capture"}: Capture(r),
			{Method: http.MethodPost, Path: "/tx/start"}:   StartTx(r),
			{Method: http.MethodPost, Path: "/tx/stop"}:    StopTx(r),
			{Method: http.MethodGet, Path: "/tx/stats"}:    GetTxStats(r),
		},
	}
}

// RT satisfies the server.HTTPer interface
func (h HTTPRadio) RT() server.RouteTable {
	return h.RouteTable
}

// NewRouter creates a chi router exposing r, with a lock that protects
// every route but /lock and /list-of-routes
func NewRouter(r *radio.Radio) chi.Router {
	h := NewHTTPRadio(r)
	lock := locker.New()
	locker.Inject(h, lock)
	mux := chi.NewRouter()
	mux.Use(lock.Check)
	h.RouteTable.Bind(mux)
	return mux
}

// statusPayload is the JSON form of an axidma.Snapshot with the human
// readable dump alongside
type statusPayload struct {
	Name      string `json:"name"`
	Base      int64  `json:"base"`
	MM2SDMACR uint32 `json:"mm2s_dmacr"`
	MM2SDMASR uint32 `json:"mm2s_dmasr"`
	S2MMDMACR uint32 `json:"s2mm_dmacr"`
	S2MMDMASR uint32 `json:"s2mm_dmasr"`
	Text      string `json:"text"`
}

// GetStatus returns the control and status registers of both channels of
// every engine as a JSON list, the engine in use first
func GetStatus(r *radio.Radio) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snaps, err := r.Status()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]statusPayload, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, statusPayload{
				Name:      s.Name,
				Base:      s.Base,
				MM2SDMACR: s.MM2SDMACR,
				MM2SDMASR: uint32(s.MM2SDMASR),
				S2MMDMACR: s.S2MMDMACR,
				S2MMDMASR: uint32(s.S2MMDMASR),
				Text:      s.String(),
			})
		}
		server.WriteJSON(w, out)
	}
}

// Capture runs one receive transfer into the configured capture file and
// replies with the file, which no other capture can replace until the reply
// is written.  The format may be overridden with ?format=raw|fits
func Capture(r *radio.Radio) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		cfg := r.Config().Capture
		format := req.URL.Query().Get("format")
		if format == "" {
			format = cfg.Format
		}
		if format != config.FormatRaw && format != config.FormatFits {
			http.Error(w, "format must be raw or fits", http.StatusBadRequest)
			return
		}
		dir, fn := filepath.Split(cfg.Path)
		_, err := r.CaptureFileThen(req.Context(), cfg.Path, format, func(res radio.CaptureResult) {
			if format == config.FormatRaw {
				w.Header().Set("X-Capture-CRC32", fmt.Sprintf("%08x", res.CRC32))
			}
			server.ReplyWithFile(w, req, fn, dir)
		})
		if err != nil {
			log.Println("capture failed:", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// StartTx starts a background transmit session.  The body may be empty or
// {"int": n} to send n buffers; 0 or no body streams until stopped
func StartTx(r *radio.Radio) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		n := server.IntT{Int: r.Config().TX.Count}
		err := json.NewDecoder(req.Body).Decode(&n)
		defer req.Body.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if n.Int < 0 {
			http.Error(w, fmt.Sprintf("buffer count must not be negative, got %d", n.Int), http.StatusBadRequest)
			return
		}
		err = r.StartTx(n.Int)
		if errors.Is(err, radio.ErrTxRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StopTx stops the background transmit session and halts the channel
func StopTx(r *radio.Radio) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := r.StopTx()
		if errors.Is(err, radio.ErrTxIdle) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetTxStats returns the transmit counters as JSON
func GetTxStats(r *radio.Radio) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		server.WriteJSON(w, r.TxStats())
	}
}
