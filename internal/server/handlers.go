package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bbernstein/lacylights-wifi/internal/api"
	"github.com/bbernstein/lacylights-wifi/internal/services/network"
	"github.com/bbernstein/lacylights-wifi/internal/services/wifi"
)

// httpStatus maps a driver status onto an HTTP status code.
func httpStatus(st wifi.Status) int {
	switch st {
	case wifi.StatusSuccess:
		return http.StatusOK
	case wifi.StatusParamFailed:
		return http.StatusBadRequest
	case wifi.StatusNotStarted, wifi.StatusNotConnected,
		wifi.StatusAlreadyStarted, wifi.StatusAlreadyConnected:
		return http.StatusConflict
	case wifi.StatusNotAllowed:
		return http.StatusForbidden
	case wifi.StatusNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	st := wifi.StatusOf(err)
	writeJSON(w, httpStatus(st), api.Error{Error: err.Error(), Status: st.String()})
}

// decode reads a JSON body. With optional set an empty body leaves v alone.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid request body: %v", wifi.StatusParamFailed, err)
	}
	return nil
}

func (s *Server) status(ctx context.Context) (api.Status, error) {
	snap := s.wifi.State()
	n, reason, err := s.wifi.IsConnected(ctx)
	if err != nil && !errors.Is(err, wifi.StatusNotStarted) && !errors.Is(err, wifi.StatusNotConnected) {
		return api.Status{}, err
	}
	return api.NewStatus(snap, n, reason), nil
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, code int) {
	st, err := s.status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, code, st)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.opts.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"state":     s.wifi.State().State.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, http.StatusOK)
}

// apProfile picks the AP configuration for a start request: the request body
// first, then the configured profile file, then the last profile that started.
func (s *Server) apProfile(ctx context.Context, req *api.APProfile) (*api.APProfile, error) {
	if req != nil {
		return req, nil
	}
	if s.opts.APProfilePath != "" {
		return api.LoadAPProfile(s.opts.APProfilePath)
	}
	if s.opts.Profiles != nil {
		data, err := s.opts.Profiles.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read saved AP profile: %w", err)
		}
		if len(data) > 0 {
			return api.ParseAPProfile(data)
		}
	}
	return nil, fmt.Errorf("%w: no AP profile given and none saved", wifi.StatusParamFailed)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.StartRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	kind, err := wifi.ParseInterfaceKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if kind == wifi.KindNone {
		writeError(w, fmt.Errorf("%w: kind is required", wifi.StatusParamFailed))
		return
	}

	var (
		profile *api.APProfile
		apCfg   *wifi.AccessPointConfig
	)
	if kind == wifi.KindSoftAP {
		profile, err = s.apProfile(ctx, req.AP)
		if err != nil {
			writeError(w, err)
			return
		}
		if apCfg, err = profile.Config(); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.wifi.Start(ctx, kind, apCfg); err != nil {
		writeError(w, err)
		return
	}

	if profile != nil && s.opts.Profiles != nil {
		if data, err := profile.Marshal(); err != nil {
			log.Printf("server: encode AP profile: %v", err)
		} else if err := s.opts.Profiles.Write(ctx, data); err != nil {
			log.Printf("server: save AP profile: %v", err)
		}
	}
	if err := s.Attach(ctx); err != nil {
		log.Printf("server: register link callbacks: %v", err)
	}
	s.publishState()
	s.writeStatus(w, r, http.StatusOK)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.wifi.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.publishState()
	s.writeStatus(w, r, http.StatusOK)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.ScanRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	if err := s.wifi.RegisterScanCallback(ctx, s.publishScan); err != nil {
		writeError(w, err)
		return
	}

	if req.SSID == "" {
		if err := s.wifi.ScanNetwork(ctx); err != nil {
			writeError(w, err)
			return
		}
	} else {
		sec, err := api.Security(req.Security, req.Passphrase)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.wifi.ScanSpecificNetwork(ctx, []byte(req.SSID), sec); err != nil {
			writeError(w, err)
			return
		}
	}
	s.writeStatus(w, r, http.StatusAccepted)
}

func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	list, err := s.wifi.GetScanResults(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	results := api.NewScanResults(list)
	freed := s.wifi.FreeScanResults(list)
	writeJSON(w, http.StatusOK, api.ScanResults{Results: results, Freed: freed})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req api.JoinRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ssid, bssid, sec, err := req.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.wifi.NetworkJoin(r.Context(), ssid, bssid, sec); err != nil {
		writeError(w, err)
		return
	}
	s.publishState()
	s.writeStatus(w, r, http.StatusAccepted)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.wifi.NetworkLeave(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	s.publishState()
	s.writeStatus(w, r, http.StatusOK)
}

func (s *Server) handleGetTxPower(w http.ResponseWriter, r *http.Request) {
	dbm, err := s.wifi.GetTxPower(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TxPower{DBm: dbm})
}

func (s *Server) handleSetTxPower(w http.ResponseWriter, r *http.Request) {
	var req api.TxPower
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if err := s.wifi.SetTxPower(r.Context(), req.DBm); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetCountry(w http.ResponseWriter, r *http.Request) {
	cc, err := s.wifi.GetCountryCode(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Country{Code: cc})
}

func (s *Server) handleSetCountry(w http.ResponseWriter, r *http.Request) {
	var req api.Country
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if err := s.wifi.SetCountryCode(r.Context(), req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleMAC(w http.ResponseWriter, r *http.Request) {
	mac, err := s.wifi.GetMAC(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Value{Name: "mac", Value: mac.String()})
}

func (s *Server) handleRSSI(w http.ResponseWriter, r *http.Request) {
	rssi, err := s.wifi.GetRSSI(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Value{Name: "rssi", Value: rssi})
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.wifi.GetChannel(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Value{Name: "channel", Value: ch})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.wifi.SaveConfig(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request) {
	if err := s.wifi.ForcePanic(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleInterfaces lists wireless interfaces, or every interface with
// ?all=true.
func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	list := s.opts.Lister.Wireless
	if r.URL.Query().Get("all") == "true" {
		list = s.opts.Lister.List
	}
	ifaces, err := list()
	if err != nil {
		writeError(w, err)
		return
	}
	if ifaces == nil {
		ifaces = []network.Interface{}
	}
	writeJSON(w, http.StatusOK, api.Interfaces{Interfaces: ifaces})
}
