// Package web serves a read-only JSON view of the gateway state: the
// gateway snapshot and the node records. It reflects the registry as-is
// and never mutates it.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"

	"github.com/meterman/metergw/clock"
	"github.com/meterman/metergw/config"
	"github.com/meterman/metergw/registry"
)

type Server struct {
	appName string
	logger  log.Logger
	reg     *registry.Registry
	clk     *clock.Clock
	cfg     *config.Config
}

func NewServer(appName string, logger log.Logger, reg *registry.Registry, clk *clock.Clock, cfg *config.Config) *Server {
	logger = log.With(logger, "component", "web")
	return &Server{
		appName: appName,
		logger:  logger,
		reg:     reg,
		clk:     clk,
		cfg:     cfg,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/gateway", s.GatewayQuery)
	r.HandleFunc("/api/nodes", s.NodesQuery)
	r.HandleFunc("/api/nodes/{id}", s.NodeQuery)
	return r
}

type gatewayView struct {
	AppName     string `json:"app_name"`
	GatewayID   uint8  `json:"gateway_id"`
	NetworkID   string `json:"network_id"`
	TXPower     int8   `json:"tx_power"`
	LogLevel    string `json:"log_level"`
	BootEpoch   uint32 `json:"boot_epoch"`
	CurrentTime uint32 `json:"current_time"`
	Synced      bool   `json:"synced"`
	NodeCount   int    `json:"node_count"`
}

type nodeView struct {
	NodeID          uint8   `json:"node_id"`
	BattMilliVolts  uint16  `json:"batt_v"`
	UptimeSeconds   uint32  `json:"up_time"`
	SleptSeconds    uint32  `json:"sleep_time"`
	FreeRAM         uint16  `json:"free_ram"`
	LastSeen        uint32  `json:"when_last_seen"`
	Dark            bool    `json:"dark"`
	LastDrift       int32   `json:"last_clock_drift"`
	MeterInterval   uint8   `json:"mtr_interval"`
	ImpPerKWh       uint16  `json:"mtr_imp_per_kwh"`
	LastEntryFinish uint32  `json:"last_meter_entry_finish"`
	LastMeterValue  uint32  `json:"last_mtr_val"`
	LastCurrent     float64 `json:"last_curr_val"`
	LEDRate         uint8   `json:"p_led_rate"`
	LEDTime         uint16  `json:"p_led_time"`
	LastRSSI        int8    `json:"last_rssi"`
}

func viewOf(rec *registry.Record) nodeView {
	return nodeView{
		NodeID:          uint8(rec.ID),
		BattMilliVolts:  rec.Telemetry.BattMilliVolts,
		UptimeSeconds:   rec.Telemetry.UptimeSeconds,
		SleptSeconds:    rec.Telemetry.SleptSeconds,
		FreeRAM:         rec.Telemetry.FreeRAM,
		LastSeen:        rec.LastSeen,
		Dark:            rec.Dark(),
		LastDrift:       rec.LastDrift,
		MeterInterval:   rec.Telemetry.MeterInterval,
		ImpPerKWh:       rec.Telemetry.ImpPerKWh,
		LastEntryFinish: rec.LastEntryFinish,
		LastMeterValue:  rec.LastMeterValue,
		LastCurrent:     rec.LastCurrent,
		LEDRate:         rec.Telemetry.LEDRate,
		LEDTime:         rec.Telemetry.LEDTime,
		LastRSSI:        rec.LastRSSI,
	}
}

func (s *Server) GatewayQuery(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, gatewayView{
		AppName:     s.appName,
		GatewayID:   s.cfg.GatewayID,
		NetworkID:   s.cfg.NetworkIDString(),
		TXPower:     s.cfg.TXPower,
		LogLevel:    s.cfg.LogLevelLabel(),
		BootEpoch:   s.clk.BootEpoch(),
		CurrentTime: s.clk.Now(),
		Synced:      s.clk.Synced(),
		NodeCount:   s.reg.Len(),
	})
}

func (s *Server) NodesQuery(w http.ResponseWriter, r *http.Request) {
	views := []nodeView{}
	for _, rec := range s.reg.Records() {
		views = append(views, viewOf(rec))
	}
	s.writeJSON(w, views)
}

func (s *Server) NodeQuery(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 8)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rec, ok := s.reg.Find(registry.NodeID(id))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeJSON(w, viewOf(rec))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	b, err := json.Marshal(v)
	if err != nil {
		level.Error(s.logger).Log("msg", "can't marshal json", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Write(b)
}
