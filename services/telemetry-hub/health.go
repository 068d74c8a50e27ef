package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthStatus je odpověď GET /health.
type HealthStatus struct {
	Status         string  `json:"status"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
	Goroutines     int     `json:"goroutines"`
	Subscribers    int     `json:"subscribers"`
	ProcessRSSMB   float64 `json:"processRssMb"`
	HostRAMUsedMB  float64 `json:"hostRamUsedMb"`
	HostRAMTotalMB float64 `json:"hostRamTotalMb"`
}

// healthHandler vrací stav služby. Chyby gopsutil jen zalogujeme, health kvůli nim nepadá.
func healthHandler(started time.Time, subscribers func() int, logger *slog.Logger) http.Handler {
	var self *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		self = p
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := HealthStatus{
			Status:        "ok",
			UptimeSeconds: time.Since(started).Seconds(),
			Goroutines:    runtime.NumGoroutine(),
			Subscribers:   subscribers(),
		}

		if self != nil {
			if info, err := self.MemoryInfo(); err == nil {
				st.ProcessRSSMB = toMB(info.RSS)
			} else {
				logger.Debug("Nelze zjistit RSS procesu", "error", err)
			}
		}

		// "Použitá" RAM = Total - Available. Linux jinak počítá do Used i diskovou cache.
		if vm, err := mem.VirtualMemory(); err == nil {
			st.HostRAMUsedMB = toMB(vm.Total - vm.Available)
			st.HostRAMTotalMB = toMB(vm.Total)
		} else {
			logger.Debug("Nelze zjistit paměť hostitele", "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
		}
	})
}

func toMB(b uint64) float64 {
	return float64(b) / 1024.0 / 1024.0
}
