package main

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"chatcache/pkg/banner"
	"chatcache/pkg/keys"
	"chatcache/pkg/logger"
	"chatcache/pkg/storage"
	"chatcache/pkg/utils"
)

type limiterPool struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(20), 40)
	p.m[key] = l
	return l
}

func (p *limiterPool) allow(key string) bool {
	return p.get(key).Allow()
}

type inspectServer struct {
	drv      storage.Driver
	limiters limiterPool
}

func serveInspect(addr, driver string, drv storage.Driver) error {
	s := &inspectServer{drv: drv}

	r := mux.NewRouter()
	r.Use(s.limit)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/keys", s.listKeys).Methods(http.MethodGet)
	r.HandleFunc("/value", s.getKey).Methods(http.MethodGet)
	r.HandleFunc("/version", s.version).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v, _ := drv.Version(context.Background())
	banner.Print(addr, driver, v)
	logger.Log.Info("inspect_server_listening", "addr", addr)
	return http.ListenAndServe(addr, r)
}

func (s *inspectServer) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiters.allow(host) {
			utils.JSONError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *inspectServer) healthz(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, 0, map[string]string{"status": "ok"})
}

func (s *inspectServer) version(w http.ResponseWriter, r *http.Request) {
	v, err := s.drv.Version(r.Context())
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "version read failed")
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]int{"schema_version": v})
}

func (s *inspectServer) listKeys(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = keys.Prefix
	}
	ks, err := s.drv.ListKeys(r.Context(), prefix)
	if err != nil {
		logger.Log.Error("inspect_list_failed", "prefix", prefix, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]any{"keys": ks, "count": len(ks)})
}

func (s *inspectServer) getKey(w http.ResponseWriter, r *http.Request) {
	// fingerprint keys carry JSON, so the key rides in a query param
	key := r.URL.Query().Get("key")
	if key == "" {
		utils.JSONError(w, http.StatusBadRequest, "key required")
		return
	}
	v, err := s.drv.GetItem(r.Context(), key)
	if err != nil {
		logger.Log.Error("inspect_get_failed", "key", key, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "get failed")
		return
	}
	if v == nil {
		utils.JSONError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(v)
}
