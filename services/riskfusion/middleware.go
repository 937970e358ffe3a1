package main

import (
	"net"
	"net/http"
	"net/smtp"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lifeline/pkg/config"
)

func metricsHandler() http.Handler { return promhttp.Handler() }

// Per-IP token bucket for the public ingestion surface. Best-effort and
// in-memory; the distributed dedup guard already bounds escalation fan-out.
type bucket struct {
	tokens     int
	lastRefill time.Time
}

var (
	bucketsMu sync.Mutex
	buckets   = make(map[string]*bucket)
)

func rateLimitMiddleware(next http.Handler) http.Handler {
	capacity := config.GetInt("FUSION_RL_PER_MIN", 120)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !allow(ip, capacity) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allow(key string, capacity int) bool {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	b, ok := buckets[key]
	now := time.Now()
	if !ok {
		buckets[key] = &bucket{tokens: capacity - 1, lastRefill: now}
		return true
	}
	if elapsed := now.Sub(b.lastRefill); elapsed >= time.Minute {
		b.tokens = capacity
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func smtpAuth(addr string) smtp.Auth {
	user := os.Getenv("SMTP_USER")
	if user == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return smtp.PlainAuth("", user, os.Getenv("SMTP_PASSWORD"), host)
}
