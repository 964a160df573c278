package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"fractions-backend/internal/middleware"

	"github.com/redis/go-redis/v9"
)

// DBPinger is optional for health check. If nil, database is reported as disconnected.
type DBPinger interface {
	Ping() error
}

// Probe checks one external collaborator (ledger, oracle, broker).
// Reachable probes never affect the overall status.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// HTTPProbe reports a base URL as reachable when any HTTP response comes back.
func HTTPProbe(name, url string, timeout time.Duration) Probe {
	return Probe{Name: name, Ping: func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}}
}

// CollectResult is the shape of /health/json and the dashboard payload.
type CollectResult struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Traffic      TrafficInfo          `json:"traffic"`
	Operations   map[string]OpStats   `json:"operations"`
	Dependencies map[string]DepStatus `json:"dependencies"`
}

// OpStats counts calls to one engine operation. Rejected are 4xx answers
// (validation, invariant, conflict); Errors are 5xx, including ledger outages.
type OpStats struct {
	Calls     int    `json:"calls"`
	Rejected  int    `json:"rejected"`
	Errors    int    `json:"errors"`
	AvgTimeMs string `json:"avgTimeMs"`
}

type RuntimeInfo struct {
	UptimeSeconds int64      `json:"uptimeSeconds"`
	Memory        MemoryInfo `json:"memory"`
	Goroutines    int        `json:"goroutines"`
	Platform      string     `json:"platform"`
	GoVersion     string     `json:"goVersion"`
}

type MemoryInfo struct {
	RSS      int `json:"rss"`
	HeapUsed int `json:"heapUsed"`
}

type TrafficInfo struct {
	TotalRequests   int         `json:"totalRequests"`
	SuccessCount    int         `json:"successCount"`
	FailedCount     int         `json:"failedCount"`
	SuccessRate     string      `json:"successRate"`
	AvgResponseTime interface{} `json:"avgResponseTime"`
	LastRequest     interface{} `json:"lastRequest"`
}

type DepStatus struct {
	Status string      `json:"status"`
	PingMs interface{} `json:"pingMs"`
}

// OperationNames returns operation keys sorted for stable rendering.
func (r CollectResult) OperationNames() []string {
	names := make([]string, 0, len(r.Operations))
	for k := range r.Operations {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DependencyNames returns dependency keys sorted for stable rendering.
func (r CollectResult) DependencyNames() []string {
	names := make([]string, 0, len(r.Dependencies))
	for k := range r.Dependencies {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// CollectHealth gathers health data from Redis, optional DB, and the given probes.
func CollectHealth(ctx context.Context, rdb *redis.Client, db DBPinger, probes ...Probe) CollectResult {
	result := CollectResult{
		Operations:   make(map[string]OpStats),
		Dependencies: make(map[string]DepStatus),
	}

	// Database
	dbStatus := "disconnected"
	var dbPingMs *int64
	if db != nil {
		start := time.Now()
		if err := db.Ping(); err == nil {
			ms := time.Since(start).Milliseconds()
			dbPingMs = &ms
			dbStatus = "connected"
		} else {
			dbStatus = "error"
		}
	}
	result.Dependencies["database"] = DepStatus{Status: dbStatus, PingMs: dbPingMs}

	// Redis + traffic stats
	redisStatus := "disconnected"
	var redisPingMs *int64
	stats := TrafficInfo{AvgResponseTime: 0, SuccessRate: "100"}
	startTimeMs := time.Now().UnixMilli()

	if rdb != nil {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err == nil {
			ms := time.Since(start).Milliseconds()
			redisPingMs = &ms
			redisStatus = "connected"

			totalReq, _ := rdb.Get(ctx, middleware.KeyReqTotal).Result()
			totalErr, _ := rdb.Get(ctx, middleware.KeyReqErrors).Result()
			totalTime, _ := rdb.Get(ctx, middleware.KeyResTime).Result()
			resCount, _ := rdb.Get(ctx, middleware.KeyResCount).Result()
			startTimeStr, _ := rdb.Get(ctx, middleware.KeyStartTime).Result()
			lastReqStr, _ := rdb.Get(ctx, middleware.KeyLastReq).Result()

			if startTimeStr != "" {
				if t, err := strconv.ParseInt(startTimeStr, 10, 64); err == nil {
					startTimeMs = t
				}
			} else {
				rdb.Set(ctx, middleware.KeyStartTime, startTimeMs, 0)
			}

			stats.TotalRequests, _ = strconv.Atoi(totalReq)
			stats.FailedCount, _ = strconv.Atoi(totalErr)
			stats.SuccessCount = stats.TotalRequests - stats.FailedCount
			if stats.TotalRequests > 0 {
				stats.SuccessRate = strconv.FormatFloat(float64(stats.SuccessCount)/float64(stats.TotalRequests)*100, 'f', 1, 64)
			}
			timeSum, _ := strconv.ParseFloat(totalTime, 64)
			countSum, _ := strconv.Atoi(resCount)
			if countSum > 0 {
				stats.AvgResponseTime = strconv.FormatFloat(timeSum/float64(countSum), 'f', 2, 64)
			}
			if lastReqStr != "" {
				var lastReq map[string]interface{}
				_ = json.Unmarshal([]byte(lastReqStr), &lastReq)
				stats.LastRequest = lastReq
			}
			result.Operations = collectOperations(ctx, rdb)
		} else {
			redisStatus = "error"
		}
	}
	result.Dependencies["redis"] = DepStatus{Status: redisStatus, PingMs: redisPingMs}

	for _, p := range probes {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			result.Dependencies[p.Name] = DepStatus{Status: "unreachable"}
			continue
		}
		ms := time.Since(start).Milliseconds()
		result.Dependencies[p.Name] = DepStatus{Status: "reachable", PingMs: &ms}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptimeSec := (time.Now().UnixMilli() - startTimeMs) / 1000
	if uptimeSec < 0 {
		uptimeSec = 0
	}
	result.Runtime = RuntimeInfo{
		UptimeSeconds: uptimeSec,
		Memory:        MemoryInfo{RSS: int(m.Sys / 1024 / 1024), HeapUsed: int(m.HeapInuse / 1024 / 1024)},
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + " (" + runtime.GOARCH + ")",
		GoVersion:     runtime.Version(),
	}
	result.Traffic = stats

	if dbStatus == "connected" && redisStatus == "connected" {
		result.Status = "ok"
	} else {
		result.Status = "issue"
	}
	return result
}

func collectOperations(ctx context.Context, rdb *redis.Client) map[string]OpStats {
	calls, _ := rdb.HGetAll(ctx, middleware.KeyOpCalls).Result()
	rejected, _ := rdb.HGetAll(ctx, middleware.KeyOpRejected).Result()
	errs, _ := rdb.HGetAll(ctx, middleware.KeyOpErrors).Result()
	times, _ := rdb.HGetAll(ctx, middleware.KeyOpTime).Result()

	out := make(map[string]OpStats, len(calls))
	for op, v := range calls {
		st := OpStats{AvgTimeMs: "0"}
		st.Calls, _ = strconv.Atoi(v)
		st.Rejected, _ = strconv.Atoi(rejected[op])
		st.Errors, _ = strconv.Atoi(errs[op])
		if total, err := strconv.ParseFloat(times[op], 64); err == nil && st.Calls > 0 {
			st.AvgTimeMs = strconv.FormatFloat(total/float64(st.Calls), 'f', 2, 64)
		}
		out[op] = st
	}
	return out
}
