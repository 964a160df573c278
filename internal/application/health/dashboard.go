package health

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// RenderDashboardHTML returns the status page for GET /.
func RenderDashboardHTML(health CollectResult) string {
	b, _ := json.Marshal(health)
	jsonStr := string(b)
	// Escape for embedding in a JS template literal: \ ` $
	jsonStr = strings.ReplaceAll(jsonStr, "\\", "\\\\")
	jsonStr = strings.ReplaceAll(jsonStr, "`", "\\`")
	jsonStr = strings.ReplaceAll(jsonStr, "$", "\\$")

	headline := "All Systems Operational"
	if health.Status != "ok" {
		headline = "System Issues Detected"
	}

	var deps strings.Builder
	for _, name := range health.DependencyNames() {
		d := health.Dependencies[name]
		class := "err"
		if d.Status == "connected" || d.Status == "reachable" {
			class = "ok"
		}
		ping := "--"
		if p, ok := d.PingMs.(*int64); ok && p != nil {
			ping = fmt.Sprint(*p)
		}
		deps.WriteString(`<div class="row"><span>` + html.EscapeString(name) + `</span><span class="pill ` + class + `" id="pill-` + html.EscapeString(name) + `">` + html.EscapeString(d.Status) + ` · ` + ping + ` ms</span></div>`)
	}

	var ops strings.Builder
	for _, name := range health.OperationNames() {
		o := health.Operations[name]
		class := "ok"
		if o.Errors > 0 {
			class = "err"
		}
		ops.WriteString(`<div class="row"><span>` + html.EscapeString(name) + `</span><span>` +
			fmt.Sprint(o.Calls) + ` calls · ` + fmt.Sprint(o.Rejected) + ` rejected · <span class="pill ` + class + `">` +
			fmt.Sprint(o.Errors) + ` errors</span> · ` + o.AvgTimeMs + ` ms</span></div>`)
	}
	if ops.Len() == 0 {
		ops.WriteString(`<div class="row"><span>No engine operations recorded yet</span></div>`)
	}

	return `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Fractions Engine · API Status</title>
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <style>
    :root { --teal: #007473; --dark: #173E35; --bg: #F8F9FA; --muted: #64748b; }
    body { background: var(--bg); color: var(--dark); font-family: system-ui, sans-serif; margin: 0; display: flex; justify-content: center; padding: 40px 0; }
    .container { width: 100%; max-width: 960px; padding: 0 20px; }
    h1 { font-size: 44px; font-weight: 900; letter-spacing: -2px; margin: 0 0 24px; }
    .grid { display: grid; grid-template-columns: repeat(3, 1fr); gap: 20px; }
    .card { background: white; border-radius: 20px; padding: 28px; box-shadow: 0 20px 60px -20px rgba(0,116,115,0.15); }
    .label { text-transform: uppercase; font-size: 11px; font-weight: 900; letter-spacing: 2px; color: #94a3b8; margin-bottom: 16px; }
    .big { font-size: 36px; font-weight: 900; margin-bottom: 8px; }
    .row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid rgba(0,0,0,0.04); font-size: 14px; font-weight: 700; }
    .wide { grid-column: 1 / -1; }
    .pill { padding: 3px 10px; border-radius: 8px; font-size: 11px; }
    .ok { background: rgba(0,116,115,0.08); color: var(--teal); }
    .err { background: rgba(239,68,68,0.08); color: #EF4444; }
    footer { margin-top: 20px; font-size: 13px; color: var(--muted); }
    @media (max-width: 800px) { .grid { grid-template-columns: 1fr; } }
  </style>
</head>
<body>
  <div class="container">
    <h1 id="headline">` + headline + `</h1>
    <div class="grid">
      <div class="card">
        <div class="label">Traffic</div>
        <div class="big" id="total-req">` + fmt.Sprint(health.Traffic.TotalRequests) + `</div>
        <div class="row"><span>Successful</span><span id="success-count">` + fmt.Sprint(health.Traffic.SuccessCount) + `</span></div>
        <div class="row"><span>Failed</span><span id="failed-count">` + fmt.Sprint(health.Traffic.FailedCount) + `</span></div>
        <div class="row"><span>Success Rate</span><span id="success-rate">` + health.Traffic.SuccessRate + `%</span></div>
        <div class="row"><span>Avg Latency</span><span id="avg-time">` + fmt.Sprint(health.Traffic.AvgResponseTime) + `ms</span></div>
      </div>
      <div class="card">
        <div class="label">Runtime</div>
        <div class="big" id="uptime">` + fmt.Sprint(health.Runtime.UptimeSeconds) + `s</div>
        <div class="row"><span>Heap Used</span><span>` + fmt.Sprint(health.Runtime.Memory.HeapUsed) + ` MB</span></div>
        <div class="row"><span>Goroutines</span><span>` + fmt.Sprint(health.Runtime.Goroutines) + `</span></div>
        <div class="row"><span>Go</span><span>` + health.Runtime.GoVersion + `</span></div>
      </div>
      <div class="card">
        <div class="label">Dependencies</div>
        ` + deps.String() + `
      </div>
      <div class="card wide">
        <div class="label">Engine Operations</div>
        ` + ops.String() + `
      </div>
    </div>
    <footer>Data: <a href="/health/json">/health/json</a> · Errors: <a href="/health/errors">/health/errors</a></footer>
  </div>
  <script>
    const initial = JSON.parse(` + "`" + jsonStr + "`" + `);
    async function tick() {
      try {
        const d = await (await fetch('/health/json')).json();
        document.getElementById('total-req').innerText = d.traffic.totalRequests;
        document.getElementById('success-count').innerText = d.traffic.successCount;
        document.getElementById('failed-count').innerText = d.traffic.failedCount;
        document.getElementById('success-rate').innerText = d.traffic.successRate + '%';
        document.getElementById('uptime').innerText = d.runtime.uptimeSeconds + 's';
        document.getElementById('headline').innerText = d.status === 'ok' ? 'All Systems Operational' : 'System Issues Detected';
      } catch (e) {}
    }
    if (initial.status) setInterval(tick, 10000);
  </script>
</body>
</html>`
}
