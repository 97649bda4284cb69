package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/burner-controller/internal/calibration"
	"github.com/sweeney/burner-controller/internal/probe"
	"github.com/sweeney/burner-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"temp": func(c *float64) string {
		if c == nil {
			return "--"
		}
		return fmt.Sprintf("%.1f°F (%.1f°C)", calibration.CelsiusToFahrenheit(*c), *c)
	},
	"fahrenheit": calibration.CelsiusToFahrenheit,
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Burner Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fault { color: red; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Burner Controller<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Temperatures</h2>
<table>
<tr><th>Oil</th><td id="primary">{{if .HasReading}}{{temp .Reading.Primary.TempC}}{{else}}--{{end}}</td></tr>
<tr><th>Food</th><td id="secondary">{{if .HasReading}}{{temp .Reading.Secondary.TempC}}{{else}}--{{end}}</td></tr>
<tr><th>Target</th><td id="target">{{printf "%.1f" (fahrenheit .TargetC)}}°F ({{printf "%.1f" .TargetC}}°C)</td></tr>
<tr><th>Probe</th><td class="{{if .Connected}}connected{{else}}disconnected{{end}}">{{if .Connected}}connected{{else}}disconnected{{end}}</td></tr>
</table>

<h2>Burner</h2>
<table>
<tr><th>Run state</th><td id="running">{{if .Running}}RUNNING{{else}}STOPPED{{end}}</td></tr>
<tr><th>Stage 1</th><td id="stage1" class="{{if .Stage1On}}on{{else}}off{{end}}">{{onOff .Stage1On}}</td></tr>
{{if eq .Config.Stages 2}}<tr><th>Stage 2</th><td id="stage2" class="{{if .Stage2On}}on{{else}}off{{end}}">{{onOff .Stage2On}}</td></tr>{{end}}
<tr><th>Burn time</th><td id="burn">{{uptime .Stage1Burn}}</td></tr>
<tr><th>PID output</th><td id="pid">{{printf "%.1f" .PIDOutput}}%</td></tr>
{{if .Fault}}<tr><th>Fault</th><td class="fault">{{.Fault}}</td></tr>{{end}}
</table>
<form onsubmit="setTarget(event)">
<input id="target-f" type="number" step="1" placeholder="target °F">
<button type="submit">Set target</button>
<button type="button" onclick="toggleRun()">Start / stop</button>
</form>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Sensor</th><td>{{.Config.Sensor}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/temperature_history?max_points=500">History</a> | <a href="/logs">Logs</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function f(c) { return c === null ? "--" : (c * 9 / 5 + 32).toFixed(1) + "°F (" + c.toFixed(1) + "°C)"; }
  function onOff(el, on) {
    if (!el) return;
    el.textContent = on ? "ON" : "OFF";
    el.className = on ? "on" : "off";
  }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
    ws.onclose = function() { dot.className = "live-dot err"; dot.title = "offline"; setTimeout(connect, 5000); };
    ws.onmessage = function(e) {
      try {
        var msg = JSON.parse(e.data);
        var s = msg.status;
        if (msg.reading) {
          document.getElementById("primary").textContent = f(msg.reading.primary.temp_c);
          document.getElementById("secondary").textContent = f(msg.reading.secondary.temp_c);
        }
        document.getElementById("target").textContent = f(s.target_temp_c);
        document.getElementById("running").textContent = s.running ? "RUNNING" : "STOPPED";
        document.getElementById("pid").textContent = s.pid_output.toFixed(1) + "%";
        document.getElementById("burn").textContent = s.burn_seconds.total + "s";
        onOff(document.getElementById("stage1"), s.stage1_on);
        onOff(document.getElementById("stage2"), s.stage2_on);
      } catch (err) {}
    };
  }
  window.setTarget = function(e) {
    e.preventDefault();
    var v = parseFloat(document.getElementById("target-f").value);
    fetch("/set_target_temp", { method: "POST", headers: { "Content-Type": "application/json" }, body: JSON.stringify({ temp_f: v }) });
  };
  window.toggleRun = function() { fetch("/toggle_run_state", { method: "POST" }); };
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, reading probe.Reading, hasReading bool) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		Reading    probe.Reading
		HasReading bool
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		Reading:    reading,
		HasReading: hasReading,
	}
	indexTmpl.Execute(w, data)
}
