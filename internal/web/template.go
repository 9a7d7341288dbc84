package web

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"github.com/sweeney/opamp-chip/internal/status"
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
	"volts": func(v float64) string {
		return strconv.FormatFloat(v, 'g', 6, 64)
	},
	"rail": func(v float64, connected bool) string {
		s := strconv.FormatFloat(v, 'g', 6, 64)
		if !connected {
			s += " (default)"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Op-Amp</title>
<style>
body { font-family: monospace; max-width: 820px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.high { color: #c00; font-weight: bold; }
.low { color: #06c; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
img { max-width: 100%; }
</style>
</head>
<body>
<h1>Op-Amp {{.Config.InstanceID}}<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Amplifier</h2>
<table>
<tr><th>Gain</th><td id="gain">{{volts .Last.Gain}}</td></tr>
<tr><th>Period</th><td id="period">{{.Last.PeriodMs}}ms</td></tr>
<tr><th>IN+</th><td id="vinp">{{volts .Last.VInP}}</td></tr>
<tr><th>IN-</th><td id="vinn">{{volts .Last.VInN}}</td></tr>
<tr><th>VCC</th><td id="vcc">{{rail .Last.VCC .Last.VCCConnected}}</td></tr>
<tr><th>VEE</th><td id="vee">{{rail .Last.VEE .Last.VEEConnected}}</td></tr>
<tr><th>OUT</th><td id="out" class="{{if eq .Last.Saturation "HIGH"}}high{{else if eq .Last.Saturation "LOW"}}low{{end}}">{{volts .Last.Out}}</td></tr>
<tr><th>Raw</th><td id="raw">{{volts .Last.Raw}}</td></tr>
<tr><th>Ready</th><td id="ready">{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

{{if .History}}<p><img id="plot" src="/plot.png" alt="history"></p>{{end}}

{{if .Params}}
<h2>Parameters</h2>
<form method="post" action="/params">
<table>
{{range $name, $v := .Params}}<tr><th>{{$name}}</th><td><input name="{{$name}}" value="{{volts $v}}"></td></tr>
{{end}}</table>
<button type="submit">Apply</button>
</form>
{{end}}

<h2>Counts</h2>
<table>
<tr><th>Updates</th><td id="ticks">{{.Counts.Ticks}}</td></tr>
<tr><th>Period changes</th><td>{{.Counts.PeriodChanges}}</td></tr>
<tr><th>Gain changes</th><td>{{.Counts.GainChanges}}</td></tr>
<tr><th>Saturated high</th><td>{{.Counts.SaturatedHigh}}</td></tr>
<tr><th>Saturated low</th><td>{{.Counts.SaturatedLow}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none{{end}}</td></tr>
<tr><th>Topics</th><td>{{.Config.TopicPrefix}}/#</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Ports</th><td>{{.Config.PortsMode}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a>{{if .Params}} | <a href="/params">params</a>{{end}}</p>

<script>
(function() {
  var dot = document.getElementById("live-dot");
  var plot = document.getElementById("plot");
  var lastPlot = 0;

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function set(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }
  function rail(v, connected) {
    return connected ? String(v) : v + " (default)";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/live");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var st = JSON.parse(ev.data).status;
        set("gain", st.gain);
        set("period", st.period_ms + "ms");
        set("vinp", st.inputs.vinp);
        set("vinn", st.inputs.vinn);
        set("vcc", rail(st.rails.vcc, st.rails.vcc_connected));
        set("vee", rail(st.rails.vee, st.rails.vee_connected));
        set("out", st.output.volts);
        set("raw", st.output.raw);
        set("ready", st.ready ? "yes" : "no");
        set("ticks", st.counts.ticks);
        var out = document.getElementById("out");
        out.className = st.output.saturation === "HIGH" ? "high" : st.output.saturation === "LOW" ? "low" : "";
        if (plot && Date.now() - lastPlot > 2000) {
          plot.src = "/plot.png?t=" + Date.now();
          lastPlot = Date.now();
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, params map[string]float64) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Params map[string]float64
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Params:   params,
	}
	return indexTmpl.Execute(w, data)
}
