// Command monitor is a terminal dashboard for a running file relay. It
// polls the relay's Prometheus endpoint and the local system and renders
// both in a tview UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/prometheus/common/expfmt"
	"github.com/rivo/tview"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"git.uuxo.net/uuxo/file-relay/internal/config"
	"git.uuxo.net/uuxo/file-relay/internal/utils"
)

// Thresholds for color coding
const (
	HighUsage   = 80.0
	MediumUsage = 50.0
)

var metricsURL string

// relayMetrics are the gauge and counter names shown on the relay page,
// in display order.
var relayMetrics = []struct {
	name  string
	label string
}{
	{"active_sessions", "Active sessions"},
	{"sessions_refused_total", "Sessions refused"},
	{"messages_relayed_total", "Messages relayed"},
	{"messages_rejected_total", "Messages rejected"},
	{"rate_limited_total", "Rate limited"},
	{"uploads_total", "Uploads"},
	{"upload_errors_total", "Upload errors"},
	{"downloads_total", "Downloads"},
	{"pending_upload_bytes", "Pending upload bytes"},
	{"disk_free_bytes", "Disk free"},
	{"goroutines", "Goroutines"},
}

var (
	dataMu      sync.RWMutex
	lastMetrics map[string]float64
	lastErr     error
	memUsage    float64
	cpuUsage    float64
	cpuCores    int
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "./config.toml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Error loading config file: %v", err)
	}
	if !cfg.Server.MetricsEnabled {
		log.Fatal("Metrics are disabled in the configuration; nothing to monitor")
	}

	host := cfg.Server.BindIP
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	metricsURL = fmt.Sprintf("http://%s:%s%s", host, cfg.Server.Port, cfg.Server.MetricsPath)
	log.Printf("Using config file: %s", configFile)
	log.Printf("Metrics URL set to: %s", metricsURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := tview.NewApplication()

	sysTable := tview.NewTable().SetBorders(false)
	sysTable.SetTitle(" System ").SetBorder(true)

	relayTable := tview.NewTable().SetBorders(false)
	relayTable.SetTitle(" File Relay ").SetBorder(true)

	rawTable := tview.NewTable().SetBorders(false)
	rawTable.SetTitle(" All Metrics ").SetBorder(true)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			AddItem(sysTable, 0, 1, false).
			AddItem(relayTable, 0, 2, false), 0, 1, false).
		AddItem(rawTable, 0, 1, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			cancel()
			app.Stop()
		}
		return event
	})

	go pollLoop(ctx, app, sysTable, relayTable, rawTable)

	if err := app.SetRoot(layout, true).Run(); err != nil {
		log.Fatalf("Error running application: %v", err)
	}
}

// pollLoop refreshes data and redraws until ctx is canceled.
func pollLoop(ctx context.Context, app *tview.Application, sysTable, relayTable, rawTable *tview.Table) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		refreshData()
		app.QueueUpdateDraw(func() {
			updateSystemTable(sysTable)
			updateRelayTable(relayTable)
			updateRawTable(rawTable)
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func refreshData() {
	metrics, err := fetchMetrics()

	var memPct, cpuPct float64
	var cores int
	if v, verr := mem.VirtualMemory(); verr == nil {
		memPct = v.UsedPercent
	}
	if c, cerr := cpu.Percent(0, false); cerr == nil && len(c) > 0 {
		cpuPct = c[0]
	}
	if n, nerr := cpu.Counts(true); nerr == nil {
		cores = n
	}

	dataMu.Lock()
	if err == nil {
		lastMetrics = metrics
	}
	lastErr = err
	memUsage = memPct
	cpuUsage = cpuPct
	cpuCores = cores
	dataMu.Unlock()
}

// fetchMetrics scrapes the relay's metrics endpoint into a flat map.
func fetchMetrics() (map[string]float64, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(metricsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, 1024*1024)

	parser := &expfmt.TextParser{}
	metricFamilies, err := parser.TextToMetricFamilies(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}

	metrics := make(map[string]float64)
	for name, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			var value float64
			if m.GetGauge() != nil {
				value = m.GetGauge().GetValue()
			} else if m.GetCounter() != nil {
				value = m.GetCounter().GetValue()
			} else if m.GetUntyped() != nil {
				value = m.GetUntyped().GetValue()
			} else {
				continue
			}

			if len(m.GetLabel()) > 0 {
				labels := make([]string, 0, len(m.GetLabel()))
				for _, label := range m.GetLabel() {
					labels = append(labels, fmt.Sprintf("%s=\"%s\"", label.GetName(), label.GetValue()))
				}
				metrics[fmt.Sprintf("%s{%s}", name, strings.Join(labels, ","))] = value
			} else {
				metrics[name] = value
			}
		}
	}
	return metrics, nil
}

func usageColor(pct float64) tcell.Color {
	switch {
	case pct > HighUsage:
		return tcell.ColorRed
	case pct > MediumUsage:
		return tcell.ColorYellow
	default:
		return tcell.ColorGreen
	}
}

func updateSystemTable(table *tview.Table) {
	dataMu.RLock()
	defer dataMu.RUnlock()

	table.Clear()
	table.SetCell(0, 0, tview.NewTableCell("Metric").SetAttributes(tcell.AttrBold))
	table.SetCell(0, 1, tview.NewTableCell("Value").SetAttributes(tcell.AttrBold))

	table.SetCell(1, 0, tview.NewTableCell("CPU Usage"))
	table.SetCell(1, 1, tview.NewTableCell(fmt.Sprintf("%.1f%%", cpuUsage)).SetTextColor(usageColor(cpuUsage)))
	table.SetCell(2, 0, tview.NewTableCell("Memory Usage"))
	table.SetCell(2, 1, tview.NewTableCell(fmt.Sprintf("%.1f%%", memUsage)).SetTextColor(usageColor(memUsage)))
	table.SetCell(3, 0, tview.NewTableCell("CPU Cores"))
	table.SetCell(3, 1, tview.NewTableCell(fmt.Sprintf("%d", cpuCores)))
}

func updateRelayTable(table *tview.Table) {
	dataMu.RLock()
	defer dataMu.RUnlock()

	table.Clear()
	if lastErr != nil {
		table.SetCell(0, 0, tview.NewTableCell("Scrape failed: "+lastErr.Error()).SetTextColor(tcell.ColorRed))
		return
	}

	table.SetCell(0, 0, tview.NewTableCell("Metric").SetAttributes(tcell.AttrBold))
	table.SetCell(0, 1, tview.NewTableCell("Value").SetAttributes(tcell.AttrBold))

	row := 1
	for _, m := range relayMetrics {
		value, ok := lastMetrics[m.name]
		if !ok {
			continue
		}
		display := fmt.Sprintf("%.0f", value)
		if strings.HasSuffix(m.name, "_bytes") {
			display = utils.FormatBytes(int64(value))
		}
		table.SetCell(row, 0, tview.NewTableCell(m.label))
		table.SetCell(row, 1, tview.NewTableCell(display))
		row++
	}
}

func updateRawTable(table *tview.Table) {
	dataMu.RLock()
	defer dataMu.RUnlock()

	table.Clear()
	if lastErr != nil {
		return
	}

	names := make([]string, 0, len(lastMetrics))
	for name := range lastMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	table.SetCell(0, 0, tview.NewTableCell("Name").SetAttributes(tcell.AttrBold))
	table.SetCell(0, 1, tview.NewTableCell("Value").SetAttributes(tcell.AttrBold))
	for i, name := range names {
		table.SetCell(i+1, 0, tview.NewTableCell(name))
		table.SetCell(i+1, 1, tview.NewTableCell(fmt.Sprintf("%g", lastMetrics[name])))
	}
}
