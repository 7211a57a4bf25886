// Package watch is a terminal client for the dashboard event stream. It
// connects to /ws and prints one line per event.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/realtime"
)

var (
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	idStyle     = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

	statusStyles = map[models.MachineStatus]lipgloss.Style{
		models.MachineRunning:     lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		models.MachineIdle:        lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		models.MachineMaintenance: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		models.MachineOffline:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// Event is a received stream message. Data is kept raw until its type is
// known.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type Options struct {
	// URL of the control plane, e.g. http://127.0.0.1:5000.
	URL string
	// Token is sent as ?token= for servers with ws_require_auth.
	Token string
	Out   io.Writer
}

// StreamURL turns a control-plane base URL into its /ws URL.
func StreamURL(base, token string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Run prints events until ctx ends or the server closes the stream.
func Run(ctx context.Context, opts Options) error {
	target, err := StreamURL(opts.URL, opts.Token)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		fmt.Fprintln(opts.Out, Format(ev))
	}
}

// Format renders one event as a single line.
func Format(ev Event) string {
	ts := timeStyle.Render(ev.Timestamp.Local().Format("15:04:05"))
	switch ev.Type {
	case realtime.TypeConnection:
		var data struct {
			Message string `json:"message"`
		}
		json.Unmarshal(ev.Data, &data)
		return ts + " " + headerStyle.Render(data.Message)

	case realtime.TypeMachineUpdate:
		var data map[string]any
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return ts + " malformed machine_update"
		}
		id, _ := data["machineId"].(string)
		return ts + " " + idStyle.Render(id) + " " + formatFields(data)

	case realtime.TypeDashboardUpdate, realtime.TypeStatsUpdate:
		var s models.FleetSnapshot
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return ts + " malformed " + ev.Type
		}
		line := fmt.Sprintf("%s %s active %d/%d  efficiency %.2f%%  quality %.2f%%  jobs today %d",
			ts, headerStyle.Render("fleet"), s.ActiveMachines, s.TotalMachines,
			s.AverageEfficiency, s.QualityRate, s.JobsToday)
		if ev.Type == realtime.TypeDashboardUpdate {
			line += fmt.Sprintf("  alerts %d", s.PendingAlerts)
		}
		return line

	case realtime.TypeMachinesUpdate:
		var machines []models.Machine
		if err := json.Unmarshal(ev.Data, &machines); err != nil {
			return ts + " malformed machines_update"
		}
		parts := make([]string, 0, len(machines))
		for _, m := range machines {
			parts = append(parts, m.ID+"="+renderStatus(m.Status))
		}
		return ts + " " + headerStyle.Render("machines") + " " + strings.Join(parts, " ")
	}
	return ts + " " + ev.Type + " " + string(ev.Data)
}

// formatFields renders every field but machineId as key=value, sorted by key.
func formatFields(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != "machineId" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(data[k])
		if k == "status" {
			v = renderStatus(models.MachineStatus(v))
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func renderStatus(s models.MachineStatus) string {
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}
