package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/engine"
)

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if !m.ready {
		return fmt.Sprintf("%s Initializing...\n", m.spinner.View())
	}

	var b strings.Builder

	title := titleStyle.Render("cherrysim")
	b.WriteString(title)
	b.WriteString("\n")

	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")

	b.WriteString(m.renderStats())
	b.WriteString("\n")

	nodesBox := boxStyle.Width(m.width - 4).Render(m.viewport.View())
	b.WriteString(nodesBox)
	b.WriteString("\n")

	if m.errorMessage != "" {
		b.WriteString(errorStyle.Render("Error: " + m.errorMessage))
		b.WriteString("\n")
	}

	help := helpStyle.Render("q: quit • p/space: pause • c: clear error • ↑/↓: scroll")
	b.WriteString(help)

	return b.String()
}

func (m Model) renderStatusBar() string {
	status := StatusIndicator(!m.paused)

	tickInfo := ""
	if m.eng != nil {
		tickInfo = statLabelStyle.Render(" | Tick: ") + statValueStyle.Render(fmt.Sprintf("%d", m.eng.TickCount()))
		tickInfo += statLabelStyle.Render(" | SimTime: ") + statValueStyle.Render(fmt.Sprintf("%dms", m.eng.SimTimeMs()))
	}

	uptime := time.Since(m.startTime).Round(time.Second)
	uptimeInfo := statLabelStyle.Render(" | Uptime: ") + statValueStyle.Render(uptime.String())

	return status + tickInfo + uptimeInfo
}

func (m Model) renderStats() string {
	nodes := statLabelStyle.Render("Nodes: ") + statValueStyle.Render(fmt.Sprintf("%d", len(m.rows)))

	clusters := make(map[uint32]struct{})
	active := 0
	var sent, routed uint64
	for _, r := range m.rows {
		clusters[r.ClusterID] = struct{}{}
		active += r.ActiveConnections
		sent += r.Sent
		routed += r.Routed
	}

	clusterInfo := statLabelStyle.Render(" | Clusters: ") + statValueStyle.Render(fmt.Sprintf("%d", len(clusters)))
	connInfo := statLabelStyle.Render(" | Active conns: ") + statValueStyle.Render(fmt.Sprintf("%d", active))
	sentInfo := statLabelStyle.Render(" | Sent: ") + statValueStyle.Render(fmt.Sprintf("%d", sent))
	routedInfo := statLabelStyle.Render(" | Routed: ") + statValueStyle.Render(fmt.Sprintf("%d", routed))

	return nodes + clusterInfo + connInfo + sentInfo + routedInfo
}

func (m Model) renderRows() string {
	if len(m.rows) == 0 {
		return statLabelStyle.Render("No nodes. Waiting for the first snapshot...")
	}

	var b strings.Builder
	header := fmt.Sprintf("%-6s %-8s %-6s %10s %10s %6s %10s %10s",
		"ID", "SERIAL", "ASSET", "X", "Y", "CONNS", "CLUSTER", "SIZE")
	b.WriteString(messageTypeStyle.Render(header))
	b.WriteString("\n")

	rows := m.rows
	if len(rows) > MaxRows {
		rows = rows[:MaxRows]
	}
	for _, r := range rows {
		b.WriteString(m.renderRow(r))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) renderRow(r engine.NodeSummary) string {
	asset := " "
	if r.Asset {
		asset = "*"
	}
	line := fmt.Sprintf("%-6d %-8d %-6s %10.2f %10.2f %6d %10d %10d",
		r.ID, r.Serial, asset, r.Position.X, r.Position.Y, r.ActiveConnections, r.ClusterID, r.ClusterSize)
	return messageContentStyle.Render(line)
}
