package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openprism/desktop/internal/diagnostics"
	"github.com/openprism/desktop/internal/supervisor"
)

// RenderReport formats a toolchain report for the terminal.
func RenderReport(r diagnostics.Report) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("OpenPrism toolchain"))
	b.WriteString("\n")
	row(&b, "platform", fmt.Sprintf("%s/%s", r.Platform, r.Arch))
	row(&b, "runtime", r.RuntimeVersion)
	row(&b, "host", r.Hostname)
	row(&b, "data dir", r.DataDir)

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("LaTeX engines"))
	b.WriteString("\n")
	for _, e := range r.Latex {
		if e.OK {
			row(&b, e.Name, okStyle.Render("ok")+" "+e.Version)
		} else {
			row(&b, e.Name, failStyle.Render("missing")+" "+dimStyle.Render(e.Error))
		}
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Python"))
	b.WriteString("\n")
	if r.Python.OK {
		row(&b, "interpreter", okStyle.Render(r.Python.Version)+" "+dimStyle.Render(r.Python.Executable))
	} else {
		row(&b, "interpreter", failStyle.Render("not found"))
	}
	names := make([]string, 0, len(r.Python.Packages))
	for name := range r.Python.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r.Python.Packages[name] {
			row(&b, name, okStyle.Render("installed"))
		} else {
			row(&b, name, warnStyle.Render("missing"))
		}
	}

	status := okStyle.Render("ready")
	if !r.OK {
		status = failStyle.Render("no LaTeX engine available")
	}
	b.WriteString("\n")
	row(&b, "status", status)
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderHistory formats lifecycle events, one per line.
func RenderHistory(events []supervisor.Event) string {
	if len(events) == 0 {
		return dimStyle.Render("no backend lifecycle events recorded")
	}
	var b strings.Builder
	for _, ev := range events {
		kind := string(ev.Kind)
		switch ev.Kind {
		case supervisor.EventReady, supervisor.EventExit:
			kind = okStyle.Render(kind)
		case supervisor.EventEscalated, supervisor.EventAnomaly:
			kind = failStyle.Render(kind)
		}
		fmt.Fprintf(&b, "%s  %-10s pid=%d port=%d %s\n",
			dimStyle.Render(ev.At.Local().Format("2006-01-02 15:04:05")),
			kind, ev.PID, ev.Port, ev.Detail)
	}
	return strings.TrimRight(b.String(), "\n")
}

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}
