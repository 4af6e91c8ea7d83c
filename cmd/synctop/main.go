// Command synctop shows a terminal's sync backlog and lets the operator
// force a sweep or a catalog pull.
package main

import (
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type settings struct {
	APIURL   string        `envconfig:"SYNCTOP_API_URL" default:"http://127.0.0.1:8080"`
	Interval time.Duration `envconfig:"SYNCTOP_INTERVAL" default:"2s"`
}

func main() {
	_ = godotenv.Load()

	var s settings
	if err := envconfig.Process("", &s); err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(newAPIClient(s.APIURL), s.Interval))
	if _, err := p.Run(); err != nil {
		slog.Error("failed to run TUI", "error", err)
		os.Exit(1)
	}
}
