package main

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/config"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/logging"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/server"
	"github.com/sarthakpati/pytorch-lightning-bolts/internal/tui"
)

func cmdServe(args []string) {
	fs, project := newFlagSet("serve")
	addr := fs.String("addr", "", "listen address (defaults to server settings)")
	fs.Parse(args)

	cfg := mustConfig(*project)
	if err := config.InitProjectDir(cfg.ProjectDir); err != nil {
		die("init %s: %v", config.ProjectDirName, err)
	}
	if override := strings.TrimSpace(*addr); override != "" {
		cfg.Runner.Server.Addr = override
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(cfg, mustEngine(cfg),
		server.WithLogger(logging.For("server")),
		server.WithDefinitionLoader(func() (pipeline.Definition, error) {
			return loadDefinition(cfg, "")
		}),
	)
	if err := srv.Serve(); err != nil {
		die("serve: %v", err)
	}
}

func cmdWatch(args []string) {
	fs, project := newFlagSet("watch")
	fs.Parse(args)

	app, err := tui.NewApp(resolveProjectDir(*project))
	if err != nil {
		die("watch: %v", err)
	}
	program := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		die("watch: %v", err)
	}
}
