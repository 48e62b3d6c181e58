package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/c360studio/semthink/plugin"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// installPlugins loads each plugin's config file in dependency order and
// registers its handlers. It returns the component configs of every
// installed handler, keyed by component name.
func installPlugins(registry plugin.RegistryInterface, plugins []plugin.Plugin, dir string, logger *slog.Logger) (map[string]json.RawMessage, error) {
	ordered, err := plugin.ResolveOrder(plugins)
	if err != nil {
		return nil, fmt.Errorf("resolve plugin order: %w", err)
	}

	configs := make(map[string]json.RawMessage)
	for _, p := range ordered {
		d := p.Descriptor()
		if !d.Enabled {
			logger.Info("Plugin disabled", "plugin", d.Name)
			continue
		}

		loaded, err := plugin.LoadConfig(dir, d, logger)
		if err != nil {
			return nil, fmt.Errorf("load %s config: %w", d.Name, err)
		}
		if !loaded.Enabled() {
			logger.Info("Plugin disabled by config file", "plugin", d.Name, "path", loaded.Path)
			continue
		}

		names, err := plugin.Install(registry, p)
		if err != nil {
			return nil, fmt.Errorf("install %s: %w", d.Name, err)
		}

		if c, ok := p.(plugin.Configurable); ok {
			pluginConfigs, err := c.ComponentConfigs(loaded)
			if err != nil {
				return nil, fmt.Errorf("configure %s: %w", d.Name, err)
			}
			for _, name := range names {
				if raw, ok := pluginConfigs[name]; ok {
					configs[name] = raw
				}
			}
		}

		logger.Info("Plugin installed",
			"plugin", d.Name,
			"version", d.Version,
			"components", names,
			"config", loaded.Path,
			"migrated", loaded.Migrated)
	}
	return configs, nil
}

func pluginsCmd(pluginsDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and configure plugins",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List plugins in load order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ordered, err := plugin.ResolveOrder(plugin.Registered())
			if err != nil {
				return err
			}
			renderPluginTable(cmd.OutOrStdout(), ordered)
			return nil
		},
	})

	var show bool
	configCmd := &cobra.Command{
		Use:   "config <name>",
		Short: "Create or migrate a plugin's config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envCfg, err := loadEnv()
			if err != nil {
				return err
			}
			dir := envCfg.PluginsDir
			if cmd.Flags().Changed("plugins-dir") {
				dir = *pluginsDir
			}
			return writePluginConfig(cmd.OutOrStdout(), args[0], dir, show)
		},
	}
	configCmd.Flags().BoolVar(&show, "show", false, "Print the resulting config file")
	cmd.AddCommand(configCmd)

	return cmd
}

func writePluginConfig(w io.Writer, name, dir string, show bool) error {
	p, ok := plugin.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown plugin %q", name)
	}

	d := p.Descriptor()
	loaded, err := plugin.LoadConfig(dir, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}

	switch {
	case loaded.Created:
		fmt.Fprintf(w, "created %s\n", loaded.Path)
	case loaded.Migrated:
		fmt.Fprintf(w, "migrated %s from %s to %s (backup: %s.bak)\n",
			loaded.Path, loaded.PreviousVersion, d.ConfigSchema.Version(), loaded.Path)
	default:
		fmt.Fprintf(w, "%s is up to date\n", loaded.Path)
	}

	if show {
		data, err := plugin.RenderConfig(d.ConfigSchema, loaded.Values)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s", data)
	}
	return nil
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	enabledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderPluginTable prints one row per plugin in load order.
func renderPluginTable(w io.Writer, plugins []plugin.Plugin) {
	if len(plugins) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No plugins registered."))
		return
	}

	headers := []string{"NAME", "VERSION", "ENABLED", "DEPENDS ON", "HANDLERS"}
	rows := make([][]string, 0, len(plugins))
	for _, p := range plugins {
		d := p.Descriptor()

		var handlers []string
		for _, h := range p.Components() {
			handlers = append(handlers, h.Info.Name)
		}

		deps := "-"
		if len(d.Dependencies) > 0 {
			deps = strings.Join(d.Dependencies, ", ")
		}

		enabled := "no"
		if d.Enabled {
			enabled = "yes"
		}
		rows = append(rows, []string{d.Name, d.Version, enabled, deps, strings.Join(handlers, ", ")})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	cell := func(i int, s string, style lipgloss.Style) string {
		return style.Width(widths[i] + 2).Render(s)
	}

	var header []string
	for i, h := range headers {
		header = append(header, cell(i, h, headerStyle))
	}
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, header...))

	for _, row := range rows {
		var cells []string
		for i, value := range row {
			style := lipgloss.NewStyle()
			if i == 2 {
				style = disabledStyle
				if value == "yes" {
					style = enabledStyle
				}
			}
			cells = append(cells, cell(i, value, style))
		}
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
}
