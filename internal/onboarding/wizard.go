// Package onboarding runs the first-use setup wizard: it writes the
// initial config, optionally enables the TCP listener with a generated
// auth token, and starts the server in the background.
package onboarding

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"pulse/config"
	"pulse/internal/cli"
	"pulse/internal/credentials"
	"pulse/internal/server"
)

var (
	wizardPrimary = lipgloss.Color("#f7c0af")
	wizardFg      = lipgloss.Color("#dddddd")
)

// RunWizard walks through first-use setup. Safe to re-run; existing
// config values are kept as form defaults.
func RunWizard() error {
	configFile, err := config.GetConfigFile()
	if err != nil {
		return err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	enableTCP := cfg.TCPPort != ""
	port := cfg.TCPPort
	if port == "" {
		port = "7430"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Pulse setup").
				Description("Pulse runs a background server that streams\nresource changes to connected clients.\n\nLocal clients connect over a unix socket with no\nfurther setup. Optionally expose a TCP listener\nfor remote clients; it requires an auth token."),
			huh.NewConfirm().
				Title("Enable the TCP listener?").
				Value(&enableTCP),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("TCP port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return errors.New("enter a port between 1 and 65535")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return !enableTCP }),
	).WithTheme(wizardTheme()).WithWidth(60)

	if err := form.Run(); err != nil {
		return errors.New("cancelled")
	}

	if enableTCP {
		cfg.TCPPort = port
		if err := ensureAuthToken(); err != nil {
			return err
		}
	} else {
		cfg.TCPPort = ""
	}

	if err := config.Save(configFile, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := savePreferences(Preferences{SetupComplete: true}); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}

	base := lipgloss.NewStyle().Foreground(wizardFg)
	highlight := lipgloss.NewStyle().Foreground(wizardPrimary).Bold(true)
	fmt.Println()
	fmt.Println(base.Render(" ✔︎ Setup complete."))
	fmt.Println()
	fmt.Print(base.Render(" Run '"))
	fmt.Print(highlight.Render("pulse"))
	fmt.Print(base.Render("' to open the dashboard."))
	fmt.Println()
	fmt.Println()

	return nil
}

// ensureAuthToken generates and stores a token unless one already exists.
func ensureAuthToken() error {
	has, err := credentials.HasSecret(credentials.AuthTokenName)
	if err != nil {
		return fmt.Errorf("check keyring: %w", err)
	}
	if has {
		return nil
	}

	token, err := cli.GenerateToken()
	if err != nil {
		return err
	}
	if err := credentials.SetAuthToken(token); err != nil {
		return fmt.Errorf("store auth token: %w", err)
	}
	fmt.Printf("\nGenerated auth token (stored in keyring):\n  %s\n", token)
	return nil
}

// StartServices starts the background server if it is not already up.
func StartServices() error {
	if server.IsRunning() {
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	base := lipgloss.NewStyle().Foreground(wizardFg)
	fmt.Print(base.Render("Starting server... "))
	cmd := exec.Command(executable, "serve")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if server.IsRunning() {
			fmt.Print(base.Render("done.\n"))
			return nil
		}
	}
	return errors.New("server failed to start")
}

func wizardTheme() *huh.Theme {
	fg := wizardFg
	fgMuted := lipgloss.Color("#7f7f7f")
	bg := lipgloss.Color("#101012")
	errColor := lipgloss.Color("#bf5d47")

	theme := huh.ThemeBase16()
	base := lipgloss.NewStyle().Foreground(fg)

	theme.Focused.Base = base.MarginLeft(1)
	theme.Focused.Title = base.Foreground(wizardPrimary).Bold(true)
	theme.Focused.NoteTitle = base.Foreground(wizardPrimary).Bold(true)
	theme.Focused.Description = base
	theme.Focused.ErrorIndicator = base.Foreground(errColor)
	theme.Focused.ErrorMessage = base.Foreground(errColor)
	theme.Focused.FocusedButton = base.Background(wizardPrimary).Foreground(bg).Bold(true).Padding(0, 2)
	theme.Focused.BlurredButton = base.Foreground(fgMuted).Padding(0).MarginLeft(1)
	theme.Focused.TextInput.Cursor = base.Foreground(wizardPrimary)
	theme.Focused.TextInput.Prompt = base.Foreground(wizardPrimary)

	theme.Blurred.Base = base
	theme.Blurred.Title = base.Foreground(fgMuted)
	theme.Blurred.Description = base

	theme.Form = base

	return theme
}
