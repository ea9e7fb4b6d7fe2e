package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"pulse/config"
	"pulse/internal/credentials"
	"pulse/internal/ipc"
)

// Connect resolves the server address and opens a client. PULSE_ADDR
// overrides (unix:///path or tcp://host:port); a TCP address picks the
// auth token up from the keyring, falling back to the config file.
func Connect() (*ipc.Client, error) {
	if addr := strings.TrimSpace(os.Getenv("PULSE_ADDR")); addr != "" {
		token := ""
		if strings.HasPrefix(addr, "tcp://") {
			var err error
			token, err = resolveAuthToken()
			if err != nil {
				return nil, err
			}
		}
		return ipc.NewClientWithAuth(addr, token)
	}

	socketPath, err := config.GetSocketPath()
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(socketPath)
}

func resolveAuthToken() (string, error) {
	token, err := credentials.GetAuthToken()
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, credentials.ErrNotFound) {
		return "", err
	}

	configFile, err := config.GetConfigFile()
	if err != nil {
		return "", err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return "", err
	}
	if cfg.AuthToken == "" {
		return "", fmt.Errorf("no auth token configured; run `pulse token set`")
	}
	return cfg.AuthToken, nil
}

func ListResources() error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	resources, err := c.ListResources()
	if err != nil {
		return err
	}
	if len(resources) == 0 {
		fmt.Println("No resources.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUPDATED")
	for _, r := range resources {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Name, r.UpdatedAt)
	}
	return w.Flush()
}

func GetResource(id string) error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	r, err := c.GetResource(id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func CreateResource(name, body string) error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	r, err := c.CreateResource(name, body)
	if err != nil {
		return err
	}
	fmt.Printf("Created %s (%s)\n", r.Name, r.ID)
	return nil
}

func UpdateResource(id, name, body string) error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	r, err := c.UpdateResource(id, name, body)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s (%s)\n", r.Name, r.ID)
	return nil
}

func DeleteResource(id string) error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.DeleteResource(id); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", id)
	return nil
}

func ShowStatus() error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		return err
	}
	fmt.Printf("Resources:   %d\n", status.Resources)
	fmt.Printf("Subscribers: %d\n", status.Subscribers)
	fmt.Printf("Uptime:      %ds\n", status.UptimeSeconds)
	return nil
}

// WatchEvents streams raw wire frames to stdout until interrupted. With
// showPings the keep-alive frames are printed too; by default only real
// events appear, matching what an application observer would see.
func WatchEvents(showPings bool) error {
	c, err := Connect()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	frames, err := c.Watch(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Watching for events (ctrl-c to stop)...")
	for ev := range frames {
		if ev.IsPing() && !showPings {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Println(string(data))
	}
	return nil
}
