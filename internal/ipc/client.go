package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"pulse/internal/event"
)

type Client struct {
	conn net.Conn
}

// NewClient connects without authentication. Address formats:
//   - unix:///path/to/socket.sock
//   - tcp://hostname:port
//   - /path/to/socket.sock (assumes unix socket)
func NewClient(address string) (*Client, error) {
	return NewClientWithAuth(address, "")
}

// NewClientWithAuth connects and, for TCP, performs the token handshake.
func NewClientWithAuth(address, authToken string) (*Client, error) {
	var network, addr string

	switch {
	case strings.HasPrefix(address, "unix://"):
		network = "unix"
		addr = strings.TrimPrefix(address, "unix://")
	case strings.HasPrefix(address, "tcp://"):
		network = "tcp"
		addr = strings.TrimPrefix(address, "tcp://")
	default:
		network = "unix"
		addr = address
	}

	conn, err := net.DialTimeout(network, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	if network == "tcp" {
		if err := performAuthHandshake(conn, authToken); err != nil {
			conn.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	return &Client{conn: conn}, nil
}

// performAuthHandshake sends the auth token and waits for confirmation.
func performAuthHandshake(conn net.Conn, token string) error {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	if _, err := fmt.Fprintf(conn, "AUTH %s\n", token); err != nil {
		return fmt.Errorf("failed to send auth token: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read auth response: %w", err)
		}
		return fmt.Errorf("no auth response from server")
	}

	response := strings.TrimSpace(scanner.Text())
	if response != "OK" {
		return fmt.Errorf("auth rejected: %s", response)
	}
	return nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) sendRequest(req Request) (Response, error) {
	return c.sendRequestWithTimeout(req, 10*time.Second)
}

func (c *Client) sendRequestWithTimeout(req Request, timeout time.Duration) (Response, error) {
	data, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}

	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err = c.conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("write timeout: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))
	scanner := bufio.NewScanner(c.conn)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read timeout: %w", err)
		}
		return Response{}, fmt.Errorf("no response from server")
	}

	c.conn.SetDeadline(time.Time{})

	return DecodeResponse(scanner.Bytes())
}

func (c *Client) ListResources() ([]event.Resource, error) {
	resp, err := c.sendRequest(Request{Type: RequestList})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp.Resources, nil
}

func (c *Client) GetResource(id string) (event.Resource, error) {
	resp, err := c.sendRequest(Request{Type: RequestGet, ResourceID: strings.TrimSpace(id)})
	if err != nil {
		return event.Resource{}, err
	}
	if !resp.Success {
		return event.Resource{}, fmt.Errorf("%s", resp.Error)
	}
	if resp.Resource == nil {
		return event.Resource{}, fmt.Errorf("server returned no resource payload")
	}
	return *resp.Resource, nil
}

func (c *Client) CreateResource(name, body string) (event.Resource, error) {
	resp, err := c.sendRequest(Request{Type: RequestCreate, Name: name, Body: body})
	if err != nil {
		return event.Resource{}, err
	}
	if !resp.Success {
		return event.Resource{}, fmt.Errorf("%s", resp.Error)
	}
	if resp.Resource == nil {
		return event.Resource{}, fmt.Errorf("server returned no resource payload")
	}
	return *resp.Resource, nil
}

func (c *Client) UpdateResource(id, name, body string) (event.Resource, error) {
	resp, err := c.sendRequest(Request{
		Type:       RequestUpdate,
		ResourceID: strings.TrimSpace(id),
		Name:       name,
		Body:       body,
	})
	if err != nil {
		return event.Resource{}, err
	}
	if !resp.Success {
		return event.Resource{}, fmt.Errorf("%s", resp.Error)
	}
	if resp.Resource == nil {
		return event.Resource{}, fmt.Errorf("server returned no resource payload")
	}
	return *resp.Resource, nil
}

func (c *Client) DeleteResource(id string) error {
	resp, err := c.sendRequest(Request{Type: RequestDelete, ResourceID: strings.TrimSpace(id)})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func (c *Client) Status() (ServerStatus, error) {
	resp, err := c.sendRequest(Request{Type: RequestStatus})
	if err != nil {
		return ServerStatus{}, err
	}
	if !resp.Success {
		return ServerStatus{}, fmt.Errorf("%s", resp.Error)
	}
	if resp.Status == nil {
		return ServerStatus{}, fmt.Errorf("server returned no status payload")
	}
	return *resp.Status, nil
}

func (c *Client) ReloadConfig() error {
	resp, err := c.sendRequest(Request{Type: RequestReloadConfig})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func (c *Client) Shutdown() error {
	resp, err := c.sendRequest(Request{Type: RequestShutdown})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

// Watch switches the connection into streaming mode and returns a channel of
// raw wire frames, heartbeats included. The channel closes when the server
// ends the stream, the connection drops, or ctx is cancelled. After Watch
// the connection carries frames only; close the client to release it.
func (c *Client) Watch(ctx context.Context) (<-chan event.Event, error) {
	data, err := EncodeRequest(Request{Type: RequestWatch})
	if err != nil {
		return nil, err
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write watch request: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(c.conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read watch response: %w", err)
	}
	resp, err := DecodeResponse(line)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	c.conn.SetDeadline(time.Time{})

	frames := make(chan event.Event)
	decodeDone := make(chan struct{})
	go func() {
		defer close(frames)
		defer close(decodeDone)
		decoder := json.NewDecoder(reader)
		for {
			var ev event.Event
			if err := decoder.Decode(&ev); err != nil {
				return
			}
			select {
			case frames <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the decoder so the frame goroutine exits.
			c.conn.Close()
		case <-decodeDone:
			// Server ended the stream; nothing left to unblock.
		}
	}()

	return frames, nil
}
