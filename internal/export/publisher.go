package export

import (
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/csistudio/internal/monitoring"
)

// WriterPublisher writes each payload to an io.WriteCloser in one call.
type WriterPublisher struct {
	W    io.WriteCloser
	Name string
}

func (p *WriterPublisher) Publish(payload []byte) error {
	_, err := p.W.Write(payload)
	return err
}

func (p *WriterPublisher) Close() error   { return p.W.Close() }
func (p *WriterPublisher) String() string { return p.Name }

// CommandPublisher starts a classifier process and writes payloads to its
// standard input.
type CommandPublisher struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// StartCommand launches name with args. The process inherits stdout and
// stderr so its classification output reaches the host's terminal.
func StartCommand(stdout, stderr io.Writer, name string, args ...string) (*CommandPublisher, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open classifier stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start classifier %s: %w", name, err)
	}
	monitoring.Logf("Started classifier %s (pid %d)", name, cmd.Process.Pid)
	return &CommandPublisher{cmd: cmd, stdin: stdin}, nil
}

func (p *CommandPublisher) Publish(payload []byte) error {
	_, err := p.stdin.Write(payload)
	return err
}

// Close closes stdin and waits for the classifier to exit.
func (p *CommandPublisher) Close() error {
	if err := p.stdin.Close(); err != nil {
		return err
	}
	return p.cmd.Wait()
}

func (p *CommandPublisher) String() string { return "exec://" + p.cmd.Path }

// NATSPublisher publishes each payload as one message on a subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// DialNATS connects to url with reconnects enabled.
func DialNATS(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	conn, err := nats.Connect(url,
		nats.Name("csistudio-export"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				monitoring.Logf("NATS export disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			monitoring.Logf("NATS export reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(payload []byte) error {
	return p.conn.Publish(p.subject, payload)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

func (p *NATSPublisher) String() string { return "nats://" + p.subject }
