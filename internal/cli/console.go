package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rudransh-shrivastava/peer-sync/internal/event"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
	"github.com/rudransh-shrivastava/peer-sync/internal/session"
)

var errQuit = errors.New("quit")

// controller is the part of node.Node the console drives.
type controller interface {
	StartAdvertising(ctx context.Context) error
	StartBrowsing(ctx context.Context) error
	Join(ctx context.Context, id peer.ID) error
	SetLocalValue(ctx context.Context, v float64) error
	Peers(ctx context.Context) ([]peer.Info, error)
	Connections(ctx context.Context) ([]session.PeerConnection, error)
	Value(ctx context.Context) (float64, error)
}

type console struct {
	node controller
	out  io.Writer
}

func newConsole(n controller, out io.Writer) *console {
	return &console{node: n, out: out}
}

// run reads commands from in until "quit" or ctx is done. It returns io.EOF
// when in runs dry.
func (c *console) run(ctx context.Context, in io.Reader) error {
	c.printHelp()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		err := c.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		c.printHelp()
		return nil

	case "advertise", "host":
		if err := c.node.StartAdvertising(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "advertising, waiting for peers to join")
		return nil

	case "browse":
		if err := c.node.StartBrowsing(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "browsing for peers")
		return nil

	case "peers":
		return c.printPeers(ctx)

	case "status":
		return c.printConnections(ctx)

	case "join":
		if len(args) != 1 {
			return fmt.Errorf("usage: join <number|id-prefix>")
		}
		id, err := c.resolvePeer(ctx, args[0])
		if err != nil {
			return err
		}
		if err := c.node.Join(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "invited %s\n", id.Short())
		return nil

	case "set":
		if len(args) != 1 {
			return fmt.Errorf("usage: set <value>")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[0], err)
		}
		return c.node.SetLocalValue(ctx, v)

	case "value", "get":
		v, err := c.node.Value(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%g\n", v)
		return nil

	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
}

// resolvePeer accepts a 1-based index into the peers listing or a unique id
// prefix. Anything else is handed to the node unchanged.
func (c *console) resolvePeer(ctx context.Context, arg string) (peer.ID, error) {
	peers, err := c.node.Peers(ctx)
	if err != nil {
		return "", err
	}

	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(peers) {
		return peers[n-1].ID, nil
	}

	var matches []peer.ID
	for _, p := range peers {
		if strings.HasPrefix(string(p.ID), arg) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return peer.ID(arg), nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d peers", arg, len(matches))
	}
}

func (c *console) printPeers(ctx context.Context) error {
	peers, err := c.node.Peers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "no peers found, try browse")
		return nil
	}
	for i, p := range peers {
		fmt.Fprintf(c.out, "%2d  %-20s %s\n", i+1, p.Name, p.ID)
	}
	return nil
}

func (c *console) printConnections(ctx context.Context) error {
	conns, err := c.node.Connections(ctx)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "no session peers")
		return nil
	}
	for _, pc := range conns {
		fmt.Fprintf(c.out, "%-20s %-8s %s\n", pc.Peer.Name, pc.Peer.ID.Short(), pc.State)
	}
	return nil
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `commands:
  advertise        start a session and make this device visible
  browse           look for advertising devices
  peers            list discovered devices
  join <n|id>      start a session with a discovered device
  set <value>      change the shared value
  value            print the shared value
  status           list session peers and their state
  quit             exit
`)
}

// watch renders node updates until the channel closes. Values are drawn on s
// when it is set and printed as lines otherwise.
func (c *console) watch(updates <-chan event.Event, s *slider) {
	for ev := range updates {
		switch e := ev.(type) {
		case event.PeerFound:
			fmt.Fprintf(c.out, "\nfound %s\n", e.Peer)
		case event.PeerLost:
			fmt.Fprintf(c.out, "\nlost %s\n", e.ID.Short())
		case event.DiscoveryFailed:
			fmt.Fprintf(c.out, "\n%s failed: %v\n", e.Op, e.Err)
		case event.StateChanged:
			fmt.Fprintf(c.out, "\n%s is %s\n", e.Peer, e.State)
		case event.ValueChanged:
			if s != nil {
				s.Render(e.Value, e.Remote)
				continue
			}
			origin := "local"
			if e.Remote {
				origin = "remote"
			}
			fmt.Fprintf(c.out, "value %g (%s)\n", e.Value, origin)
		}
	}
}
