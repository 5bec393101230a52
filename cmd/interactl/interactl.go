// Program interactl is a command-line utility for talking to interactive
// protocol servers: calling methods, firing discard methods, and tailing
// server notifications. It also bundles a demo server for local testing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	interactive "github.com/Cloud-System-Implementation/StreamingClientLibrary"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/events"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/servertest"
	"github.com/Cloud-System-Implementation/StreamingClientLibrary/transport"
)

var globalFlags struct {
	Config    string        `flag:"config,Path of a TOML profile (default $INTERACTL_CONFIG)"`
	URL       string        `flag:"url,Endpoint URL (overrides the profile)"`
	Token     string        `flag:"token,Bearer credential (overrides the profile)"`
	VersionID string        `flag:"version-id,Interactive version identifier (overrides the profile)"`
	ShareCode string        `flag:"share-code,Share code for the version (overrides the profile)"`
	Timeout   time.Duration `flag:"timeout,Timeout per call (overrides the profile)"`
	Verbose   bool          `flag:"v,Enable verbose connection logging"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Usage: `<command> [arguments]
help [<command>]`,
		Help: `Talk to an interactive protocol server.

Connection settings are read from a TOML profile named by --config or by
the INTERACTL_CONFIG environment variable, and individual settings may be
overridden by flags. A profile looks like:

   url = "wss://interactive.example.org/gameClient"
   token = "OAuth xyzzy"
   version_id = "7654"
   timeout = "15s"`,

		SetFlags: command.Flags(flax.MustBind, &globalFlags),

		Commands: []*command.C{
			{
				Name:  "call",
				Usage: "<method> [<params-json>]",
				Help: `Call a method and print its reply.

The optional argument is a JSON object giving the method parameters.
The result is printed to stdout as indented JSON. A server-reported
error is reported with its code and message.`,

				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runCall,
			},
			{
				Name:  "send",
				Usage: "<method> [<params-json>]",
				Help:  "Send a method with the discard flag set, expecting no reply.",

				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runSend,
			},
			{
				Name:  "listen",
				Usage: "<method>",
				Help: `Print notifications of the named method as they arrive.

Each notification is written to stdout as a single JSON line until the
connection drops or the program is interrupted. With --pluck, the value
at the given path is extracted from each payload instead.`,

				SetFlags: command.Flags(flax.MustBind, &listenFlags),
				Run:      runListen,
			},
			{
				Name: "demo-server",
				Help: `Run a local demo server for testing.

The server speaks the interactive protocol over a websocket, answers
"echo" calls with their own parameters, serves a fixed scene list for
"getScenes", and pushes an "onTick" notification every few seconds.`,

				SetFlags: command.Flags(flax.MustBind, &serverFlags),
				Run:      runDemoServer,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

var callFlags struct {
	NoReady bool `flag:"no-ready,Skip the readiness handshake before sending"`
}

var listenFlags = struct {
	NoReady bool   `flag:"no-ready,Skip the readiness handshake before listening"`
	Pluck   string `flag:"pluck,Extract the value at this path from each payload"`
	Buffer  int    `flag:"buffer,Notifications to buffer while printing"`
}{Buffer: 64}

var serverFlags = struct {
	Listen string `flag:"listen,Address to listen on"`
}{Listen: "localhost:8437"}

func newLogger(verbose bool) zerolog.Logger {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	if verbose {
		return log.Level(zerolog.TraceLevel)
	}
	return log.Level(zerolog.InfoLevel)
}

// dialSession connects a client to the configured endpoint and, unless told
// otherwise, completes the readiness handshake. The caller owns the client.
func dialSession(env *command.Env, ready bool) (*interactive.Client, settings, error) {
	set, err := loadSettings()
	if err != nil {
		return nil, set, err
	}
	if set.URL == "" {
		return nil, set, errors.New("no endpoint URL (use --url or a profile)")
	}
	c := interactive.New(
		interactive.WithDial(transport.Dial),
		interactive.WithLogger(newLogger(set.Verbose)),
	)
	ctx, cancel := context.WithTimeout(env.Context(), set.Timeout)
	defer cancel()
	if err := c.Connect(ctx, set.endpoint()); err != nil {
		return nil, set, fmt.Errorf("connect: %w", err)
	}
	if ready {
		if err := c.Ready(ctx); err != nil {
			c.Close()
			return nil, set, fmt.Errorf("ready: %w", err)
		}
	}
	return c, set, nil
}

// parseParams decodes the optional trailing params-json argument.
func parseParams(args []string) (interactive.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var params interactive.Params
	if err := json.Unmarshal([]byte(args[0]), &params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return params, nil
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 || len(env.Args) > 2 {
		return env.Usagef("required: <method> [<params-json>]")
	}
	params, err := parseParams(env.Args[1:])
	if err != nil {
		return err
	}
	c, set, err := dialSession(env, !callFlags.NoReady)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(env.Context(), set.Timeout)
	defer cancel()
	rsp, err := c.SendAndListen(ctx, env.Args[0], params)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rsp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSend(env *command.Env) error {
	if len(env.Args) == 0 || len(env.Args) > 2 {
		return env.Usagef("required: <method> [<params-json>]")
	}
	params, err := parseParams(env.Args[1:])
	if err != nil {
		return err
	}
	c, _, err := dialSession(env, !callFlags.NoReady)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Send(env.Args[0], params)
}

func runListen(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("required: <method>")
	}
	c, _, err := dialSession(env, !listenFlags.NoReady)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(env.Context(), os.Interrupt)
	defer stop()

	// End the stream when the connection is lost, keeping its verdict.
	werr := make(chan error, 1)
	go func() {
		werr <- c.Wait()
		stop()
	}()

	for evt := range events.Stream(ctx, c, env.Args[0], listenFlags.Buffer) {
		data, err := json.Marshal(evt.Params)
		if err != nil {
			continue
		}
		if listenFlags.Pluck != "" {
			fmt.Println(gjson.GetBytes(data, listenFlags.Pluck).String())
		} else {
			fmt.Printf("%s %s\n", evt.Method, data)
		}
	}
	select {
	case err := <-werr:
		return err
	default:
		return nil // interrupted by the user
	}
}

func runDemoServer(env *command.Env) error {
	log := newLogger(globalFlags.Verbose)
	srv := servertest.New(servertest.WithLogger(log)).
		Handle("echo", func(params interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return params, nil
		}).
		Handle("getScenes", func(interactive.Params) (interactive.Params, *interactive.ReplyError) {
			return interactive.Params{"scenes": []any{
				map[string]any{"sceneID": "default", "controls": []any{}},
				map[string]any{"sceneID": "lobby", "controls": []any{}},
			}}, nil
		})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(env.Context(), os.Interrupt)
	defer stop()

	hs := &http.Server{Addr: serverFlags.Listen, Handler: srv.Handler()}
	g := taskgroup.New(nil)
	g.Go(func() error {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for n := 1; ; n++ {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				srv.Push("onTick", interactive.Params{"tick": n})
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		return hs.Shutdown(context.Background())
	})

	log.Info().Str("addr", serverFlags.Listen).Msg("demo server listening")
	err := hs.ListenAndServe()
	stop()
	g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
