package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klish-project/klish/core/ktp"
)

const testScheme = `{
  "views": [
    {
      "name": "root",
      "prompt": "router> ",
      "commands": [
        {
          "name": "echo",
          "help": "print a line",
          "actions": [
            {"sym": "shell", "script": "echo hello", "update_retcode": true}
          ]
        },
        {
          "name": "enable",
          "help": "enter config view",
          "view": "config"
        }
      ]
    },
    {
      "name": "config",
      "prompt": "router(config)> ",
      "commands": [
        {
          "name": "exit",
          "help": "leave config view",
          "pop": true
        }
      ]
    }
  ]
}`

// restoreScheme is §8 scenario 6: "enter system" pushes the system view,
// "reload" inside it is restore=true, and observing the path after reload
// must show a single root level again.
const restoreScheme = `{
  "views": [
    {
      "name": "root",
      "prompt": "router> ",
      "commands": [
        {
          "name": "enter",
          "help": "enter a nested view",
          "params": [{"name": "system", "value": "system"}],
          "view": "system"
        }
      ]
    },
    {
      "name": "system",
      "prompt": "router(system)> ",
      "commands": [
        {
          "name": "reload",
          "help": "reload and return to root",
          "restore": true,
          "actions": [
            {"sym": "shell", "script": "true", "update_retcode": true}
          ]
        }
      ]
    }
  ]
}`

func startDaemonWithScheme(t *testing.T, schemeJSON string) (socketPath string, stop func()) {
	t.Helper()
	dir := t.TempDir()
	schemePath := filepath.Join(dir, "scheme.json")
	if err := os.WriteFile(schemePath, []byte(schemeJSON), 0o644); err != nil {
		t.Fatalf("write scheme: %v", err)
	}

	d, err := New(Config{SchemePath: schemePath, SocketPath: filepath.Join(dir, "klish.sock"), RootView: "root"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sockPath := filepath.Join(dir, "klish.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Serve(ctx, ln)
		close(done)
	}()

	return sockPath, func() {
		cancel()
		<-done
		d.Shutdown()
	}
}

func startTestDaemon(t *testing.T) (socketPath string, stop func()) {
	t.Helper()
	return startDaemonWithScheme(t, testScheme)
}

func dialTest(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		t.Fatalf("ResolveUnixAddr: %v", err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestAuthHandshakeIssuesPromptAndHotkeys(t *testing.T) {
	sockPath, stop := startTestDaemon(t)
	defer stop()

	conn := dialTest(t, sockPath)
	defer conn.Close()

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdAuth, 0, ktp.StringParam(ktp.ParamWinch, "80x24"))); err != nil {
		t.Fatalf("Encode AUTH: %v", err)
	}

	ack, err := ktp.Decode(conn)
	if err != nil {
		t.Fatalf("Decode AUTH_ACK: %v", err)
	}
	if ack.Cmd != ktp.CmdAuthAck {
		t.Fatalf("Cmd = %s, want AUTH_ACK", ack.Cmd)
	}
	if ack.Status.Has(ktp.StatusError) {
		t.Fatalf("AUTH_ACK carries StatusError")
	}
	p, ok := ack.Param(ktp.ParamPrompt)
	if !ok || string(p.Value) != "router> " {
		t.Fatalf("PROMPT = %q, ok=%v, want \"router> \"", p.Value, ok)
	}
}

func TestUnauthorizedConnectionRejectsNonAuth(t *testing.T) {
	sockPath, stop := startTestDaemon(t)
	defer stop()

	conn := dialTest(t, sockPath)
	defer conn.Close()

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdCmd, 0, ktp.StringParam(ktp.ParamLine, "echo"))); err != nil {
		t.Fatalf("Encode CMD: %v", err)
	}

	ack, err := ktp.Decode(conn)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ack.Cmd != ktp.CmdAuthAck || !ack.Status.Has(ktp.StatusError) {
		t.Fatalf("got %s status=%v, want AUTH_ACK with StatusError", ack.Cmd, ack.Status)
	}
}

func TestCmdRunsShellActionAndReturnsRetcode(t *testing.T) {
	sockPath, stop := startTestDaemon(t)
	defer stop()

	conn := dialTest(t, sockPath)
	defer conn.Close()

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdAuth, 0)); err != nil {
		t.Fatalf("Encode AUTH: %v", err)
	}
	if _, err := ktp.Decode(conn); err != nil {
		t.Fatalf("Decode AUTH_ACK: %v", err)
	}

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdCmd, 0, ktp.StringParam(ktp.ParamLine, "echo"))); err != nil {
		t.Fatalf("Encode CMD: %v", err)
	}

	partial, err := ktp.Decode(conn)
	if err != nil {
		t.Fatalf("Decode partial CMD_ACK: %v", err)
	}
	if partial.Cmd != ktp.CmdCmdAck || !partial.Status.Has(ktp.StatusIncompleted) {
		t.Fatalf("got %s status=%v, want partial CMD_ACK", partial.Cmd, partial.Status)
	}

	var sawStdout bool
	var final *ktp.Message
	for i := 0; i < 10; i++ {
		msg, err := ktp.Decode(conn)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if msg.Cmd == ktp.CmdStdout {
			sawStdout = true
			continue
		}
		if msg.Cmd == ktp.CmdCmdAck {
			final = msg
			break
		}
	}
	if !sawStdout {
		t.Error("never saw a STDOUT message")
	}
	if final == nil {
		t.Fatal("never saw the final CMD_ACK")
	}
	if final.Status.Has(ktp.StatusIncompleted) {
		t.Error("final CMD_ACK still carries StatusIncompleted")
	}
	rc, ok := final.Param(ktp.ParamRetcode)
	if !ok || len(rc.Value) != 1 || rc.Value[0] != 0 {
		t.Fatalf("RETCODE = %v, ok=%v, want [0]", rc.Value, ok)
	}
}

func TestEnablePushesConfigView(t *testing.T) {
	sockPath, stop := startTestDaemon(t)
	defer stop()

	conn := dialTest(t, sockPath)
	defer conn.Close()

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdAuth, 0)); err != nil {
		t.Fatalf("Encode AUTH: %v", err)
	}
	if _, err := ktp.Decode(conn); err != nil {
		t.Fatalf("Decode AUTH_ACK: %v", err)
	}

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdCmd, 0, ktp.StringParam(ktp.ParamLine, "enable"))); err != nil {
		t.Fatalf("Encode CMD: %v", err)
	}

	var final *ktp.Message
	for i := 0; i < 10; i++ {
		msg, err := ktp.Decode(conn)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if msg.Cmd == ktp.CmdCmdAck && !msg.Status.Has(ktp.StatusIncompleted) {
			final = msg
			break
		}
	}
	if final == nil {
		t.Fatal("never saw the final CMD_ACK")
	}
	p, ok := final.Param(ktp.ParamPrompt)
	if !ok || string(p.Value) != "router(config)> " {
		t.Fatalf("PROMPT = %q, ok=%v, want the config view's prompt", p.Value, ok)
	}
}

// TestReloadRestoresToRootView is §8 scenario 6 end-to-end: starting at
// root, "enter system" then "reload" must leave the path at a single root
// level, not still sitting in system (a restore=true command truncates to
// the defining view's own matched depth, not its own matched depth).
func TestReloadRestoresToRootView(t *testing.T) {
	sockPath, stop := startDaemonWithScheme(t, restoreScheme)
	defer stop()

	conn := dialTest(t, sockPath)
	defer conn.Close()

	if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdAuth, 0)); err != nil {
		t.Fatalf("Encode AUTH: %v", err)
	}
	if _, err := ktp.Decode(conn); err != nil {
		t.Fatalf("Decode AUTH_ACK: %v", err)
	}

	runCmd := func(line string) *ktp.Message {
		t.Helper()
		if err := ktp.Encode(conn, ktp.NewMessage(ktp.CmdCmd, 0, ktp.StringParam(ktp.ParamLine, line))); err != nil {
			t.Fatalf("Encode CMD %q: %v", line, err)
		}
		var final *ktp.Message
		for i := 0; i < 10; i++ {
			msg, err := ktp.Decode(conn)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Cmd == ktp.CmdCmdAck && !msg.Status.Has(ktp.StatusIncompleted) {
				final = msg
				break
			}
		}
		if final == nil {
			t.Fatalf("never saw the final CMD_ACK for %q", line)
		}
		return final
	}

	enterAck := runCmd("enter system")
	if p, ok := enterAck.Param(ktp.ParamPrompt); !ok || string(p.Value) != "router(system)> " {
		t.Fatalf("after enter system, PROMPT = %q, ok=%v, want system view's prompt", p.Value, ok)
	}

	reloadAck := runCmd("reload")
	if p, ok := reloadAck.Param(ktp.ParamPrompt); !ok || string(p.Value) != "router> " {
		t.Fatalf("after reload, PROMPT = %q, ok=%v, want root view's prompt", p.Value, ok)
	}
}
