// Command klish is the interactive KTP client: a line editor wired to a
// daemon connection over a Unix socket (§6 "Client"), following the
// teacher's own cobra-plus-signal-context cli/main.go shape.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/klish-project/klish/runtime/client"
	"github.com/klish-project/klish/runtime/lineedit"
)

func main() {
	var (
		socketPath  string
		historyPath string
	)

	rootCmd := &cobra.Command{
		Use:           "klish",
		Short:         "Connect to the klish daemon and run an interactive session",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(socketPath, historyPath)
		},
	}

	home, _ := os.UserHomeDir()
	defaultHistory := filepath.Join(home, ".klish_history")

	rootCmd.Flags().StringVarP(&socketPath, "socket", "s", "/tmp/klish-unix.sock", "Path to the daemon's listen socket")
	rootCmd.Flags().StringVar(&historyPath, "history", defaultHistory, "Path to the line-editor history file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// inputRouter owns the one real os.Stdin reader and splits its bytes
// between the line editor (IDLE) and the live session's STDIN forwarding
// (WAIT_FOR_CMD with NEED_STDIN), per §4.9's "pass-through keystroke
// forwarding via STDIN". Only one of the two ever consumes a given byte.
type inputRouter struct {
	editorW *io.PipeWriter
	sess    *client.Session

	passthrough atomic.Bool
}

func newInputRouter(sess *client.Session) (*inputRouter, *io.PipeReader) {
	pr, pw := io.Pipe()
	r := &inputRouter{editorW: pw, sess: sess}
	return r, pr
}

// run reads raw bytes from src until EOF or a read error, forwarding each
// chunk to whichever consumer currently owns input.
func (r *inputRouter) run(src io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if r.passthrough.Load() {
				_ = r.sess.SendStdin(chunk)
			} else {
				if _, werr := r.editorW.Write(chunk); werr != nil {
					return
				}
			}
		}
		if err != nil {
			r.editorW.CloseWithError(err)
			return
		}
	}
}

func (r *inputRouter) setPassthrough(on bool) { r.passthrough.Store(on) }

// runSession puts the terminal into raw mode, dials the daemon, and runs
// the read-eval-print loop until EOF, an interrupt signal, or the server
// reports EXIT.
func runSession(socketPath, historyPath string) error {
	fd := int(os.Stdin.Fd())
	raw, err := lineedit.EnterRaw(fd)
	if err != nil {
		return fmt.Errorf("klish: enter raw mode: %w", err)
	}
	defer raw.Restore()

	cols, rows, err := lineedit.Size(fd)
	if err != nil {
		cols, rows = 80, 24
	}

	var (
		mu             sync.Mutex
		currentPrompt  string
		promptCh       = make(chan struct{}, 1)
		completionCh   = make(chan struct{}, 1)
		helpCh         = make(chan struct{}, 1)
		lastPrefix     string
		lastCandidates []string
		lastHelp       []lineedit.HelpEntry
	)

	var router *inputRouter

	sess, err := client.Dial(socketPath, cols, rows, client.Callbacks{
		OnStdout: func(b []byte) { os.Stdout.Write(stripCR(b)) },
		OnStderr: func(b []byte) { os.Stderr.Write(stripCR(b)) },
		OnPrompt: func(prompt string, hotkeys map[byte]string) {
			mu.Lock()
			currentPrompt = prompt
			mu.Unlock()
			if router != nil {
				router.setPassthrough(false)
			}
			select {
			case promptCh <- struct{}{}:
			default:
			}
		},
		OnNeedStdin: func() {
			if router != nil {
				router.setPassthrough(true)
			}
		},
		OnCompletion: func(prefix string, lines []string) {
			mu.Lock()
			lastPrefix, lastCandidates = prefix, lines
			mu.Unlock()
			completionCh <- struct{}{}
		},
		OnHelp: func(lines []client.HelpLine) {
			entries := make([]lineedit.HelpEntry, len(lines))
			for i, l := range lines {
				entries[i] = lineedit.HelpEntry{Prefix: l.Prefix, Line: l.Line}
			}
			mu.Lock()
			lastHelp = entries
			mu.Unlock()
			helpCh <- struct{}{}
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\r\nklish: %v\r\n", err)
		},
	})
	if err != nil {
		return fmt.Errorf("klish: %w", err)
	}
	defer sess.Close()

	router, editorIn := newInputRouter(sess)
	go router.run(os.Stdin)

	ed := lineedit.NewEditor(editorIn, os.Stdout, 500)
	ed.SetWidth(cols)
	if err := ed.History().Load(historyPath); err != nil {
		fmt.Fprintf(os.Stderr, "klish: load history: %v\n", err)
	}
	defer func() {
		if err := ed.History().Save(historyPath); err != nil {
			fmt.Fprintf(os.Stderr, "klish: save history: %v\n", err)
		}
	}()

	ed.SetHooks(lineedit.Hooks{
		Complete: func(line string) (string, []string) {
			if err := sess.SendCompletion(line); err != nil {
				return "", nil
			}
			select {
			case <-completionCh:
			case <-time.After(5 * time.Second):
				return "", nil
			}
			mu.Lock()
			defer mu.Unlock()
			return lastPrefix, lastCandidates
		},
		Help: func(line string) []lineedit.HelpEntry {
			if err := sess.SendHelp(line); err != nil {
				return nil
			}
			select {
			case <-helpCh:
			case <-time.After(5 * time.Second):
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			return lastHelp
		},
	})

	ctx, cancel := newSignalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = sess.SendExit()
		_ = sess.Close()
	}()

	select {
	case <-promptCh:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("klish: timed out waiting for AUTH_ACK")
	}

	for !sess.Done() {
		mu.Lock()
		prompt := currentPrompt
		mu.Unlock()

		line, err := ed.ReadLine(prompt)
		if err == io.EOF {
			_ = sess.SendExit()
			break
		}
		if err == lineedit.ErrInterrupted {
			continue
		}
		if err != nil {
			return fmt.Errorf("klish: %w", err)
		}
		if line == "" {
			continue
		}

		if err := sess.SendCmd(line); err != nil {
			return fmt.Errorf("klish: %w", err)
		}

		select {
		case <-promptCh:
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// newSignalContext cancels on SIGINT/SIGTERM/SIGQUIT, the same shape as
// the teacher's newCancellableContext in cli/main.go.
func newSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func stripCR(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '\n' {
			out = append(out, '\r', '\n')
			continue
		}
		out = append(out, c)
	}
	return out
}
