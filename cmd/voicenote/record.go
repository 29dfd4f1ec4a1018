package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicenote/internal/audio"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/session"
	"github.com/GriffinCanCode/voicenote/internal/server"
)

const (
	captureBufferChunks = 64
	endTimeout          = time.Minute
)

func newRecordCmd(load configLoader) *cobra.Command {
	var (
		serverURL string
		userID    string
		language  string
		device    string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice note from the microphone",
		Long:  "Streams microphone audio to a running server and prints live transcripts and suggestions. Press Ctrl-C to end the note and print the proposal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			capt, err := audio.NewCapturer(cfg.SampleRate, captureBufferChunks, device, nil)
			if err != nil {
				return fmt.Errorf("init audio: %w", err)
			}
			defer capt.Stop()
			return runRecord(cmd.Context(), cmd.OutOrStdout(), server.NewClient(serverURL), capt, userID, language)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "voicenote server URL")
	cmd.Flags().StringVar(&userID, "user", "", "user whose contacts are enriched")
	cmd.Flags().StringVar(&language, "language", "", "BCP-47 language code (server default if empty)")
	cmd.Flags().StringVar(&device, "device", "", "input device name substring")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type capturer interface {
	Start(ctx context.Context) error
	Output() <-chan audio.Chunk
}

func runRecord(ctx context.Context, out io.Writer, client *server.Client, capt capturer, userID, language string) error {
	started, err := client.StartSession(ctx, userID, language)
	if err != nil {
		return err
	}
	conn, err := client.Connect(ctx, started.SessionID)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Fprintf(out, "session %s recording (Ctrl-C to finish)\n", started.SessionID)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := capt.Start(sigCtx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	resultCh := make(chan *session.Result, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Next(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if msg.Type == server.MessageResult {
				resultCh <- msg.Result
				return
			}
			if line := formatEvent(msg); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()

	if err := pump(sigCtx, conn, capt.Output()); err != nil {
		return err
	}

	endCtx, cancel := context.WithTimeout(ctx, endTimeout)
	defer cancel()
	if err := conn.Control(endCtx, server.ControlEnd); err != nil {
		return fmt.Errorf("end session: %w", err)
	}

	select {
	case res := <-resultCh:
		return printResult(out, res)
	case err := <-readErr:
		return fmt.Errorf("session ended without a result: %w", err)
	case <-endCtx.Done():
		return endCtx.Err()
	}
}

// pump forwards captured chunks until ctx is done or capture stops.
func pump(ctx context.Context, conn *server.Conn, chunks <-chan audio.Chunk) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-chunks:
			if !ok {
				return nil
			}
			if err := conn.SendAudio(ctx, c.PCM); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("send audio: %w", err)
			}
		}
	}
}

func formatEvent(msg server.ServerMessage) string {
	switch msg.Type {
	case session.EventInterim:
		return "  … " + msg.Text
	case session.EventFinal:
		return fmt.Sprintf("> %s (%s)", msg.Text, msg.Level)
	case session.EventStatus:
		return fmt.Sprintf("[status] %s", msg.Status)
	case session.EventReconnecting:
		return fmt.Sprintf("[reconnecting] attempt %d in %dms", msg.Attempt, msg.DelayMS)
	case session.EventReconnected:
		return fmt.Sprintf("[reconnected] after %d attempt(s)", msg.Attempt)
	case session.EventPauseTimeout:
		return fmt.Sprintf("[paused] %s", (time.Duration(msg.PausedMS) * time.Millisecond).Round(time.Second))
	case session.EventEnrichment:
		parts := make([]string, 0, len(msg.Suggestions))
		for _, s := range msg.Suggestions {
			parts = append(parts, fmt.Sprintf("%s=%s", s.Type, s.Value))
		}
		name := msg.ContactName
		if name == "" {
			name = "note"
		}
		return fmt.Sprintf("[suggest] %s: %s", name, strings.Join(parts, ", "))
	case session.EventError:
		return fmt.Sprintf("[error] %s: %s", msg.Code, msg.Error)
	default:
		slog.Debug("unhandled event", "type", msg.Type)
		return ""
	}
}

func printResult(out io.Writer, res *session.Result) error {
	if res == nil {
		return fmt.Errorf("empty result")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
