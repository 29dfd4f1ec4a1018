package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicenote/internal/server"
)

func newTranscribeCmd(load configLoader) *cobra.Command {
	var (
		serverURL string
		language  string
	)

	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe a WAV or raw PCM16 file in one call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := load(); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := server.NewClient(serverURL).Transcribe(cmd.Context(), data, language)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n(confidence %.2f)\n", res.Text, res.Confidence)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8000", "voicenote server URL")
	cmd.Flags().StringVar(&language, "language", "", "BCP-47 language code (server default if empty)")
	return cmd
}
