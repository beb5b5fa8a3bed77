package main

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/turnstream/callback"
	"github.com/hupe1980/turnstream/service"
	"github.com/hupe1980/turnstream/tool"
	"github.com/hupe1980/turnstream/tool/builtin"
	"github.com/hupe1980/turnstream/transport/ndjson"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		sessionID     string
		file          string
		tools         []string
		notifications bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run a single turn and print its events as NDJSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.TurnInput{
				SessionID: sessionID,
				Input:     strings.Join(args, " "),
			}

			catalog := tool.NewSet(builtin.Tools()...)
			for _, name := range tools {
				t, ok := catalog[name]
				if !ok {
					return fmt.Errorf("unknown tool %q, available: %s", name, strings.Join(catalog.Names(), ", "))
				}
				in.Tools = append(in.Tools, t)
			}

			if file != "" {
				uri, err := fileDataURI(file)
				if err != nil {
					return err
				}
				in.FileDataURI = uri
			}

			svc, b, err := a.buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			enc := ndjson.NewEncoder(cmd.OutOrStdout())

			if notifications {
				return callback.New(svc, func(o *callback.Options) { o.Logger = a.logger }).
					Run(cmd.Context(), in, func(ev callback.Event) error { return enc.Encode(ev) })
			}

			ts, err := svc.SubmitTurn(cmd.Context(), in)
			if err != nil {
				return err
			}
			defer ts.Close()

			for ts.Next() {
				if err := enc.Encode(ts.Current()); err != nil {
					return err
				}
			}
			return ts.Err()
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: a fresh session)")
	cmd.Flags().StringVar(&file, "file", "", "attach a file as inline data")
	cmd.Flags().StringSliceVar(&tools, "tools", nil, "built-in tools to offer the model")
	cmd.Flags().BoolVar(&notifications, "notifications", false, "include tool lifecycle notifications")
	return cmd
}

// fileDataURI reads path into a base64 data URI. The MIME type is sniffed
// from the content.
func fileDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	mimeType, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
