package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/habedi/inspecta/app"
	"github.com/habedi/inspecta/pkg/clierr"
	"github.com/spf13/cobra"
)

// callCmd sends one authenticated request to a backend and prints the JSON answer.
func callCmd() *cobra.Command {
	var method, data string

	cmd := &cobra.Command{
		Use:   "call <backend> <path>",
		Short: "Send an authenticated request to a backend",
		Long:  "Send an authenticated request to one of the backends (primary, asset, auth, genai). Expired access tokens are refreshed transparently.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, container, args[0], args[1], method, data)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}

func runCall(cmd *cobra.Command, c *app.Container, backend, path, method, data string) error {
	api, err := c.Backend(backend)
	if err != nil {
		return clierr.New(clierr.Validation, err.Error(), err)
	}

	var body any
	if data != "" {
		if !json.Valid([]byte(data)) {
			return clierr.New(clierr.Validation, "The request body is not valid JSON.", nil)
		}
		body = json.RawMessage(data)
	}

	var out json.RawMessage
	if err := api.Call(cmd.Context(), strings.ToUpper(method), path, body, &out); err != nil {
		return clierr.Classify("Request failed", err)
	}
	if len(out) == 0 {
		cmd.Println("(empty response)")
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		return clierr.New(clierr.Internal, "Failed to format the response.", err)
	}
	cmd.Println(pretty.String())
	return nil
}
