// vetractl is the operator CLI for a running vetra service: it mints owner
// capability tokens and appends training examples over the HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vetralabs/vetra/internal/capability"
	"github.com/vetralabs/vetra/internal/corpus"
	"github.com/vetralabs/vetra/internal/language"
	"github.com/vetralabs/vetra/internal/reliability"
)

func main() {
	root := &cobra.Command{
		Use:           "vetractl",
		Short:         "Administer a vetra service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCmd(), newTrainCmd(), newAskCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		owner  string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an owner capability token for training writes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("VETRA_OWNER_SECRET")
			}
			authority, err := capability.NewAuthority(secret, nil)
			if err != nil {
				return err
			}
			token, err := authority.Mint(owner, capability.ScopeTrainingWrite, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to VETRA_OWNER_SECRET)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner identity embedded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newTrainCmd() *cobra.Command {
	var (
		server      string
		token       string
		lang        string
		instruction string
		pairs       []string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Append a training example to the corpus",
		Long: `Append a training example to the corpus.

Each --pair is a prompt and its expected response separated by "::",
for example: --pair "what is the capital of france::Paris is the capital of France."`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("VETRA_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("capability token required (--token or VETRA_TOKEN)")
			}

			payload := struct {
				Language    language.Tag  `json:"language"`
				Instruction string        `json:"instruction"`
				Examples    []corpus.Pair `json:"examples"`
			}{
				Language:    language.Tag(lang),
				Instruction: instruction,
			}
			for _, p := range pairs {
				prompt, response, ok := strings.Cut(p, "::")
				if !ok {
					return fmt.Errorf("malformed --pair %q: want prompt::response", p)
				}
				payload.Examples = append(payload.Examples, corpus.Pair{
					Prompt:   strings.TrimSpace(prompt),
					Response: strings.TrimSpace(response),
				})
			}

			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			resp, err := postWithRetry(cmd.Context().Done(), server+"/v1/training/examples", token, body)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if resp.StatusCode != http.StatusCreated {
				return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(out)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the vetra service")
	cmd.Flags().StringVar(&token, "token", "", "Capability token (defaults to VETRA_TOKEN)")
	cmd.Flags().StringVar(&lang, "language", string(language.English), "Example language tag")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Instruction describing the example")
	cmd.Flags().StringArrayVar(&pairs, "pair", nil, "prompt::response pair (repeatable)")
	_ = cmd.MarkFlagRequired("instruction")
	_ = cmd.MarkFlagRequired("pair")

	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		server  string
		session string
	)

	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one query through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{
				"session_id": session,
				"text":       args[0],
			})
			if err != nil {
				return err
			}

			resp, err := http.Post(server+"/v1/ask", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			out, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(out)))
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the vetra service")
	cmd.Flags().StringVar(&session, "session", "vetractl", "Session identifier for context memory")

	return cmd
}

const trainAttempts = 3

// postWithRetry retries transient server errors with capped backoff.
func postWithRetry(done <-chan struct{}, url, token string, body []byte) (*http.Response, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	var lastErr error
	for attempt := 0; attempt < trainAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-done:
				return nil, lastErr
			case <-time.After(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)):
			}
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", trainAttempts, lastErr)
}
