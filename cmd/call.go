package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/relay/internal/dispatch"
	"github.com/zjrosen/relay/internal/engine"
	"github.com/zjrosen/relay/internal/identity"
	"github.com/zjrosen/relay/internal/prompt"
	"github.com/zjrosen/relay/internal/registry"
)

var (
	callInstruction string
	callMessage     string
	callPrompt      string
	callClient      string
	callProvider    string
	callStream      bool
	callTimeout     time.Duration
	callSoftFail    bool
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Execute a one-off model call",
	Long: `Execute a single model call through the configured clients.

The prompt comes either from a registered prompt plan (--prompt, with
prompts.dir set in the config) or inline from --instruction/--message.
Without configured clients the call is served by the local mock echo
backend, which makes this command a self-contained playground.

Examples:
  # Inline prompt against the default client
  relay call -m "summarize this repo"

  # Registered prompt plan by name
  relay call --prompt summarize

  # Stream chunks as they arrive
  relay call -m "tell me a story" --stream

  # Pin a specific client or provider
  relay call -m "hello" --client fast
  relay call -m "hello" --provider mock`,
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callInstruction, "instruction", "i", "", "system/developer instruction")
	callCmd.Flags().StringVarP(&callMessage, "message", "m", "", "user message")
	callCmd.Flags().StringVarP(&callPrompt, "prompt", "p", "", "registered prompt plan (name or full identity label)")
	callCmd.Flags().StringVar(&callClient, "client", "", "client name to call through")
	callCmd.Flags().StringVar(&callProvider, "provider", "", "provider slug to call through")
	callCmd.Flags().BoolVar(&callStream, "stream", false, "stream chunks as they arrive")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "per-call timeout (0 uses the client default)")
	callCmd.Flags().BoolVar(&callSoftFail, "soft-fail", false, "return an error-carrying response instead of failing")
	rootCmd.AddCommand(callCmd)
}

// buildCallSpec translates command flags into a service spec. A --prompt
// value containing dots is treated as a full identity label; a bare value
// names a plan in the default namespace and group, matching where the
// loader registers plans whose files carry no namespace of their own.
func buildCallSpec(promptRef, instruction, message, client, provider string, timeout time.Duration, softFail bool) (*engine.ServiceSpec, error) {
	svc := &engine.ServiceSpec{
		ClientName: client,
		Provider:   provider,
		Timeout:    timeout,
		SoftFail:   softFail,
	}

	switch {
	case promptRef != "":
		var (
			id  identity.Identity
			err error
		)
		if strings.Contains(promptRef, ".") {
			id, err = identity.Parse(promptRef)
			if err == nil {
				id, err = id.WithDomain(registry.DomainService)
			}
		} else {
			id, err = identity.New(registry.DomainService, identity.DefaultNamespace, identity.DefaultGroup, promptRef)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid prompt reference %q: %w", promptRef, err)
		}
		svc.Identity = id
	case instruction != "" || message != "":
		id, err := identity.New(registry.DomainService, identity.DefaultNamespace, identity.DefaultGroup, "call")
		if err != nil {
			return nil, err
		}
		svc.Identity = id
		svc.Plan = &prompt.Plan{
			Name:        "call",
			Instruction: instruction,
			Message:     message,
		}
	default:
		return nil, errors.New("nothing to send: provide --prompt, --instruction or --message")
	}
	return svc, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	svc, err := buildCallSpec(callPrompt, callInstruction, callMessage, callClient, callProvider, callTimeout, callSoftFail)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var resp *dispatch.Response
	if callStream {
		resp, err = rt.executor.Stream(ctx, svc, nil, func(chunk dispatch.Chunk) error {
			fmt.Fprint(cmd.OutOrStdout(), chunk.Delta)
			return nil
		})
		if err == nil {
			fmt.Fprintln(cmd.OutOrStdout())
		}
	} else {
		resp, err = rt.executor.Execute(ctx, svc, nil)
		if err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), resp.Output)
		}
	}
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}
	if resp.Failed() {
		return fmt.Errorf("call failed after %d attempts: %s", resp.ErrorMeta.Attempts, resp.ErrorMeta.Message)
	}
	return nil
}
