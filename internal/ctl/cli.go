package ctl

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vladfaust/simularity/pkg/types"
)

// Main is the simularityctl entrypoint.
func Main() int {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// buildRootCmd constructs the Cobra command tree.
func buildRootCmd() *cobra.Command {
	server := "http://127.0.0.1:8080"
	if v := os.Getenv("SIMULARITY_SERVER"); v != "" {
		server = v
	}

	var client *Client
	root := &cobra.Command{
		Use:           "simularityctl",
		Short:         "Client for a running simularityd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", server, "simularityd base URL (defaults SIMULARITY_SERVER)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		client = NewClient(server)
	}

	// model group
	modelCmd := &cobra.Command{Use: "model", Short: "Model registry operations"}

	modelList := &cobra.Command{Use: "list", Short: "List loaded models", RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.ModelsResponse
		if err := client.getJSON("/models", &resp); err != nil {
			return err
		}
		for _, m := range resp.Models {
			fmt.Printf("%s\t%s\t%d params\t%d bytes", m.ID, m.Path, m.Info.NParams, m.Info.Size)
			if m.Hash != "" {
				fmt.Printf("\t%s", m.Hash)
			}
			fmt.Println()
		}
		return nil
	}}

	var loadID string
	modelLoad := &cobra.Command{Use: "load <path>", Short: "Load a model from disk", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		id := loadID
		if id == "" {
			id = args[0]
		}
		var resp types.LoadModelResponse
		if err := client.postJSON("/models/load", types.LoadModelRequest{Path: args[0], ID: id}, &resp); err != nil {
			return err
		}
		fmt.Printf("%s: %d params, trained context %d\n", resp.ID, resp.Info.NParams, resp.Info.NCtxTrain)
		return nil
	}}
	modelLoad.Flags().StringVar(&loadID, "id", "", "Model id (defaults to the path)")

	modelUnload := &cobra.Command{Use: "unload <id>", Short: "Unload a model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return client.del("/models/" + args[0])
	}}

	modelHash := &cobra.Command{Use: "hash <id>", Short: "Content hash of a loaded model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.HashResponse
		if err := client.getJSON("/models/"+args[0]+"/hash", &resp); err != nil {
			return err
		}
		fmt.Println(resp.Hash)
		return nil
	}}

	modelTokens := &cobra.Command{Use: "token-length <id> <text>", Short: "Token count of a text", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.TokenLengthResponse
		if err := client.postJSON("/models/"+args[0]+"/token-length", types.TokenLengthRequest{Text: args[1]}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Length)
		return nil
	}}

	modelAvailable := &cobra.Command{Use: "available", Short: "List loadable model files on the server", RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.AvailableModelsResponse
		if err := client.getJSON("/models/available", &resp); err != nil {
			return err
		}
		for _, m := range resp.Models {
			fmt.Printf("%s\t%s\t%d bytes\n", m.ID, m.Path, m.Size)
		}
		return nil
	}}

	modelCmd.AddCommand(modelList, modelAvailable, modelLoad, modelUnload, modelHash, modelTokens)

	// session group
	sessionCmd := &cobra.Command{Use: "session", Short: "Session operations"}

	var createReq types.CreateSessionRequest
	sessionCreate := &cobra.Command{Use: "create", Short: "Create a session", RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.CreateSessionResponse
		if err := client.postJSON("/sessions", createReq, &resp); err != nil {
			return err
		}
		fmt.Printf("session %d (length %d)\n", resp.SessionID, resp.Length)
		return nil
	}}
	sessionCreate.Flags().StringVar(&createReq.Model, "model", "", "Model id (required)")
	sessionCreate.Flags().IntVar(&createReq.ContextSize, "context-size", 0, "Context size in tokens (0=default)")
	sessionCreate.Flags().IntVar(&createReq.BatchSize, "batch-size", 0, "Batch size in tokens (0=default)")
	sessionCreate.Flags().StringVar(&createReq.InitialPrompt, "initial-prompt", "", "Prompt decoded on creation")
	sessionCreate.Flags().StringVar(&createReq.StateFile, "state-file", "", "State file to load or save")
	_ = sessionCreate.MarkFlagRequired("model")

	sessionDecode := &cobra.Command{Use: "decode <id> <prompt>", Short: "Decode a full prompt, reusing the cached prefix", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		n, err := client.stream("/sessions/"+args[0]+"/decode", types.DecodeRequest{Prompt: args[1]}, func(m map[string]any) {
			if p, ok := m["progress"].(float64); ok {
				fmt.Fprintf(os.Stderr, "\rdecoding %3.0f%%", p*100)
			}
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr)
		fmt.Printf("length %d\n", n)
		return nil
	}}

	var nEval int
	sessionInfer := &cobra.Command{Use: "infer <id> [prompt]", Short: "Generate tokens", Args: cobra.RangeArgs(1, 2), RunE: func(cmd *cobra.Command, args []string) error {
		req := types.InferRequest{NEval: nEval}
		if len(args) == 2 {
			req.Prompt = args[1]
		}
		n, err := client.stream("/sessions/"+args[0]+"/infer", req, func(m map[string]any) {
			if tok, ok := m["token"].(string); ok {
				fmt.Print(tok)
			}
		})
		if err != nil {
			return err
		}
		fmt.Printf("\n(length %d)\n", n)
		return nil
	}}
	sessionInfer.Flags().IntVar(&nEval, "n-eval", 128, "Maximum tokens to generate")

	sessionReset := &cobra.Command{Use: "reset <id>", Short: "Reset a session to its initial prompt", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return lengthOp(client, "/sessions/"+args[0]+"/reset")
	}}

	sessionCommit := &cobra.Command{Use: "commit <id>", Short: "Commit generated tokens", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return lengthOp(client, "/sessions/"+args[0]+"/commit")
	}}

	sessionTouch := &cobra.Command{Use: "touch <id>", Short: "Check a session and refresh its TTL", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.SessionResponse
		if err := client.getJSON("/sessions/"+args[0], &resp); err != nil {
			return err
		}
		if resp.ExpiresAtUnix == 0 {
			fmt.Println("alive (no ttl)")
		} else {
			fmt.Printf("alive until %d\n", resp.ExpiresAtUnix)
		}
		return nil
	}}

	sessionDestroy := &cobra.Command{Use: "destroy <id>", Short: "Destroy a session", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid session id: %s", args[0])
		}
		return client.del("/sessions/" + args[0])
	}}

	sessionCmd.AddCommand(sessionCreate, sessionDecode, sessionInfer, sessionReset, sessionCommit, sessionTouch, sessionDestroy)

	statusCmd := &cobra.Command{Use: "status", Short: "Server status", RunE: func(cmd *cobra.Command, args []string) error {
		var resp types.StatusResponse
		if err := client.getJSON("/status", &resp); err != nil {
			return err
		}
		fmt.Printf("models: %d, sessions: %d/%s, uptime: %ds\n",
			len(resp.Models), resp.Sessions, capString(resp.MaxSessions), resp.UptimeSeconds)
		return nil
	}}

	root.AddCommand(modelCmd, sessionCmd, statusCmd)
	return root
}

func lengthOp(client *Client, path string) error {
	var resp types.LengthResponse
	if err := client.postJSON(path, struct{}{}, &resp); err != nil {
		return err
	}
	fmt.Printf("length %d\n", resp.Length)
	return nil
}

func capString(max int) string {
	if max == 0 {
		return "∞"
	}
	return strconv.Itoa(max)
}
