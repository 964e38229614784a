// Command agentctl is the operator's admin tool: one cobra subcommand per
// control Form variant, posted to a running agentd's /control endpoint.
// This is a SPEC_FULL.md-supplemented feature (spec.md never mandates a
// CLI, but every control Form needs some caller). cobra is an addition of
// this port (the teacher has no cobra usage); the form field names follow
// original_source/stembot/controller/mpi.py.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/cobra"

	"github.com/phnomcobra/stembot/internal/crypto"
	"github.com/phnomcobra/stembot/internal/transport"
	"github.com/phnomcobra/stembot/internal/types"
)

var (
	endpoint     string
	secretDigest string
)

func main() {
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Administer a mesh agent over its /control endpoint",
	}
	root.PersistentFlags().StringVar(&endpoint, "endpoint", "http://127.0.0.1:53080/control", "agent /control URL")
	root.PersistentFlags().StringVar(&secretDigest, "secret-digest", "", "base64 sha256 digest of the agent's shared secret (default: changeme's digest)")

	root.AddCommand(
		createPeerCmd(),
		discoverPeerCmd(),
		deletePeersCmd(),
		getPeersCmd(),
		getRoutesCmd(),
		syncProcessCmd(),
		loadFileCmd(),
		writeFileCmd(),
		createTicketCmd(),
		readTicketCmd(),
		closeTicketCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}

func defaultSecretDigest() string {
	// matches internal/identity.defaultSecretDigest, duplicated here since
	// agentctl is a separate binary with no access to a running kvstore.
	return "BXugPWxEEEhj3HNh/kV4ll0YhzYPkKCJWILlimJI/IY="
}

func client() *transport.Client {
	digest := secretDigest
	if digest == "" {
		digest = defaultSecretDigest()
	}
	key, err := crypto.DeriveKey(digest)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentctl: deriving key:", err)
		os.Exit(1)
	}
	return transport.New(key, 5*time.Second)
}

func send(form types.Form) {
	reply, err := client().SendControlForm(endpoint, form)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(reply, "", "  ")
	fmt.Println(string(out))
}

func createPeerCmd() *cobra.Command {
	var agtuuid, url string
	var ttl int
	var polling bool
	cmd := &cobra.Command{
		Use:   "create-peer",
		Short: "Register a direct peer",
		Run: func(cmd *cobra.Command, args []string) {
			form := types.Form{Type: types.CreatePeerForm, Agtuuid: agtuuid, Polling: polling}
			if url != "" {
				form.URL = &url
			}
			if ttl > 0 {
				form.TTL = &ttl
			}
			send(form)
		},
	}
	cmd.Flags().StringVar(&agtuuid, "agtuuid", "", "peer agent id (required unless discovering)")
	cmd.Flags().StringVar(&url, "url", "", "peer's base URL (omit for pull-only)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "seconds until the peer expires (0 = permanent)")
	cmd.Flags().BoolVar(&polling, "polling", false, "this agent polls the peer's URL with MESSAGES_REQUEST to pull messages queued for it")
	return cmd
}

func discoverPeerCmd() *cobra.Command {
	var url string
	var ttl int
	var polling bool
	cmd := &cobra.Command{
		Use:   "discover-peer",
		Short: "Ping a URL with unknown agtuuid and register it",
		Run: func(cmd *cobra.Command, args []string) {
			form := types.Form{Type: types.DiscoverPeerForm, URL: &url, Polling: polling}
			if ttl > 0 {
				form.TTL = &ttl
			}
			send(form)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to ping (required)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "seconds until the peer expires (0 = permanent)")
	cmd.Flags().BoolVar(&polling, "polling", false, "this agent polls the peer's URL with MESSAGES_REQUEST to pull messages queued for it")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func deletePeersCmd() *cobra.Command {
	var agtuuids []string
	cmd := &cobra.Command{
		Use:   "delete-peers",
		Short: "Delete named peers, or all peers if none named",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.DeletePeersForm, Agtuuids: agtuuids})
		},
	}
	cmd.Flags().StringSliceVar(&agtuuids, "agtuuid", nil, "peer agent id to delete (repeatable; omit to delete all)")
	return cmd
}

func getPeersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-peers",
		Short: "List known direct peers",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.GetPeersForm})
		},
	}
}

func getRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-routes",
		Short: "List learned routes",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.GetRoutesForm})
		},
	}
}

func syncProcessCmd() *cobra.Command {
	var command string
	var timeout float64
	cmd := &cobra.Command{
		Use:   "sync-process --command <command>",
		Short: "Run a shell command on the agent and wait for it to finish",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.SyncProcessForm, Command: command, Timeout: timeout})
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "shell command to run (required)")
	cmd.Flags().Float64Var(&timeout, "timeout", 30, "seconds before the process is killed")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func loadFileCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "load-file",
		Short: "Fetch a file's compressed, base64-encoded contents from the agent",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.LoadFileForm, Path: path})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "remote file path (required)")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func writeFileCmd() *cobra.Command {
	var path, localPath string
	cmd := &cobra.Command{
		Use:   "write-file",
		Short: "Write a local file's contents to the agent, compressed+base64",
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(localPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, "agentctl:", err)
				os.Exit(1)
			}
			var buf bytes.Buffer
			zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
			if err == nil {
				_, err = zw.Write(data)
			}
			if err == nil {
				err = zw.Close()
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "agentctl: compressing:", err)
				os.Exit(1)
			}
			send(types.Form{Type: types.WriteFileForm, Path: path, B64: base64.StdEncoding.EncodeToString(buf.Bytes())})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "remote destination path (required)")
	cmd.Flags().StringVar(&localPath, "local-path", "", "local file to upload (required)")
	_ = cmd.MarkFlagRequired("path")
	_ = cmd.MarkFlagRequired("local-path")
	return cmd
}

func createTicketCmd() *cobra.Command {
	var dst string
	var tracing bool
	var innerJSON string
	cmd := &cobra.Command{
		Use:   "create-ticket",
		Short: "Route a form to dst asynchronously via a ticket",
		Run: func(cmd *cobra.Command, args []string) {
			var inner types.Form
			if err := json.Unmarshal([]byte(innerJSON), &inner); err != nil {
				fmt.Fprintln(os.Stderr, "agentctl: parsing --inner:", err)
				os.Exit(1)
			}
			send(types.Form{Type: types.CreateTicketForm, Dst: dst, Tracing: tracing, Inner: &inner})
		},
	}
	cmd.Flags().StringVar(&dst, "dst", "", "destination agent id (required)")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "collect hop traces for this ticket")
	cmd.Flags().StringVar(&innerJSON, "inner", "", "the inner form, as a JSON object (required)")
	_ = cmd.MarkFlagRequired("dst")
	_ = cmd.MarkFlagRequired("inner")
	return cmd
}

func readTicketCmd() *cobra.Command {
	var tckuuid string
	cmd := &cobra.Command{
		Use:   "read-ticket",
		Short: "Read a ticket's current state",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.ReadTicketForm, Tckuuid: tckuuid})
		},
	}
	cmd.Flags().StringVar(&tckuuid, "tckuuid", "", "ticket id (required)")
	_ = cmd.MarkFlagRequired("tckuuid")
	return cmd
}

func closeTicketCmd() *cobra.Command {
	var tckuuid string
	cmd := &cobra.Command{
		Use:   "close-ticket",
		Short: "Discard a ticket",
		Run: func(cmd *cobra.Command, args []string) {
			send(types.Form{Type: types.CloseTicketForm, Tckuuid: tckuuid})
		},
	}
	cmd.Flags().StringVar(&tckuuid, "tckuuid", "", "ticket id (required)")
	_ = cmd.MarkFlagRequired("tckuuid")
	return cmd
}
