package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/osvaldoandrade/tokengate/internal/tracing"
	"github.com/osvaldoandrade/tokengate/pkg/authz"
	"github.com/osvaldoandrade/tokengate/pkg/jwt"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func main() {
	serverURL := getenv("TOKENGATE_SERVER", "http://localhost:8080")
	output := getenv("TOKENGATE_OUTPUT", "json")
	ui := newUI()

	root := &cobra.Command{
		Use:   "tokengate",
		Short: "tokengate CLI",
		Long:  "tokengate CLI for inspecting and validating OIDC token sets and asking a tokengate server for decisions.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&serverURL, "server", serverURL, "Base URL of the tokengate server")
	root.PersistentFlags().StringVarP(&output, "output", "o", output, "Output format: json or yaml")

	root.AddCommand(inspectCmd(&output))
	root.AddCommand(decodeCmd(&output, ui))
	root.AddCommand(keysCmd(&output, ui))
	root.AddCommand(authorizeCmd(&serverURL, &output, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func inspectCmd(output *string) *cobra.Command {
	return &cobra.Command{
		Use:     "inspect <token>",
		Short:   "Print a token's header and claims without verifying it",
		Example: "tokengate inspect eyJhbGciOi...",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			header, err := jwt.DecodeHeader(token)
			if err != nil {
				return err
			}
			claims, err := jwt.ExtractClaims(token)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), *output, map[string]any{
				"header": header,
				"claims": claims,
			})
		},
	}
}

func decodeCmd(output *string, ui *ui) *cobra.Command {
	var (
		access   string
		id       string
		userinfo string
		algs     []string
		leeway   time.Duration
		ks       keyFlags
	)
	cmd := &cobra.Command{
		Use:     "decode",
		Short:   "Validate and decode an access/id token pair locally",
		Example: "tokengate decode --access $AT --id $IDT --jwks-url https://issuer.example/.well-known/jwks.json --alg RS256",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(access) == "" || strings.TrimSpace(id) == "" {
				return errors.New("--access and --id are required")
			}
			provider, validating, err := ks.store(cmd.Context())
			if err != nil {
				return err
			}
			cfg := jwt.Config{Mode: jwt.Disabled, SignatureAlgorithms: algs, Leeway: leeway}
			if validating {
				cfg.Mode = jwt.Enabled
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.warn("[WARN]"), "no key source given; signatures and claims are NOT verified")
			}
			svc, err := jwt.NewService(cfg, provider)
			if err != nil {
				return err
			}
			out, err := svc.DecodeTokenSet(cmd.Context(), jwt.TokenSet{Access: access, ID: id, Userinfo: userinfo})
			if err != nil {
				kind, _ := jwt.FailedToken(err)
				return fmt.Errorf("%s rejected (%s): %w", emptyOr(string(kind), "token set"), jwt.Reason(err), err)
			}
			if validating {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.ok("[OK]"), "token set is valid")
			}
			return render(cmd.OutOrStdout(), *output, out)
		},
	}
	cmd.Flags().StringVar(&access, "access", "", "Access token")
	cmd.Flags().StringVar(&id, "id", "", "ID token")
	cmd.Flags().StringVar(&userinfo, "userinfo", "", "Userinfo token (optional)")
	cmd.Flags().StringSliceVar(&algs, "alg", []string{"RS256"}, "Accepted signature algorithms")
	cmd.Flags().DurationVar(&leeway, "leeway", 0, "Clock skew tolerance for exp/nbf")
	ks.register(cmd)
	return cmd
}

func keysCmd(output *string, ui *ui) *cobra.Command {
	var ks keyFlags
	cmd := &cobra.Command{
		Use:     "keys",
		Short:   "List the verification keys a key source provides",
		Example: "tokengate keys --jwks-url https://issuer.example/.well-known/jwks.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Loading keys..."
			spin.Writer = cmd.ErrOrStderr()
			spin.Start()
			store, validating, err := ks.store(cmd.Context())
			spin.Stop()
			if err != nil {
				return err
			}
			if !validating {
				return errors.New("one of --jwks-url, --jwks-file or --hs256-secret is required")
			}
			rows := describeKeys(store.Keys())
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %d key(s)\n", ui.ok("[OK]"), len(rows))
			return render(cmd.OutOrStdout(), *output, rows)
		},
	}
	ks.register(cmd)
	return cmd
}

func authorizeCmd(serverURL, output *string, ui *ui) *cobra.Command {
	var (
		access   string
		id       string
		userinfo string
		action   string
		resType  string
		resID    string
		payload  string
		reqCtx   string
	)
	cmd := &cobra.Command{
		Use:     "authorize",
		Short:   "Ask the tokengate server for an authorization decision",
		Example: "tokengate authorize --access $AT --id $IDT --action read --resource-type Document --resource-id doc-1 --payload '{\"owner\":\"user-1\"}'",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := authz.Request{
				AccessToken:   access,
				IDToken:       id,
				UserinfoToken: userinfo,
				Action:        action,
				Resource:      authz.Resource{ID: resID, Type: resType},
			}
			if err := parseObject(payload, &req.Resource.Payload); err != nil {
				return fmt.Errorf("invalid --payload: %w", err)
			}
			if err := parseObject(reqCtx, &req.Context); err != nil {
				return fmt.Errorf("invalid --context: %w", err)
			}

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Requesting decision..."
			spin.Writer = cmd.ErrOrStderr()
			spin.Start()
			status, resp, err := postJSON(cmd.Context(), *serverURL+"/v1/authorize", req)
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var decision authz.Decision
			if err := json.Unmarshal(resp, &decision); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(resp))
				return nil
			}
			verdict := ui.err("DENY")
			if decision.Allowed {
				verdict = ui.ok("ALLOW")
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", verdict, ui.dim(decision.ID))
			for _, r := range decision.Reasons {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s %s\n", ui.info("-"), r)
			}
			var raw any
			if err := json.Unmarshal(resp, &raw); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), *output, raw)
		},
	}
	cmd.Flags().StringVar(&access, "access", "", "Access token")
	cmd.Flags().StringVar(&id, "id", "", "ID token")
	cmd.Flags().StringVar(&userinfo, "userinfo", "", "Userinfo token (optional)")
	cmd.Flags().StringVar(&action, "action", "", "Action being performed")
	cmd.Flags().StringVar(&resType, "resource-type", "", "Resource type")
	cmd.Flags().StringVar(&resID, "resource-id", "", "Resource id")
	cmd.Flags().StringVar(&payload, "payload", "", "Resource payload as a JSON object")
	cmd.Flags().StringVar(&reqCtx, "context", "", "Request context as a JSON object")
	return cmd
}

func postJSON(ctx context.Context, url string, body any) (int, []byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func parseObject(s string, dst *map[string]any) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

// render writes v as indented JSON or YAML. YAML goes through a JSON round
// trip so custom MarshalJSON output is preserved.
func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func helpTemplate(ui *ui) string {
	title := ui.title("tokengate")
	return fmt.Sprintf(`%s: OIDC token set validation and policy decisions

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Examples:
  tokengate inspect $ACCESS_TOKEN
  tokengate keys --jwks-url https://issuer.example/.well-known/jwks.json
  tokengate decode --access $AT --id $IDT --alg HS256 --hs256-secret-prompt
  tokengate authorize --access $AT --id $IDT --action read --resource-type Document

`, title)
}

func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := termReadPassword()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
