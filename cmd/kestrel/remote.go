package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-wm/kestrel/internal/errors"
	"github.com/kestrel-wm/kestrel/pkg/diag"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// remote talks to the diagnostic endpoint of a running server.
type remote struct {
	addr   string
	client *http.Client
}

func newRemote(addr string) *remote {
	return &remote{addr: addr, client: &http.Client{Timeout: 5 * time.Second}}
}

func (r *remote) url(path string) string {
	if strings.Contains(r.addr, "://") {
		return strings.TrimSuffix(r.addr, "/") + path
	}
	return "http://" + r.addr + path
}

// do sends a request and decodes a JSON response into out.
func (r *remote) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.url(path), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return errors.New("K300").WithDetail(r.addr).Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New("K301").WithDetailf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func addrFlag(cmd *cobra.Command, addr *string) {
	cmd.PersistentFlags().StringVarP(addr, "addr", "a", defaultDiagAddr, "Diagnostic endpoint of the running server")
}

func logLevelCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "log-level [level]",
		Short: "Show or change the log level of a running server",
		Long: `Show or change the log level of a running server.

Levels: error, warn, info, debug, trace.

Examples:
  kestrel log-level
  kestrel log-level debug`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newRemote(addr)
			var got diag.LogLevel
			if len(args) == 0 {
				if err := r.do(cmd.Context(), http.MethodGet, "/debug/log-level", nil, &got); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), got.Level)
				return nil
			}
			var level levelFlag
			if err := level.Set(args[0]); err != nil {
				return err
			}
			want := diag.LogLevel{Level: server.LevelName(level.level)}
			if err := r.do(cmd.Context(), http.MethodPut, "/debug/log-level", want, &got); err != nil {
				return err
			}
			success("Log level set to %s", got.Level)
			return nil
		},
	}
	addrFlag(cmd, &addr)
	return cmd
}

func inspectCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect a running server",
	}
	addrFlag(cmd, &addr)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "globals",
			Short: "List the advertised globals",
			RunE: func(cmd *cobra.Command, args []string) error {
				var list []server.GlobalInfo
				if err := newRemote(addr).do(cmd.Context(), http.MethodGet, "/debug/globals", nil, &list); err != nil {
					return err
				}
				printGlobals(cmd.OutOrStdout(), list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "clients",
			Short: "List connected clients",
			RunE: func(cmd *cobra.Command, args []string) error {
				var list []server.ClientInfo
				if err := newRemote(addr).do(cmd.Context(), http.MethodGet, "/debug/clients", nil, &list); err != nil {
					return err
				}
				printClients(cmd.OutOrStdout(), list, time.Now())
				return nil
			},
		},
		&cobra.Command{
			Use:   "leaks",
			Short: "List objects of disconnected clients that were never freed",
			RunE: func(cmd *cobra.Command, args []string) error {
				var list []server.Leak
				if err := newRemote(addr).do(cmd.Context(), http.MethodGet, "/debug/leaks", nil, &list); err != nil {
					return err
				}
				printLeaks(cmd.OutOrStdout(), list)
				return nil
			},
		},
	)
	return cmd
}

func printGlobals(w io.Writer, list []server.GlobalInfo) {
	fmt.Fprintf(w, "%-6s %-40s %-7s %s\n", "NAME", "INTERFACE", "VERSION", "FLAGS")
	for _, g := range list {
		var flags []string
		if g.Singleton {
			flags = append(flags, "singleton")
		}
		if g.Secure {
			flags = append(flags, "secure")
		}
		fmt.Fprintf(w, "%-6d %-40s %-7d %s\n", g.Name, g.Interface, g.Version, strings.Join(flags, ","))
	}
}

func printClients(w io.Writer, list []server.ClientInfo, now time.Time) {
	fmt.Fprintf(w, "%-6s %-10s %-8s %s\n", "ID", "PRIVILEGED", "OBJECTS", "CONNECTED")
	for _, c := range list {
		fmt.Fprintf(w, "%-6d %-10t %-8d %s\n", c.ID, c.Privileged, c.Objects, now.Sub(c.Connected).Round(time.Second))
	}
}

func printLeaks(w io.Writer, list []server.Leak) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no leaks")
		return
	}
	fmt.Fprintf(w, "%-6s %-10s %-40s %s\n", "CLIENT", "OBJECT", "INTERFACE", "AGE")
	for _, l := range list {
		fmt.Fprintf(w, "%-6d %-10d %-40s %s\n", l.Client, l.Object, l.Interface, l.Age.Round(time.Second))
	}
}
