package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"conductor/internal/types"
)

func printSessions(output io.Writer, sessions []*types.Session) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTITLE\tMODEL\tTHREAD\tUPDATED")
	for _, session := range sessions {
		thread := session.ThreadID
		if thread == "" {
			thread = "-"
		}
		model := session.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			session.ID, session.Title, model, thread,
			session.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = writer.Flush()
}

func printTasks(output io.Writer, tasks []*types.Task) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTATUS\tMODEL\tSESSIONS\tTITLE")
	for _, task := range tasks {
		model := task.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n",
			task.ID, task.Status, model, len(task.SessionIDs), task.Title,
		)
	}
	_ = writer.Flush()
}

func printServers(output io.Writer, servers []*types.CapabilityServer) {
	writer := tabwriter.NewWriter(output, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tENABLED\tTRANSPORT\tCOMMAND\tSCOPE")
	for _, server := range servers {
		scope := "all sessions"
		if len(server.Sessions) > 0 {
			scope = fmt.Sprintf("%d sessions", len(server.Sessions))
		}
		command := strings.TrimSpace(strings.Join(append([]string{server.Command}, server.Args...), " "))
		if command == "" {
			command = server.URL
		}
		fmt.Fprintf(writer, "%s\t%t\t%s\t%s\t%s\n",
			server.Name, server.Enabled, server.EffectiveTransport(), command, scope,
		)
	}
	_ = writer.Flush()
}

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// parseEnvPairs splits repeatable KEY=VALUE flags into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env pair %q, expected KEY=VALUE", pair)
		}
		out[key] = value
	}
	return out, nil
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}
