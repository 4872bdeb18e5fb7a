package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shakedasido/AutoLink/internal/api"
	"github.com/shakedasido/AutoLink/internal/httputil"
)

// runCtl sends one verb to a running instance and prints the JSON reply.
func runCtl(args []string, out io.Writer) error {
	return runCtlWith(args, out, nil)
}

func runCtlWith(args []string, out io.Writer, hc httputil.HTTPClient) error {
	fs := flag.NewFlagSet("ctl", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", "localhost:8080", "Address of the running autolink")
	reason := fs.String("reason", "", "Reason recorded with stop")
	limit := fs.Int("limit", 20, "Number of sessions to list")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if len(args) < 1 {
		return fmt.Errorf("usage: autolink ctl <status|dock|stop|disconnect|sessions> [flags]")
	}
	verb := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	client := api.NewClient(*addr, hc)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		result interface{}
		err    error
	)
	switch verb {
	case "status":
		result, err = client.Status(ctx)
	case "dock":
		result, err = client.Dock(ctx)
	case "stop":
		result, err = client.Stop(ctx, strings.TrimSpace(*reason))
	case "disconnect":
		result, err = client.Disconnect(ctx)
	case "sessions":
		result, err = client.Sessions(ctx, *limit)
	default:
		return fmt.Errorf("unknown ctl verb %q", verb)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
