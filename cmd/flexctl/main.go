package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/lyhniupi1/flexgate"
	"github.com/lyhniupi1/flexgate/protocol"
)

var json = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

var errMissingProcess = errors.New("flexctl: -process or -batch is required")

func main() {
	// go test ./... may execute command mains; never dial from a test binary.
	if strings.HasSuffix(filepath.Base(os.Args[0]), ".test") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	log.Printf("flexctl base_url=%s (%s) timeout=%s (%s) config=%s loaded=%v",
		c.BaseURL(), cfg.baseURLSource, cfg.timeout, cfg.timeoutSource, cfg.configPath, cfg.configLoaded)

	if cfg.batch != "" {
		b, err := readBatchFile(cfg.batch)
		if err != nil {
			return err
		}
		results := runBatch(ctx, c, b.Calls, cfg.unwrap)
		return printBatch(stdout, results)
	}

	if cfg.process == "" {
		return errMissingProcess
	}
	params, err := parseParams(cfg.params)
	if err != nil {
		return err
	}
	opts, err := callOptions(cfg.method, cfg.headers)
	if err != nil {
		return err
	}

	out, err := dispatch(ctx, c, cfg.process, params, cfg.unwrap, opts...)
	if err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func newClient(cfg clientConfig) (*flexgate.Client, error) {
	opts := []flexgate.Option{flexgate.WithTimeout(cfg.timeout)}
	if cfg.tranID {
		opts = append(opts, flexgate.WithRequestHead(func(process string) protocol.RequestHead {
			return protocol.RequestHead{TranProcess: process, TranID: uuid.NewString()}
		}))
	}
	return flexgate.NewClient(cfg.baseURL, opts...)
}

// parseParams turns the -params JSON text into REQ_BODY. Empty means null.
func parseParams(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var v any
	if err := json.UnmarshalFromString(s, &v); err != nil {
		return nil, fmt.Errorf("flexctl: -params is not valid JSON: %w", err)
	}
	return v, nil
}

func callOptions(method string, headers []string) ([]flexgate.CallOption, error) {
	var opts []flexgate.CallOption
	if method != "" {
		opts = append(opts, flexgate.WithMethod(method))
	}
	if len(headers) > 0 {
		h := http.Header{}
		for _, kv := range headers {
			k, v, ok := strings.Cut(kv, ":")
			if !ok || strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("flexctl: bad header %q", kv)
			}
			h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}
		opts = append(opts, flexgate.WithHeaders(h))
	}
	return opts, nil
}

// dispatch performs one call. With unwrap the backend response envelope is
// checked and only RESP_BODY is returned.
func dispatch(ctx context.Context, c *flexgate.Client, process string, params any, unwrap bool, opts ...flexgate.CallOption) (any, error) {
	out, err := c.Dispatch(ctx, process, params, opts...)
	if err != nil || !unwrap {
		return out, err
	}
	resp, err := protocol.DecodeResponse(out)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var body any
	if err := resp.DecodeBody(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
