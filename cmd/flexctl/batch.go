package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/lyhniupi1/flexgate"
)

const batchConcurrency = 8

// batchFile is the -batch YAML document:
//
//	calls:
//	  - name: todos
//	    process: queryTodoListProcess
//	  - process: addTodoProcess
//	    params: {title: ship}
//	    method: POST
//	    headers: {X-Trace: abc}
type batchFile struct {
	Calls []batchCall `yaml:"calls"`
}

type batchCall struct {
	Name    string            `yaml:"name"`
	Process string            `yaml:"process"`
	Params  any               `yaml:"params"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

func (c batchCall) label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Process
}

type batchResult struct {
	Name    string `json:"name"`
	Process string `json:"process"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

var errBatchFailed = errors.New("flexctl: one or more batch calls failed")

func readBatchFile(path string) (batchFile, error) {
	fd, err := os.Open(path)
	if err != nil {
		return batchFile{}, err
	}
	defer fd.Close()
	return parseBatch(fd)
}

func parseBatch(r io.Reader) (batchFile, error) {
	var b batchFile
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return batchFile{}, errors.New("flexctl: batch file is empty")
		}
		return batchFile{}, fmt.Errorf("flexctl: parse batch: %w", err)
	}
	if len(b.Calls) == 0 {
		return batchFile{}, errors.New("flexctl: batch has no calls")
	}
	for i, c := range b.Calls {
		if strings.TrimSpace(c.Process) == "" {
			return batchFile{}, fmt.Errorf("flexctl: batch call %d has no process", i)
		}
	}
	return b, nil
}

// runBatch issues every call concurrently. A failed call never cancels the
// others; each outcome lands in its own slot, in input order.
func runBatch(ctx context.Context, c *flexgate.Client, calls []batchCall, unwrap bool) []batchResult {
	results := make([]batchResult, len(calls))

	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i, call := range calls {
		g.Go(func() error {
			res := batchResult{Name: call.label(), Process: call.Process}
			out, err := runCall(ctx, c, call, unwrap)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Result = out
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runCall(ctx context.Context, c *flexgate.Client, call batchCall, unwrap bool) (any, error) {
	headers := make([]string, 0, len(call.Headers))
	for k, v := range call.Headers {
		headers = append(headers, k+": "+v)
	}
	opts, err := callOptions(call.Method, headers)
	if err != nil {
		return nil, err
	}
	return dispatch(ctx, c, call.Process, call.Params, unwrap, opts...)
}

func printBatch(w io.Writer, results []batchResult) error {
	if err := printJSON(w, results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != "" {
			return errBatchFailed
		}
	}
	return nil
}
