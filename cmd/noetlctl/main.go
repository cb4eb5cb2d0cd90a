// Command noetlctl is a thin convenience client against cmd/server's REST
// surface: submit an execution, check its status, or push a patch. Not
// named by spec.md; kept minimal.
//
// No example repo in the corpus uses a CLI framework directly (cobra only
// appears as an indirect dependency pulled in by viper, with no call site
// to imitate), so this stays on the standard library's flag package rather
// than adopting a library with nothing in the corpus grounding its usage.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	serverURL := os.Getenv("NOETL_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	switch os.Args[1] {
	case "submit":
		cmdSubmit(serverURL, os.Args[2:])
	case "status":
		cmdStatus(serverURL, os.Args[2:])
	case "patch":
		cmdPatch(serverURL, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: noetlctl <submit|status|patch> [flags]")
}

func cmdSubmit(serverURL string, args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	path := fs.String("path", "", "playbook catalog path (required)")
	version := fs.String("version", "", "playbook version")
	workload := fs.String("workload", "{}", "JSON workload object")
	fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "submit: -path is required")
		os.Exit(1)
	}

	var workloadNative interface{}
	if err := json.Unmarshal([]byte(*workload), &workloadNative); err != nil {
		fmt.Fprintf(os.Stderr, "submit: invalid -workload JSON: %v\n", err)
		os.Exit(1)
	}

	executionID := uuid.New().String()
	event := map[string]interface{}{
		"event_id":     uuid.New().String(),
		"execution_id": executionID,
		"event_type":   "execution_start",
		"status":       "running",
		"input_context": map[string]interface{}{
			"path":     *path,
			"version":  *version,
			"workload": workloadNative,
		},
		"metadata": map[string]interface{}{
			"playbook_path":    *path,
			"resource_version": *version,
		},
	}

	if err := postJSON(serverURL+"/events", event, nil); err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(executionID)
}

func cmdStatus(serverURL string, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	executionID := fs.String("execution-id", "", "execution id (required)")
	fs.Parse(args)

	if *executionID == "" {
		fmt.Fprintln(os.Stderr, "status: -execution-id is required")
		os.Exit(1)
	}

	var summary interface{}
	url := fmt.Sprintf("%s/executions/%s", serverURL, *executionID)
	if err := getJSON(url, &summary); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	printJSON(summary)
}

func cmdPatch(serverURL string, args []string) {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	executionID := fs.String("execution-id", "", "execution id (required)")
	opsFile := fs.String("ops", "", "path to a JSON Patch document (required)")
	description := fs.String("description", "", "human-readable patch description")
	createdBy := fs.String("created-by", "noetlctl", "patch author")
	fs.Parse(args)

	if *executionID == "" || *opsFile == "" {
		fmt.Fprintln(os.Stderr, "patch: -execution-id and -ops are required")
		os.Exit(1)
	}

	ops, err := os.ReadFile(*opsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "patch: read %s: %v\n", *opsFile, err)
		os.Exit(1)
	}

	var rawOps json.RawMessage = ops
	body := map[string]interface{}{
		"operations":  rawOps,
		"description": *description,
		"created_by":  *createdBy,
	}

	var result interface{}
	url := fmt.Sprintf("%s/executions/%s/patch", serverURL, *executionID)
	if err := postJSON(url, body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "patch: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postJSON(url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
