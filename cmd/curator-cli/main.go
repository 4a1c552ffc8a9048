package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "decide":
		return handleDecide(args[2:], stdout, stderr)
	case "reopen":
		return handleReopen(args[2:], stdout, stderr)
	case "balance":
		return handleBalance(args[2:], stdout, stderr)
	case "verify":
		return handleVerify(args[2:], stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

type commonFlags struct {
	addr    *string
	token   *string
	jsonOut *bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs, commonFlags{
		addr:    fs.String("addr", envOrDefault("CURATOR_ADDR", defaultAddr), "curator API address"),
		token:   fs.String("token", envOrDefault("CURATOR_TOKEN", os.Getenv("CURATOR_DEV_TOKEN")), "bearer token"),
		jsonOut: fs.Bool("json", false, "print raw JSON response"),
	}
}

func handleDecide(args []string, stdout io.Writer, stderr io.Writer) int {
	fs, common := newFlagSet("decide", stderr)
	verdict := fs.String("verdict", "", "approve or reject")
	note := fs.String("note", "", "moderator note")
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if *verdict == "" || fs.NArg() == 0 {
		fmt.Fprintln(stderr, "decide requires --verdict and at least one <contribution_id>")
		fs.Usage()
		return 2
	}

	reqBody, _ := json.Marshal(map[string]any{"ids": fs.Args(), "verdict": *verdict, "note": *note})
	respBody, status, err := httpDo(http.DefaultClient, http.MethodPost, *common.addr+"/v1/decisions", *common.token, reqBody)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "decide failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}
	if *common.jsonOut {
		_, _ = stdout.Write(respBody)
		return 0
	}

	var payload struct {
		Results map[string]struct {
			OK        bool   `json:"ok"`
			ErrorCode string `json:"error_code"`
			Status    string `json:"status"`
			Credited  string `json:"credited"`
			ReceiptID string `json:"receipt_id"`
		} `json:"results"`
		Failed []string `json:"failed"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}

	ids := make([]string, 0, len(payload.Results))
	for id := range payload.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		res := payload.Results[id]
		if res.OK {
			fmt.Fprintf(stdout, "ok id=%s status=%s credited=%s receipt_id=%s\n", id, res.Status, res.Credited, res.ReceiptID)
			continue
		}
		fmt.Fprintf(stdout, "failed id=%s error=%s\n", id, res.ErrorCode)
	}
	if len(payload.Failed) > 0 {
		return 1
	}
	return 0
}

func handleReopen(args []string, stdout io.Writer, stderr io.Writer) int {
	fs, common := newFlagSet("reopen", stderr)
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "reopen requires <contribution_id>")
		fs.Usage()
		return 2
	}
	id := fs.Arg(0)

	respBody, status, err := httpDo(http.DefaultClient, http.MethodPost, *common.addr+"/v1/contributions/"+url.PathEscape(id)+"/reopen", *common.token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "reopen failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}
	if *common.jsonOut {
		_, _ = stdout.Write(respBody)
		return 0
	}

	var payload struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		StakeStatus string `json:"stake_status"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "reopened id=%s status=%s stake_status=%s\n", payload.ID, payload.Status, payload.StakeStatus)
	return 0
}

func handleBalance(args []string, stdout io.Writer, stderr io.Writer) int {
	fs, common := newFlagSet("balance", stderr)
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "balance requires <user_id>")
		fs.Usage()
		return 2
	}

	respBody, status, err := httpDo(http.DefaultClient, http.MethodGet, *common.addr+"/v1/wallets/"+url.PathEscape(fs.Arg(0)), *common.token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if status != http.StatusOK {
		fmt.Fprintf(stderr, "balance failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}
	if *common.jsonOut {
		_, _ = stdout.Write(respBody)
		return 0
	}

	var payload struct {
		UserID  string `json:"user_id"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}
	fmt.Fprintf(stdout, "user_id=%s balance=%s\n", payload.UserID, payload.Balance)
	return 0
}

func handleVerify(args []string, stdout io.Writer, stderr io.Writer) int {
	fs, common := newFlagSet("verify", stderr)
	if err := fs.Parse(args); err != nil {
		fs.Usage()
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "verify requires <receipt_id>")
		fs.Usage()
		return 2
	}
	receiptID := fs.Arg(0)

	respBody, status, err := httpDo(http.DefaultClient, http.MethodGet, *common.addr+"/v1/verify/"+url.PathEscape(receiptID), *common.token, nil)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if *common.jsonOut {
		_, _ = stdout.Write(respBody)
		return 0
	}

	var payload struct {
		ReceiptID string `json:"receipt_id"`
		Valid     bool   `json:"valid"`
		Error     string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		fmt.Fprintln(stderr, "invalid response:", err)
		return 1
	}

	if status != http.StatusOK {
		fmt.Fprintf(stderr, "verify failed: %s\n", strings.TrimSpace(string(respBody)))
		return 1
	}

	if payload.Valid {
		fmt.Fprintf(stdout, "valid=true receipt_id=%s\n", payload.ReceiptID)
		return 0
	}
	fmt.Fprintf(stdout, "valid=false receipt_id=%s error=%s\n", payload.ReceiptID, payload.Error)
	return 1
}

func httpDo(client *http.Client, method, target string, token string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Curator CLI

Usage:
  curator decide --verdict approve|reject [--note TEXT] <contribution_id>... [--addr URL] [--token TOKEN] [--json]
  curator reopen <contribution_id> [--addr URL] [--token TOKEN] [--json]
  curator balance <user_id> [--addr URL] [--token TOKEN] [--json]
  curator verify <receipt_id> [--addr URL] [--token TOKEN] [--json]
`)
}
