// Package main implements the invoicectl CLI for manual operations against
// the invoiced HTTP server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/evaluator"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
)

var (
	// serverURL is the base URL for the invoiced HTTP server
	serverURL string
	// verdict flags for the process command
	approved bool
	rejected bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "CLI for invoiced HTTP server operations",
	Long: `invoicectl is a command-line interface for the invoiced daemon.
It submits documents to the correction pipeline, inspects vendor memories,
seeds the memory bank, and judges normalized documents offline.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "invoiced server URL")
	processCmd.Flags().BoolVar(&approved, "approved", false, "record a human approval for the applied corrections")
	processCmd.Flags().BoolVar(&rejected, "rejected", false, "record a human rejection for the applied corrections")
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(evaluateCmd)
}

// processCmd submits a document to the pipeline
var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Run a document through the correction pipeline",
	Long: `Submit a document JSON file (or stdin) to the invoiced server and print
the pipeline result: the normalized document, proposed corrections,
reasoning, and audit trail.

Examples:
  # Process a document
  invoicectl process invoice.json

  # Process from stdin
  cat invoice.json | invoicectl process -

  # Process and record the human verdict in the same run
  invoicectl process --approved invoice.json
  invoicectl process --rejected invoice.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check invoiced server health",
	RunE:  runHealth,
}

// memoriesCmd lists vendor memories
var memoriesCmd = &cobra.Command{
	Use:   "memories <vendor>",
	Short: "List learned correction memories for a vendor",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemories,
}

// bootstrapCmd seeds the memory bank from a correction history
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap <file>",
	Short: "Seed the memory bank from a correction history file",
	Long: `Seed the server's memory bank from a JSON correction history.

Example:
  invoicectl bootstrap history.json`,
	Args: cobra.ExactArgs(1),
	RunE: runBootstrap,
}

// evaluateCmd judges a normalized document offline
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [file]",
	Short: "Judge a normalized document against arithmetic ground truth",
	Long: `Judge a normalized document offline: identity fields present and
net + tax reconciling with gross within half a cent. The verdict can be
fed back with 'process --approved' or 'process --rejected'.

Examples:
  invoicectl evaluate normalized.json
  cat normalized.json | invoicectl evaluate -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

// ProcessRequest matches internal/server ProcessRequest
type ProcessRequest struct {
	Document      invoice.Document `json:"document"`
	HumanApproved *bool            `json:"humanApproved,omitempty"`
}

// HealthResponse matches internal/server HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// readInput reads a file argument, or stdin when the argument is absent
// or "-".
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, nil
}

// postJSON sends a JSON POST and returns the response body on 200.
func postJSON(path string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s%s", serverURL, path)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// runProcess handles the process command
func runProcess(cmd *cobra.Command, args []string) error {
	if approved && rejected {
		return fmt.Errorf("--approved and --rejected are mutually exclusive")
	}

	content, err := readInput(args)
	if err != nil {
		return err
	}

	var doc invoice.Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	req := ProcessRequest{Document: doc}
	if approved {
		v := true
		req.HumanApproved = &v
	} else if rejected {
		v := false
		req.HumanApproved = &v
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := postJSON("/api/v1/process", reqJSON)
	if err != nil {
		return err
	}

	return printIndented(respBody)
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server status: %s\n", healthResp.Status)
	return nil
}

// runMemories handles the memories command
func runMemories(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/memories/%s", serverURL, args[0])

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return printIndented(body)
}

// runBootstrap handles the bootstrap command
func runBootstrap(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", args[0], err)
	}

	respBody, err := postJSON("/api/v1/bootstrap", content)
	if err != nil {
		return err
	}

	return printIndented(respBody)
}

// runEvaluate handles the evaluate command
func runEvaluate(cmd *cobra.Command, args []string) error {
	content, err := readInput(args)
	if err != nil {
		return err
	}

	var doc invoice.Document
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}

	verdict, err := evaluator.NewArithmetic().Evaluate(context.Background(), &doc)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	fmt.Printf("%s: %s\n", verdict.Status, verdict.Reason)
	if !verdict.Approved() {
		os.Exit(1)
	}
	return nil
}

// printIndented pretty-prints a JSON body to stdout.
func printIndented(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Println(buf.String())
	return nil
}
