package infer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ValentinKolb/aibroker/lib/core"
	"github.com/spf13/cobra"
)

var (
	operationID int32
	payloadFile string
	hexOutput   bool
	waitTimeout time.Duration
	statsJSON   bool

	runCmd = &cobra.Command{
		Use:   "run [payload]",
		Short: "Runs a synchronous request and prints the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args)
			if err != nil {
				return err
			}

			session, err := startSession()
			if err != nil {
				return err
			}
			defer session.Stop(nil)

			start := time.Now()
			resp, err := session.SyncExecute(&core.Request{OperationID: operationID, Payload: payload})
			if err != nil {
				return err
			}

			printResponse(resp)
			fmt.Printf("took %s\n", time.Since(start))
			return nil
		},
	}
	asyncCmd = &cobra.Command{
		Use:   "async [payload...]",
		Short: "Queues one asynchronous request per payload and prints the pushed replies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := startSession()
			if err != nil {
				return err
			}
			defer session.Stop(nil)

			replies := make(chan *core.Response, len(args))
			if err := session.SetListener(func(resp *core.Response) {
				replies <- resp
			}); err != nil {
				return err
			}

			for _, payload := range args {
				seq, err := session.AsyncExecute(&core.Request{OperationID: operationID, Payload: []byte(payload)})
				if err != nil {
					return fmt.Errorf("failed to queue %q: %w", payload, err)
				}
				fmt.Printf("queued seq=%d\n", seq)
			}

			timeout := time.After(waitTimeout)
			for range args {
				select {
				case resp := <-replies:
					printResponse(resp)
				case <-timeout:
					return fmt.Errorf("no reply after %s: %w", waitTimeout, core.ErrTimeout)
				}
			}
			return nil
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints the engines of the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := rpcClient.Stats()
			if err != nil {
				return err
			}

			if statsJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			if len(stats) == 0 {
				fmt.Println("no engines")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENGINE\tMODE\tSTATE\tREFS\tQUEUE\tPROCESSED\tFAILED\tREJECTED\tTIMEOUTS\tMEAN WAIT\tMEAN PROC\tP99 PROC\tUPTIME")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
					s.Key, s.Mode, s.State, s.RefCount, s.QueueLen, s.QueueCap,
					s.Processed, s.Failed, s.Rejected, s.Timeouts,
					s.MeanWait, s.MeanProcess, s.P99Process, s.Uptime.Truncate(time.Second))
			}
			return w.Flush()
		},
	}
)

func init() {
	runCmd.Flags().Int32Var(&operationID, "operation", 0, "Plugin specific operation id")
	runCmd.Flags().StringVar(&payloadFile, "file", "", "Read the payload from a file instead of the argument")
	asyncCmd.Flags().Int32Var(&operationID, "operation", 0, "Plugin specific operation id")
	asyncCmd.Flags().DurationVar(&waitTimeout, "wait", 30*time.Second, "How long to wait for all replies")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the stats as JSON")

	InferCommands.PersistentFlags().BoolVar(&hexOutput, "hex", false, "Print results hex encoded")
}

// readPayload returns the payload given as argument or read from --file
func readPayload(args []string) ([]byte, error) {
	if payloadFile != "" {
		return os.ReadFile(payloadFile)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("either a payload argument or --file is required")
	}
	return []byte(args[0]), nil
}

// printResponse prints one response line
func printResponse(resp *core.Response) {
	if err := resp.Err(); err != nil {
		fmt.Printf("seq=%d error=%v\n", resp.RequestID, err)
		return
	}

	result := string(resp.Result)
	if hexOutput {
		result = hex.EncodeToString(resp.Result)
	}
	fmt.Printf("seq=%d result=%s\n", resp.RequestID, result)
}
