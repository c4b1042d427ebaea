// Command treekeepctl is a minimal client for exercising a treekeep
// cluster by hand: open a session, run a tree command against the
// current leader, and print the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	v1 "github.com/mrshabel/treekeep/api/v1"
	"github.com/mrshabel/treekeep/internal/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8400", "address of a server believed to be leader")
	op := flag.String("op", "", "tree operation: mkdir|ls|rmdir|write|read|rm")
	path := flag.String("path", "/", "tree path the operation applies to")
	contents := flag.String("contents", "", "file contents for -op=write")
	flag.Parse()

	if *op == "" {
		fmt.Fprintln(os.Stderr, "treekeepctl: -op is required")
		os.Exit(1)
	}

	treeOp, err := parseOp(*op)
	if err != nil {
		fmt.Fprintln(os.Stderr, "treekeepctl:", err)
		os.Exit(1)
	}

	dialer := transport.NewDialer()
	defer dialer.Close()
	client := dialer.NewClient(*addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := runCommand(ctx, client, treeOp, *path, *contents); err != nil {
		fmt.Fprintln(os.Stderr, "treekeepctl:", err)
		os.Exit(1)
	}
}

func parseOp(op string) (v1.TreeOp, error) {
	switch op {
	case "mkdir":
		return v1.TreeOpMakeDirectory, nil
	case "ls":
		return v1.TreeOpListDirectory, nil
	case "rmdir":
		return v1.TreeOpRemoveDirectory, nil
	case "write":
		return v1.TreeOpWrite, nil
	case "read":
		return v1.TreeOpRead, nil
	case "rm":
		return v1.TreeOpRemoveFile, nil
	default:
		return 0, fmt.Errorf("unknown -op %q", op)
	}
}

func isRead(op v1.TreeOp) bool {
	return op == v1.TreeOpRead || op == v1.TreeOpListDirectory
}

func runCommand(ctx context.Context, client *transport.Client, op v1.TreeOp, path, contents string) error {
	cmd := v1.TreeCommand{Op: op, Path: path, Contents: contents}

	if isRead(op) {
		resp, err := client.Query(ctx, &v1.QueryRequest{Command: cmd})
		if err != nil {
			return err
		}
		return printResponse(resp.Status, resp.Error, resp.Payload)
	}

	session, err := client.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer client.CloseSession(ctx, session.ClientID)

	resp, err := client.Execute(ctx, &v1.ExecuteRequest{
		ClientID:            session.ClientID,
		FirstOutstandingRPC: 1,
		RPCNumber:           1,
		Command:             cmd,
	})
	if err != nil {
		return err
	}
	return printResponse(resp.Status, resp.Error, resp.Payload)
}

func printResponse(status v1.Status, errMsg, payload string) error {
	if status != v1.StatusOK {
		return fmt.Errorf("status %d: %s", status, errMsg)
	}
	if payload == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		fmt.Println(payload)
		return nil
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
	return nil
}
