package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"

	"zkevm-bus-mapping/builder"
	"zkevm-bus-mapping/mock"
	"zkevm-bus-mapping/witness"
)

var args struct {
	Bytecode  string `arg:"-b,--bytecode,required" help:"Contract bytecode (hex string, with or without 0x prefix)"`
	Calldata  string `arg:"-c,--calldata" help:"Call data (hex string, with or without 0x prefix)"`
	Output    string `arg:"-o,--output" help:"Write the rw table as JSON to this file"`
	Verbosity int    `arg:"-v,--verbosity" default:"3" help:"Log level (0=crit, 5=trace)"`
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func printSteps(tx *builder.Transaction) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "step", "pc", "call", "rwc", "rws", "error"})
	for i := range tx.Steps {
		step := &tx.Steps[i]
		name := step.ExecState.String()
		if step.ExecState == builder.ExecStateOp {
			name = step.Op.String()
		}
		var stepErr string
		if step.Error != nil {
			stepErr = step.Error.String()
		}
		table.Append([]string{
			strconv.Itoa(i),
			name,
			strconv.FormatUint(step.Pc, 10),
			strconv.Itoa(step.CallIndex),
			strconv.FormatUint(uint64(step.Rwc), 10),
			strconv.Itoa(step.RwIndices()),
			stepErr,
		})
	}
	table.Render()
}

func main() {
	arg.MustParse(&args)
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(args.Verbosity), true)))

	bytecode, err := decodeHex(args.Bytecode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding bytecode: %v\n", err)
		os.Exit(1)
	}
	var calldata []byte
	if args.Calldata != "" {
		calldata, err = decodeHex(args.Calldata)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding calldata: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := mock.NewTestContext(bytecode).WithCallData(calldata)
	block, err := builder.TraceAndBuild(ctx.Config(), builder.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building block: %v\n", err)
		os.Exit(1)
	}

	tx := block.Txs[0]
	printSteps(tx)
	fmt.Printf("calls=%d failed=%t gas=%d rws=%d copy_rows=%d\n",
		len(tx.Calls), tx.Failed, tx.GasUsed, int(block.Rwc)-1, block.CopyRows())

	rws := witness.NewRwMap(block.Container)
	if err := rws.CheckRwCounterSanity(); err != nil {
		fmt.Fprintf(os.Stderr, "Rw counter check failed: %v\n", err)
		os.Exit(1)
	}
	if err := rws.CheckValue(); err != nil {
		fmt.Fprintf(os.Stderr, "Rw value check failed: %v\n", err)
		os.Exit(1)
	}

	if args.Output == "" {
		return
	}
	data, err := json.MarshalIndent(rws.TableAssignments(true), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding rw table: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(args.Output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", args.Output, err)
		os.Exit(1)
	}
	log.Info("Wrote rw table", "file", args.Output, "rows", rws.Len())
}
