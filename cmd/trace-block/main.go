package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"zkevm-bus-mapping/builder"
	"zkevm-bus-mapping/tracer"
	"zkevm-bus-mapping/witness"
)

var args struct {
	Config      string `arg:"-c,--config,required" help:"Trace config JSON: block constants, accounts and transactions"`
	Output      string `arg:"-o,--output" default:"block.json" help:"Output file path"`
	MaxRws      int    `arg:"--max-rws" help:"Pad the rw table to this many rows (0 leaves it unpadded)"`
	MaxCopyRows int    `arg:"--max-copy-rows" help:"Fail when the copy events need more rows"`
	Verbosity   int    `arg:"-v,--verbosity" default:"3" help:"Log level (0=crit, 5=trace)"`
}

type txSummary struct {
	ID      int      `json:"id"`
	Failed  bool     `json:"failed"`
	GasUsed uint64   `json:"gas_used"`
	Calls   int      `json:"calls"`
	Steps   []string `json:"steps"`
}

type blockWitness struct {
	Txs               []txSummary          `json:"txs"`
	CumulativeGasUsed uint64               `json:"cumulative_gas_used"`
	Rws               []witness.Rw         `json:"rws"`
	Padding           int                  `json:"padding"`
	CopyEvents        []*builder.CopyEvent `json:"copy_events"`
	ExpEvents         []*builder.ExpEvent  `json:"exp_events"`
	Sha3Inputs        []hexutil.Bytes      `json:"sha3_inputs"`
}

func run() error {
	cfg, err := tracer.LoadTraceConfig(args.Config)
	if err != nil {
		return err
	}
	log.Info("Tracing block", "config", args.Config, "txs", len(cfg.Transactions), "accounts", len(cfg.Accounts))

	block, err := builder.TraceAndBuild(cfg, builder.Config{MaxRws: args.MaxRws, MaxCopyRows: args.MaxCopyRows})
	if err != nil {
		return err
	}

	rws := witness.NewRwMap(block.Container)
	if err := rws.CheckRwCounterSanity(); err != nil {
		return err
	}
	if err := rws.CheckValue(); err != nil {
		return err
	}
	rows, padding, err := witness.TableAssignmentsPadding(rws.TableAssignments(false), args.MaxRws)
	if err != nil {
		return err
	}

	out := blockWitness{
		CumulativeGasUsed: block.CumulativeGasUsed,
		Rws:               rows,
		Padding:           padding,
		CopyEvents:        block.CopyEventsSortedByKey(),
		ExpEvents:         block.ExpEvents,
	}
	for _, tx := range block.Txs {
		summary := txSummary{ID: tx.ID, Failed: tx.Failed, GasUsed: tx.GasUsed, Calls: len(tx.Calls)}
		for i := range tx.Steps {
			summary.Steps = append(summary.Steps, tx.Steps[i].String())
		}
		out.Txs = append(out.Txs, summary)
	}
	for _, input := range block.Sha3Inputs {
		out.Sha3Inputs = append(out.Sha3Inputs, input)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode block witness: %w", err)
	}
	if err := os.WriteFile(args.Output, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", args.Output, err)
	}
	log.Info("Wrote block witness", "file", args.Output, "rws", rws.Len(), "padding", padding, "copy_rows", block.CopyRows(), "exp_events", len(block.ExpEvents))
	return nil
}

func main() {
	arg.MustParse(&args)
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(args.Verbosity), true)))

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
