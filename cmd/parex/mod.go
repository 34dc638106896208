// Package main implements a command line tool to run a block of transactions
// described in a YAML file through the validation services, print the result,
// and optionally persist the final state to a database on disk.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.dedis.ch/parex/contracts/counter"
	"go.dedis.ch/parex/contracts/value"
	"go.dedis.ch/parex/core/execution/native"
	"go.dedis.ch/parex/core/store"
	"go.dedis.ch/parex/core/store/kv"
	"go.dedis.ch/parex/core/store/mem"
	"go.dedis.ch/parex/core/txn"
	"go.dedis.ch/parex/core/txn/anon"
	"go.dedis.ch/parex/core/validation"
	"go.dedis.ch/parex/core/validation/parallel"
	"go.dedis.ch/parex/core/validation/simple"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// stateBucket is the database bucket holding the state of the world.
const stateBucket = "state"

// blockFile is the YAML description of a block: an optional initial state and
// the list of transactions to run against it.
type blockFile struct {
	Base map[string]string `yaml:"base"`

	Transactions []struct {
		Contract string            `yaml:"contract"`
		Args     map[string]string `yaml:"args"`
	} `yaml:"transactions"`
}

func makeApp() *cli.App {
	return &cli.App{
		Name:      "parex",
		Usage:     "run a block of transactions concurrently",
		ArgsUsage: "<block.yml>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "workers",
				Usage: "number of workers processing the block",
			},
			&cli.Uint64Flag{
				Name:  "gas-limit",
				Usage: "maximum amount of gas the block can consume",
			},
			&cli.IntFlag{
				Name:  "max-txns",
				Usage: "maximum number of transactions committed in the block",
			},
			&cli.BoolFlag{
				Name:  "sequential",
				Usage: "process the transactions one by one instead",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "path of the database holding the state across blocks",
			},
		},
		Action: run,
	}
}

func run(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return xerrors.New("expected the path of the block file")
	}

	block, err := loadBlock(cliCtx.Args().First())
	if err != nil {
		return err
	}

	var parent store.Readable = mem.NewStore()

	var db kv.DB
	if path := cliCtx.String("db"); path != "" {
		db, err = kv.New(path)
		if err != nil {
			return xerrors.Errorf("failed to open db: %v", err)
		}

		defer db.Close()

		parent = kv.NewReader(db, []byte(stateBucket))
	}

	base := mem.NewOverlay(parent)
	for key, v := range block.Base {
		base.Set([]byte(key), []byte(v))
	}

	txs, err := makeTxs(block)
	if err != nil {
		return err
	}

	data, err := makeService(cliCtx).Validate(base, txs)
	if err != nil {
		return xerrors.Errorf("failed to validate the block: %v", err)
	}

	printData(cliCtx.App.Writer, data)

	if db != nil {
		err = saveWrites(db, data)
		if err != nil {
			return err
		}
	}

	return nil
}

func loadBlock(path string) (blockFile, error) {
	block := blockFile{}

	buffer, err := os.ReadFile(path)
	if err != nil {
		return block, xerrors.Errorf("failed to read block file: %v", err)
	}

	err = yaml.Unmarshal(buffer, &block)
	if err != nil {
		return block, xerrors.Errorf("failed to parse block file: %v", err)
	}

	return block, nil
}

func makeTxs(block blockFile) ([]txn.Transaction, error) {
	txs := make([]txn.Transaction, len(block.Transactions))

	for i, desc := range block.Transactions {
		opts := []anon.TransactionOption{
			anon.WithArg(native.ContractArg, []byte(desc.Contract)),
		}

		for key, v := range desc.Args {
			opts = append(opts, anon.WithArg(key, []byte(v)))
		}

		tx, err := anon.NewTransaction(uint64(i), opts...)
		if err != nil {
			return nil, xerrors.Errorf("failed to make tx: %v", err)
		}

		txs[i] = tx
	}

	return txs, nil
}

func makeService(cliCtx *cli.Context) validation.Service {
	exec := native.NewExecution()
	value.RegisterContract(exec, value.NewContract())
	counter.RegisterContract(exec, counter.NewContract())

	config := validation.Config{
		GasLimit: cliCtx.Uint64("gas-limit"),
		MaxTxns:  cliCtx.Int("max-txns"),
	}

	if cliCtx.Bool("sequential") {
		return simple.NewService(exec, simple.WithConfig(config))
	}

	opts := []parallel.ServiceOption{parallel.WithConfig(config)}
	if workers := cliCtx.Int("workers"); workers > 0 {
		opts = append(opts, parallel.WithWorkers(workers))
	}

	return parallel.NewService(exec, opts...)
}

func printData(out io.Writer, data validation.Data) {
	for i, res := range data.Results {
		fmt.Fprintf(out, "tx %d: %s", i, res.Status)
		if res.Message != "" {
			fmt.Fprintf(out, " (%s)", res.Message)
		}
		fmt.Fprintf(out, " gas=%d\n", res.Gas)
	}

	for _, event := range data.Events {
		fmt.Fprintf(out, "event %s: %s\n", event.Name, event.Value)
	}

	for _, w := range data.Writes {
		if w.Deleted {
			fmt.Fprintf(out, "del %s\n", w.Key)
		} else {
			fmt.Fprintf(out, "set %s=%q\n", w.Key, w.Value)
		}
	}

	fmt.Fprintf(out, "gas used: %d\n", data.GasUsed)
}

func saveWrites(db kv.DB, data validation.Data) error {
	updates := make([]kv.KeyValue, len(data.Writes))
	for i, w := range data.Writes {
		updates[i] = kv.KeyValue{Key: w.Key}
		if !w.Deleted {
			updates[i].Value = w.Value
		}
	}

	err := kv.Save(db, []byte(stateBucket), updates)
	if err != nil {
		return xerrors.Errorf("failed to save the state: %v", err)
	}

	return nil
}
