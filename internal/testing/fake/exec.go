package fake

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
)

// ExecService is a fake execution service driven by the "cmd" argument of the
// transaction: a list of commands separated by semicolons, each made of
// space-separated tokens.
//
//	set <key> <value>     writes the value
//	del <key>             deletes the key
//	read <key>            reads the key and emits an event with the value
//	copy <src> <dst>      reads a key and writes the value to another one
//	rmw <key> <n>         reads the key as an integer and writes it plus n
//	inc <key> <n> [limit] emits a partial update incrementing the key
//	dec <key> <n> [limit] emits a partial update decrementing the key
//	gas <n>               reports n as the gas consumed
//	abort <msg>           rejects the transaction
//	halt                  ends the block after this transaction
//	err                   fails with a critical error
//
// - implements execution.Service
type ExecService struct {
	// Calls records the index of every executed transaction when set.
	Calls *Call
}

// Execute implements execution.Service. It interprets the commands of the
// transaction against the snapshot.
func (s ExecService) Execute(snap execution.Snapshot, step execution.Step) (execution.Result, error) {
	if s.Calls != nil {
		s.Calls.Add(step.Index)
	}

	res := execution.Result{Accepted: true, Gas: 1}

	script := string(step.Current.GetArg("cmd"))
	if script == "" {
		return res, nil
	}

	for _, command := range strings.Split(script, ";") {
		parts := strings.Fields(command)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "set":
			snap.Set([]byte(parts[1]), []byte(parts[2]))

		case "del":
			snap.Delete([]byte(parts[1]))

		case "read":
			value, err := snap.Get([]byte(parts[1]))
			if err != nil {
				return execution.Result{}, err
			}

			snap.EmitEvent(execution.Event{Name: parts[1], Value: value})

		case "copy":
			value, err := snap.Get([]byte(parts[1]))
			if err != nil {
				return execution.Result{}, err
			}

			snap.Set([]byte(parts[2]), value)

		case "rmw":
			value, err := snap.Get([]byte(parts[1]))
			if err != nil {
				return execution.Result{}, err
			}

			n, _ := strconv.ParseUint(parts[2], 10, 64)

			next := new(uint256.Int).Add(delta.FromBytes(value), uint256.NewInt(n))

			snap.Set([]byte(parts[1]), delta.Bytes(next))

		case "inc", "dec":
			n, _ := strconv.ParseUint(parts[2], 10, 64)

			limit := delta.MaxLimit
			if len(parts) > 3 {
				l, _ := strconv.ParseUint(parts[3], 10, 64)
				limit = uint256.NewInt(l)
			}

			op := delta.AddUint64(n, limit)
			if parts[0] == "dec" {
				op = delta.SubUint64(n, limit)
			}

			err := snap.AddDelta([]byte(parts[1]), op)
			if err != nil {
				return execution.Result{Message: err.Error(), Gas: res.Gas}, nil
			}

		case "gas":
			n, _ := strconv.ParseUint(parts[1], 10, 64)
			res.Gas = n

		case "abort":
			return execution.Result{Message: strings.Join(parts[1:], " "), Gas: res.Gas}, nil

		case "halt":
			res.Halting = true

		case "err":
			return execution.Result{}, GetError()
		}
	}

	return res, nil
}
