// Package anon implements the transaction abstraction with a plain bag of
// arguments and without any identity attached.
package anon

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"go.dedis.ch/parex/core/txn"
	"golang.org/x/xerrors"
)

// Transaction is an anonymous transaction. It contains arguments but no
// identity.
//
// - implements txn.Transaction
type Transaction struct {
	nonce uint64
	args  map[string][]byte
	hash  []byte
}

// TransactionOption is the type of options to create a transaction.
type TransactionOption func(*Transaction)

// WithArg is an option to set an argument with the key and the value.
func WithArg(key string, value []byte) TransactionOption {
	return func(tx *Transaction) {
		tx.args[key] = value
	}
}

// NewTransaction creates a new transaction with the provided nonce.
func NewTransaction(nonce uint64, opts ...TransactionOption) (Transaction, error) {
	tx := Transaction{
		nonce: nonce,
		args:  make(map[string][]byte),
	}

	for _, opt := range opts {
		opt(&tx)
	}

	h := sha256.New()

	err := tx.fingerprint(h)
	if err != nil {
		return tx, xerrors.Errorf("couldn't fingerprint tx: %v", err)
	}

	tx.hash = h.Sum(nil)

	return tx, nil
}

// GetID implements txn.Transaction. It returns the digest of the transaction.
func (t Transaction) GetID() []byte {
	return t.hash
}

// GetNonce implements txn.Transaction. It returns the nonce of the
// transaction.
func (t Transaction) GetNonce() uint64 {
	return t.nonce
}

// GetArg implements txn.Transaction. It returns the value of the argument if
// it is set, otherwise nil.
func (t Transaction) GetArg(key string) []byte {
	return t.args[key]
}

// GetArgs returns the list of arguments available.
func (t Transaction) GetArgs() []string {
	args := make([]string, 0, len(t.args))
	for key := range t.args {
		args = append(args, key)
	}

	sort.Strings(args)

	return args
}

// make sure the transaction implements the abstraction.
var _ txn.Transaction = Transaction{}

func (t Transaction) fingerprint(w interface{ Write([]byte) (int, error) }) error {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, t.nonce)

	_, err := w.Write(buffer)
	if err != nil {
		return xerrors.Errorf("couldn't write nonce: %v", err)
	}

	for _, key := range t.GetArgs() {
		_, err = w.Write(append([]byte(key), t.args[key]...))
		if err != nil {
			return xerrors.Errorf("couldn't write arg %s: %v", key, err)
		}
	}

	return nil
}
