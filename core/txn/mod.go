// Package txn defines the abstraction of transactions.
//
// A transaction is the input of an execution. It is uniquely identifiable via
// a digest and it carries a bag of arguments that the execution service is
// free to interpret. The engine treats the transaction as opaque: what it
// means is entirely defined by the execution service it is handed to,
// alongside a view of the state of the world.
package txn

// Transaction is what triggers an execution by passing it as part of the
// input.
type Transaction interface {
	// GetID returns the unique identifier for the transaction.
	GetID() []byte

	// GetNonce returns the nonce of the transaction which corresponds to the
	// sequence number of a unique identity.
	GetNonce() uint64

	// GetArg is a getter for the arguments of the transaction.
	GetArg(key string) []byte
}
