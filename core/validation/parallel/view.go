package parallel

import (
	"bytes"

	"golang.org/x/xerrors"
)

// errBlocked interrupts an execution that read an estimate. The worker turns
// it into a suspension, whatever the execution made of the error.
var errBlocked = xerrors.New("read blocked on a pending write")

// view is the store a speculative execution reads through. It asks the
// multi-version store on behalf of its transaction, records a descriptor for
// every read, and caches the answers so that the execution sees a single
// consistent snapshot even if the underlying entries move while it runs.
//
// - implements store.Readable
type view struct {
	store *mvStore
	index int

	reads   []readDesc
	answers map[string][]byte

	blockedOn int
}

func newView(store *mvStore, index int) *view {
	return &view{
		store:     store,
		index:     index,
		answers:   make(map[string][]byte),
		blockedOn: -1,
	}
}

// Get implements store.Readable. It returns the value of the key as seen by
// the transaction of the view.
func (v *view) Get(key []byte) ([]byte, error) {
	if v.blockedOn >= 0 {
		return nil, errBlocked
	}

	if value, found := v.answers[string(key)]; found {
		return value, nil
	}

	res, err := v.store.read(string(key), v.index)
	if err != nil {
		return nil, err
	}

	desc := readDesc{key: string(key)}

	switch res.status {
	case readBlocked:
		v.blockedOn = res.dep

		return nil, errBlocked

	case readFound:
		desc.kind = readVersion
		desc.version = res.version

	case readBase:
		desc.kind = readStorage

	default:
		desc.kind = readResolved
		desc.value = res.value
	}

	v.reads = append(v.reads, desc)
	v.answers[string(key)] = res.observable()

	return res.observable(), nil
}

// validateReadSet re-reads the recorded reads of the latest attempt of the
// transaction and reports whether they would all get the same answer today. A
// read answered by a write is valid when the exact same incarnation still
// answers it, a read from the base state when no smaller transaction wrote
// the key since, and a resolved aggregator read when it resolves to the same
// value.
func validateReadSet(store *mvStore, index int, reads []readDesc) (bool, error) {
	for _, desc := range reads {
		res, err := store.read(desc.key, index)
		if err != nil {
			return false, err
		}

		if res.status == readBlocked {
			return false, nil
		}

		switch desc.kind {
		case readVersion:
			if res.status != readFound || res.version != desc.version {
				return false, nil
			}

		case readStorage:
			if res.status != readBase {
				return false, nil
			}

		default:
			if !bytes.Equal(res.observable(), desc.value) {
				return false, nil
			}
		}
	}

	return true, nil
}
