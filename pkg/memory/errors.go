package memory

import "errors"

var (
	// ErrStoreClosed is returned by stores used after Close.
	ErrStoreClosed = errors.New("memory store closed")

	// ErrDeleteRejected means a delete batch named an entry the vector store
	// does not hold. Nothing in the batch was deleted.
	ErrDeleteRejected = errors.New("vector store rejected delete")
)
