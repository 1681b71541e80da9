package lib

import "errors"

var (
	ErrEmptyQueue      = errors.New("queue is empty")
	ErrQueueNotFound   = errors.New("queue not found")
	ErrFolderNotFound  = errors.New("queues folder not found")
	ErrNotQuarantined  = errors.New("message is not in the quarantine")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStoreVersion    = errors.New("unsupported store version")
)
