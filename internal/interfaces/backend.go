package interfaces

// Backend is the storage behind one simulated namespace. Offsets and
// lengths are in bytes; the simulator converts LBAs before calling in.
type Backend interface {
	// ReadAt reads len(p) bytes into p starting at offset off.
	// A short read returns a non-nil error.
	// Implementations must not retain p.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes len(p) bytes from p at offset off.
	// WriteAt must return a non-nil error if it returns n < len(p).
	// Implementations must not retain p.
	WriteAt(p []byte, off int64) (n int, err error)

	// Size returns the capacity in bytes
	Size() int64

	// Flush makes completed writes durable; it backs the NVM Flush command
	Flush() error

	// Close releases the backend. No other method may be called afterwards.
	Close() error
}

// WriteZeroesBackend is an optional interface for efficient zero-writing,
// used when a namespace is formatted.
type WriteZeroesBackend interface {
	Backend

	WriteZeroes(offset, length int64) error
}

// StatBackend is an optional interface that provides backend statistics.
type StatBackend interface {
	Backend

	// Stats returns backend-specific statistics keyed by name
	Stats() map[string]interface{}
}
