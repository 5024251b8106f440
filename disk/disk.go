package disk

// Block is a BlockSize-byte buffer
type Block = []byte

// BlockSize is the fixed unit of every device transfer.
const BlockSize uint64 = 2048

// Disk provides access to a logical block-based disk
type Disk interface {
	// Read reads a disk block by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

// MustRead reads block a and panics if the device reports an error; the
// layers above the device have no way to continue without the block.
func MustRead(d Disk, a uint64) Block {
	b, err := d.Read(a)
	if err != nil {
		panic(err)
	}
	return b
}

// MustWrite is the write counterpart of MustRead.
func MustWrite(d Disk, a uint64, v Block) {
	if err := d.Write(a, v); err != nil {
		panic(err)
	}
}
