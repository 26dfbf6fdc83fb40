package sim

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

var (
	idGeneratorLock sync.Mutex
	idGenerator     IDGenerator
)

// UseSequentialIDGenerator makes IDs count up from 1. Two runs of the same
// workload then produce the same IDs. This is the default.
func UseSequentialIDGenerator() {
	setIDGenerator(&sequentialIDGenerator{})
}

// UseUniqueIDGenerator makes IDs globally unique, so that recordings of
// several runs can be merged.
func UseUniqueIDGenerator() {
	setIDGenerator(uniqueIDGenerator{})
}

func setIDGenerator(g IDGenerator) {
	idGeneratorLock.Lock()
	defer idGeneratorLock.Unlock()

	if idGenerator != nil {
		panic("cannot change id generator type after using it")
	}

	idGenerator = g
}

// GetIDGenerator returns the ID generator used in the current system
func GetIDGenerator() IDGenerator {
	idGeneratorLock.Lock()
	defer idGeneratorLock.Unlock()

	if idGenerator == nil {
		idGenerator = &sequentialIDGenerator{}
	}

	return idGenerator
}

type sequentialIDGenerator struct {
	last atomic.Uint64
}

func (g *sequentialIDGenerator) Generate() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

type uniqueIDGenerator struct{}

func (uniqueIDGenerator) Generate() string {
	return xid.New().String()
}
