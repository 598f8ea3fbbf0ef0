package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"

	"trustledger/storage"
)

const (
	// GenesisTimestamp is the fixed timestamp recorded in every genesis header.
	GenesisTimestamp uint64 = 1672531200
	headerCacheSize         = 1024
	headerGasLimit   uint64 = 30_000_000
)

var (
	headKey      = []byte("chain:head")
	headerPrefix = []byte("chain:header:")

	// ErrUnknownHeader is returned when no header exists at the requested height.
	ErrUnknownHeader = errors.New("chain: unknown header")
)

// BalanceSource exposes committed account balances.
type BalanceSource interface {
	CurrentBalanceOf(addr common.Address) (*big.Int, error)
}

// History is the authoritative append-only header sequence. Header hashes are
// the chain-state fingerprints conditional payments are checked against.
type History struct {
	db       storage.Database
	balances BalanceSource
	cache    *lru.Cache[uint64, *gethtypes.Header]
	nowFn    func() uint64

	mu   sync.RWMutex
	head *gethtypes.Header
}

// Open loads the header history stored in db, writing a genesis header when
// the store is empty. The network name is embedded in the genesis extra data
// so that distinct networks never share a genesis hash.
func Open(db storage.Database, balances BalanceSource, network string) (*History, error) {
	cache, err := lru.New[uint64, *gethtypes.Header](headerCacheSize)
	if err != nil {
		return nil, err
	}
	h := &History{
		db:       db,
		balances: balances,
		cache:    cache,
		nowFn:    func() uint64 { return uint64(time.Now().Unix()) },
	}
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		genesis := newHeader(nil, common.Hash{}, GenesisTimestamp, []byte(network))
		if err := h.write(genesis); err != nil {
			return nil, fmt.Errorf("chain: write genesis: %w", err)
		}
		h.head = genesis
		return h, nil
	case err != nil:
		return nil, err
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("chain: corrupt head pointer")
	}
	head, err := h.load(binary.BigEndian.Uint64(raw))
	if err != nil {
		return nil, fmt.Errorf("chain: load head: %w", err)
	}
	h.head = head
	return h, nil
}

// SetNowFunc overrides the clock used for sealed header timestamps. Primarily
// intended for tests.
func (h *History) SetNowFunc(now func() uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now == nil {
		h.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	h.nowFn = now
}

func newHeader(parent *gethtypes.Header, txHash common.Hash, ts uint64, extra []byte) *gethtypes.Header {
	number := big.NewInt(0)
	parentHash := common.Hash{}
	if parent != nil {
		number = new(big.Int).Add(parent.Number, big.NewInt(1))
		parentHash = parent.Hash()
	}
	txRoot := gethtypes.EmptyTxsHash
	if txHash != (common.Hash{}) {
		txRoot = txHash
	}
	return &gethtypes.Header{
		ParentHash:  parentHash,
		UncleHash:   gethtypes.EmptyUncleHash,
		Root:        gethtypes.EmptyRootHash,
		TxHash:      txRoot,
		ReceiptHash: gethtypes.EmptyReceiptsHash,
		Difficulty:  big.NewInt(0),
		Number:      number,
		GasLimit:    headerGasLimit,
		Time:        ts,
		Extra:       extra,
	}
}

func headerKey(number uint64) []byte {
	buf := make([]byte, len(headerPrefix)+8)
	copy(buf, headerPrefix)
	binary.BigEndian.PutUint64(buf[len(headerPrefix):], number)
	return buf
}

func headerWrites(header *gethtypes.Header) ([]storage.KV, error) {
	encoded, err := rlp.EncodeToBytes(header)
	if err != nil {
		return nil, err
	}
	number := header.Number.Uint64()
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, number)
	return []storage.KV{
		{Key: headerKey(number), Value: encoded},
		{Key: headKey, Value: head},
	}, nil
}

func (h *History) write(header *gethtypes.Header) error {
	writes, err := headerWrites(header)
	if err != nil {
		return err
	}
	if err := h.db.WriteBatch(writes); err != nil {
		return err
	}
	h.cache.Add(header.Number.Uint64(), header)
	return nil
}

func (h *History) load(number uint64) (*gethtypes.Header, error) {
	if header, ok := h.cache.Get(number); ok {
		return header, nil
	}
	raw, err := h.db.Get(headerKey(number))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHeader, number)
	}
	if err != nil {
		return nil, err
	}
	header := new(gethtypes.Header)
	if err := rlp.DecodeBytes(raw, header); err != nil {
		return nil, fmt.Errorf("chain: decode header %d: %w", number, err)
	}
	h.cache.Add(number, header)
	return header, nil
}

func (h *History) next(txHash common.Hash) *gethtypes.Header {
	ts := h.nowFn()
	if ts <= h.head.Time {
		ts = h.head.Time + 1
	}
	return newHeader(h.head, txHash, ts, nil)
}

// Seal appends a header committing to txHash and returns it.
func (h *History) Seal(txHash common.Hash) (*gethtypes.Header, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	header := h.next(txHash)
	if err := h.write(header); err != nil {
		return nil, fmt.Errorf("chain: seal: %w", err)
	}
	h.head = header
	return gethtypes.CopyHeader(header), nil
}

// PrepareSeal builds the header that would follow the head and commit to
// txHash, together with the writes persisting it. Nothing is stored: the
// caller writes the batch and then calls Advance. Calls must be serialised
// with Advance so that no other header is appended in between.
func (h *History) PrepareSeal(txHash common.Hash) (*gethtypes.Header, []storage.KV, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	header := h.next(txHash)
	writes, err := headerWrites(header)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: seal: %w", err)
	}
	return header, writes, nil
}

// Advance makes a header produced by PrepareSeal the new head once its
// writes are durable.
func (h *History) Advance(header *gethtypes.Header) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if header.ParentHash != h.head.Hash() {
		return fmt.Errorf("chain: header %d does not extend head %d", header.Number.Uint64(), h.head.Number.Uint64())
	}
	h.cache.Add(header.Number.Uint64(), header)
	h.head = header
	return nil
}

// Head returns a copy of the latest header.
func (h *History) Head() *gethtypes.Header {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return gethtypes.CopyHeader(h.head)
}

// HeaderByNumber returns a copy of the header at the given height.
func (h *History) HeaderByNumber(number uint64) (*gethtypes.Header, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if number > h.head.Number.Uint64() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHeader, number)
	}
	header, err := h.load(number)
	if err != nil {
		return nil, err
	}
	return gethtypes.CopyHeader(header), nil
}

// FingerprintAt returns the hash of the header at number. Heights beyond the
// head resolve to the zero hash, the same answer BLOCKHASH gives for
// unavailable blocks.
func (h *History) FingerprintAt(number uint64) (common.Hash, error) {
	header, err := h.HeaderByNumber(number)
	if errors.Is(err, ErrUnknownHeader) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}

// IdentityBalance reports the committed balance of addr for external
// verification.
func (h *History) IdentityBalance(addr common.Address) (*big.Int, error) {
	if h.balances == nil {
		return nil, fmt.Errorf("chain: balance source not configured")
	}
	return h.balances.CurrentBalanceOf(addr)
}
