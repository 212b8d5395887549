// Package chaintest provides a scripted chain.Reader for tests.
package chaintest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Reader is a fake chain.Reader driven by scripted responses keyed on
// contract address and method selector.
type Reader struct {
	mu sync.Mutex

	Block    uint64
	BlockErr error

	Code    map[common.Address][]byte
	CodeErr error

	// Returns maps address -> selector hex -> ABI-encoded return data.
	Returns map[common.Address]map[string][]byte
	// CallErrs maps address -> selector hex -> forced error.
	CallErrs map[common.Address]map[string]error

	Logs    []types.Log
	LogsErr error

	CallCount int
}

// New returns an empty scripted reader at block 100.
func New() *Reader {
	return &Reader{
		Block:    100,
		Code:     make(map[common.Address][]byte),
		Returns:  make(map[common.Address]map[string][]byte),
		CallErrs: make(map[common.Address]map[string]error),
	}
}

func (r *Reader) BlockNumber(_ context.Context) (uint64, error) {
	return r.Block, r.BlockErr
}

func (r *Reader) CodeAt(_ context.Context, address common.Address) ([]byte, error) {
	if r.CodeErr != nil {
		return nil, r.CodeErr
	}
	return r.Code[address], nil
}

func (r *Reader) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	r.mu.Lock()
	r.CallCount++
	r.mu.Unlock()

	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("malformed call")
	}
	selector := hex.EncodeToString(msg.Data[:4])
	if errs, ok := r.CallErrs[*msg.To]; ok {
		if err, ok := errs[selector]; ok {
			return nil, err
		}
	}
	if returns, ok := r.Returns[*msg.To]; ok {
		if data, ok := returns[selector]; ok {
			return data, nil
		}
	}
	return nil, fmt.Errorf("execution reverted")
}

func (r *Reader) FilterLogs(_ context.Context, _, _ uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	if r.LogsErr != nil {
		return nil, r.LogsErr
	}
	return r.Logs, nil
}

// SetReturn scripts the encoded return data for a method call.
func (r *Reader) SetReturn(contract common.Address, sig string, data []byte) {
	if r.Returns[contract] == nil {
		r.Returns[contract] = make(map[string][]byte)
	}
	r.Returns[contract][Selector(sig)] = data
}

// SetCallErr scripts a failure for a method call.
func (r *Reader) SetCallErr(contract common.Address, sig string, err error) {
	if r.CallErrs[contract] == nil {
		r.CallErrs[contract] = make(map[string]error)
	}
	r.CallErrs[contract][Selector(sig)] = err
}

// Selector returns the hex of the 4-byte selector for a method signature.
func Selector(sig string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(sig))[:4])
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

func pack(types []string, values ...interface{}) []byte {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		args = append(args, abi.Argument{Type: mustType(name)})
	}
	data, err := args.Pack(values...)
	if err != nil {
		panic(err)
	}
	return data
}

// EncodeString ABI-encodes a single string return value.
func EncodeString(v string) []byte {
	return pack([]string{"string"}, v)
}

// EncodeUint8 ABI-encodes a single uint8 return value.
func EncodeUint8(v uint8) []byte {
	return pack([]string{"uint8"}, v)
}

// EncodeUint256 ABI-encodes a single uint256 return value.
func EncodeUint256(v *big.Int) []byte {
	return pack([]string{"uint256"}, v)
}

// EncodeAddress ABI-encodes a single address return value.
func EncodeAddress(v common.Address) []byte {
	return pack([]string{"address"}, v)
}

// EncodeReserves ABI-encodes a getReserves return value.
func EncodeReserves(reserve0, reserve1 *big.Int, blockTimestampLast uint32) []byte {
	return pack([]string{"uint112", "uint112", "uint32"}, reserve0, reserve1, blockTimestampLast)
}
