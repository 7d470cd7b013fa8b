package sui

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/roach88/txgate/internal/chain"
)

// ArgKind discriminates a command Argument.
type ArgKind uint8

const (
	ArgGasCoin ArgKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

// Argument refers to a value available to a command.
type Argument struct {
	Kind  ArgKind
	Index uint16
}

// Input is a programmable transaction input. Pure holds the BCS bytes of a
// pure value; Object is set for object inputs.
type Input struct {
	Pure   []byte
	Object bool
}

// MoveCall is a decoded MoveCall command.
type MoveCall struct {
	Package  Address
	Module   string
	Function string
}

// Command is the subset of command data the adapter inspects.
type Command struct {
	Kind      string // move_call, transfer_objects, split_coins, merge_coins, publish, make_move_vec, upgrade
	MoveCall  *MoveCall
	Recipient *Argument  // transfer_objects
	Coin      *Argument  // split_coins source
	Amounts   []Argument // split_coins
}

// Transaction is the decoded part of a V1 TransactionData.
type Transaction struct {
	Inputs    []Input
	Commands  []Command
	Sender    Address
	GasOwner  Address
	GasPrice  uint64
	GasBudget uint64
}

// DecodeTransaction parses BCS TransactionData bytes. Only V1 programmable
// transactions are accepted; system transaction kinds are never staged.
func DecodeTransaction(payload []byte) (*Transaction, error) {
	if len(payload) == 0 {
		return nil, chain.Invalid("sui payload is empty")
	}
	tx, err := decode(newReader(payload))
	if err != nil {
		return nil, chain.Invalid("sui transaction data: %v", err)
	}
	return tx, nil
}

func decode(r *reader) (*Transaction, error) {
	version, err := r.tag()
	if err != nil {
		return nil, err
	}
	if version != 0 {
		return nil, fmt.Errorf("unsupported TransactionData version %d", version)
	}
	kind, err := r.tag()
	if err != nil {
		return nil, err
	}
	if kind != 0 {
		return nil, fmt.Errorf("unsupported transaction kind %d", kind)
	}
	tx := &Transaction{}
	if err := decodeProgrammable(r, tx); err != nil {
		return nil, err
	}
	if tx.Sender, err = r.address(); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	// GasData: payment objects, owner, price, budget.
	n, err := r.len()
	if err != nil {
		return nil, fmt.Errorf("gas payment: %w", err)
	}
	for i := 0; i < n; i++ {
		if err := r.objectRef(); err != nil {
			return nil, fmt.Errorf("gas payment: %w", err)
		}
	}
	if tx.GasOwner, err = r.address(); err != nil {
		return nil, fmt.Errorf("gas owner: %w", err)
	}
	if tx.GasPrice, err = r.u64(); err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	if tx.GasBudget, err = r.u64(); err != nil {
		return nil, fmt.Errorf("gas budget: %w", err)
	}
	return tx, nil
}

func decodeProgrammable(r *reader, tx *Transaction) error {
	n, err := r.len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		in, err := decodeInput(r)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		tx.Inputs = append(tx.Inputs, in)
	}
	if n, err = r.len(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		cmd, err := decodeCommand(r)
		if err != nil {
			return fmt.Errorf("command %d: %w", i, err)
		}
		tx.Commands = append(tx.Commands, cmd)
	}
	return nil
}

func decodeInput(r *reader) (Input, error) {
	t, err := r.tag()
	if err != nil {
		return Input{}, err
	}
	switch t {
	case 0:
		b, err := r.bytes()
		return Input{Pure: b}, err
	case 1:
		obj, err := r.tag()
		if err != nil {
			return Input{}, err
		}
		switch obj {
		case 0, 2:
			err = r.objectRef()
		case 1:
			err = r.skip(AddressLength + 8 + 1)
		default:
			err = fmt.Errorf("unknown object arg %d", obj)
		}
		return Input{Object: true}, err
	}
	return Input{}, fmt.Errorf("unknown call arg %d", t)
}

func decodeArgument(r *reader) (Argument, error) {
	t, err := r.tag()
	if err != nil {
		return Argument{}, err
	}
	switch ArgKind(t) {
	case ArgGasCoin:
		return Argument{Kind: ArgGasCoin}, nil
	case ArgInput, ArgResult:
		i, err := r.u16()
		return Argument{Kind: ArgKind(t), Index: i}, err
	case ArgNestedResult:
		i, err := r.u16()
		if err != nil {
			return Argument{}, err
		}
		_, err = r.u16()
		return Argument{Kind: ArgNestedResult, Index: i}, err
	}
	return Argument{}, fmt.Errorf("unknown argument %d", t)
}

func decodeArguments(r *reader) ([]Argument, error) {
	n, err := r.len()
	if err != nil {
		return nil, err
	}
	out := make([]Argument, 0, n)
	for i := 0; i < n; i++ {
		a, err := decodeArgument(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeModules(r *reader) error {
	n, err := r.len()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := r.bytes(); err != nil {
			return err
		}
	}
	if n, err = r.len(); err != nil {
		return err
	}
	return r.skip(n * AddressLength)
}

func decodeCommand(r *reader) (Command, error) {
	t, err := r.tag()
	if err != nil {
		return Command{}, err
	}
	switch t {
	case 0:
		var mc MoveCall
		if mc.Package, err = r.address(); err != nil {
			return Command{}, err
		}
		if mc.Module, err = r.str(); err != nil {
			return Command{}, err
		}
		if mc.Function, err = r.str(); err != nil {
			return Command{}, err
		}
		n, err := r.len()
		if err != nil {
			return Command{}, err
		}
		for i := 0; i < n; i++ {
			if err := r.typeTag(0); err != nil {
				return Command{}, err
			}
		}
		if _, err := decodeArguments(r); err != nil {
			return Command{}, err
		}
		return Command{Kind: "move_call", MoveCall: &mc}, nil
	case 1:
		if _, err := decodeArguments(r); err != nil {
			return Command{}, err
		}
		to, err := decodeArgument(r)
		return Command{Kind: "transfer_objects", Recipient: &to}, err
	case 2:
		coin, err := decodeArgument(r)
		if err != nil {
			return Command{}, err
		}
		amounts, err := decodeArguments(r)
		return Command{Kind: "split_coins", Coin: &coin, Amounts: amounts}, err
	case 3:
		if _, err := decodeArgument(r); err != nil {
			return Command{}, err
		}
		_, err := decodeArguments(r)
		return Command{Kind: "merge_coins"}, err
	case 4:
		return Command{Kind: "publish"}, decodeModules(r)
	case 5:
		present, err := r.u8()
		if err != nil {
			return Command{}, err
		}
		if present == 1 {
			if err := r.typeTag(0); err != nil {
				return Command{}, err
			}
		}
		_, err = decodeArguments(r)
		return Command{Kind: "make_move_vec"}, err
	case 6:
		if err := decodeModules(r); err != nil {
			return Command{}, err
		}
		if err := r.skip(AddressLength); err != nil {
			return Command{}, err
		}
		_, err := decodeArgument(r)
		return Command{Kind: "upgrade"}, err
	}
	return Command{}, fmt.Errorf("unknown command %d", t)
}

// pureAddress resolves arg to an address held in a pure input.
func (tx *Transaction) pureAddress(arg Argument) (Address, bool) {
	var a Address
	if arg.Kind != ArgInput || int(arg.Index) >= len(tx.Inputs) {
		return a, false
	}
	b := tx.Inputs[arg.Index].Pure
	if len(b) != AddressLength {
		return a, false
	}
	copy(a[:], b)
	return a, true
}

// pureU64 resolves arg to a u64 held in a pure input.
func (tx *Transaction) pureU64(arg Argument) (uint64, bool) {
	if arg.Kind != ArgInput || int(arg.Index) >= len(tx.Inputs) {
		return 0, false
	}
	b := tx.Inputs[arg.Index].Pure
	if len(b) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// GasCoinSplit sums the amounts split from the gas coin, which is how native
// SUI transfers are expressed. ok is false when no such split exists.
func (tx *Transaction) GasCoinSplit() (total *big.Int, ok bool) {
	total = new(big.Int)
	for _, c := range tx.Commands {
		if c.Kind != "split_coins" || c.Coin == nil || c.Coin.Kind != ArgGasCoin {
			continue
		}
		for _, amt := range c.Amounts {
			if v, found := tx.pureU64(amt); found {
				total.Add(total, new(big.Int).SetUint64(v))
				ok = true
			}
		}
	}
	return total, ok
}

// Recipients lists the resolvable transfer_objects recipients.
func (tx *Transaction) Recipients() []Address {
	var out []Address
	for _, c := range tx.Commands {
		if c.Kind != "transfer_objects" || c.Recipient == nil {
			continue
		}
		if a, ok := tx.pureAddress(*c.Recipient); ok {
			out = append(out, a)
		}
	}
	return out
}

// Packages lists the distinct Move packages called, in order.
func (tx *Transaction) Packages() []Address {
	seen := make(map[Address]bool)
	var out []Address
	for _, c := range tx.Commands {
		if c.MoveCall != nil && !seen[c.MoveCall.Package] {
			seen[c.MoveCall.Package] = true
			out = append(out, c.MoveCall.Package)
		}
	}
	return out
}
