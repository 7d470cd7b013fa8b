package sui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

var _ chain.Adapter = (*Adapter)(nil)
var _ chain.Describer = (*Adapter)(nil)

type bcs struct{ bytes.Buffer }

func (w *bcs) uleb(v uint64) *bcs {
	for v >= 0x80 {
		w.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	w.WriteByte(byte(v))
	return w
}

func (w *bcs) u16(v uint16) *bcs {
	_ = binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *bcs) u64(v uint64) *bcs {
	_ = binary.Write(&w.Buffer, binary.LittleEndian, v)
	return w
}

func (w *bcs) raw(b []byte) *bcs {
	w.Write(b)
	return w
}

func (w *bcs) vec(b []byte) *bcs { return w.uleb(uint64(len(b))).raw(b) }

func (w *bcs) str(s string) *bcs { return w.vec([]byte(s)) }

func addr(fill byte) Address {
	var a Address
	for i := range a {
		a[i] = fill
	}
	return a
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// payTx builds a programmable transaction splitting amount from the gas
// coin and transferring it to recipient, optionally preceded by a MoveCall.
func payTx(sender, recipient Address, amount uint64, moveCall bool) []byte {
	w := &bcs{}
	w.uleb(0) // V1
	w.uleb(0) // ProgrammableTransaction
	w.uleb(2)
	w.uleb(0).vec(u64Bytes(amount))
	w.uleb(0).vec(recipient[:])

	cmds := 2
	if moveCall {
		cmds++
	}
	w.uleb(uint64(cmds))
	if moveCall {
		pkg := addr(0x02)
		w.uleb(0).raw(pkg[:]).str("pay").str("split")
		// One type argument, then arguments [GasCoin].
		w.uleb(1).uleb(7).raw(pkg[:]).str("sui").str("SUI").uleb(0)
		w.uleb(1).uleb(0)
	}
	// SplitCoins(GasCoin, [Input(0)])
	w.uleb(2).uleb(0).uleb(1).uleb(1).u16(0)
	// TransferObjects([NestedResult(0,0)], Input(1))
	w.uleb(1).uleb(1).uleb(3).u16(0).u16(0).uleb(1).u16(1)

	w.raw(sender[:])
	w.uleb(1)
	gas := addr(0x0c)
	w.raw(gas[:]).u64(5).vec(make([]byte, 32))
	w.raw(sender[:]).u64(1000).u64(5_000_000)
	w.uleb(0) // no expiration
	return w.Bytes()
}

func newKey(t *testing.T) (ed25519.PrivateKey, Address) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv, AddressOf(pub)
}

func TestDecodeTransaction(t *testing.T) {
	sender, recipient := addr(0xaa), addr(0xbb)
	tx, err := DecodeTransaction(payTx(sender, recipient, 1_000_000_000, true))
	require.NoError(t, err)

	assert.Equal(t, sender, tx.Sender)
	assert.Equal(t, sender, tx.GasOwner)
	assert.Equal(t, uint64(1000), tx.GasPrice)
	assert.Equal(t, uint64(5_000_000), tx.GasBudget)
	require.Len(t, tx.Commands, 3)
	assert.Equal(t, "pay", tx.Commands[0].MoveCall.Module)
	assert.Equal(t, []Address{addr(0x02)}, tx.Packages())
	assert.Equal(t, []Address{recipient}, tx.Recipients())

	v, ok := tx.GasCoinSplit()
	require.True(t, ok)
	assert.Equal(t, "1000000000", v.String())
}

func TestDecodeTransaction_Invalid(t *testing.T) {
	valid := payTx(addr(1), addr(2), 1, false)
	for name, payload := range map[string][]byte{
		"empty":     nil,
		"version":   {0x01, 0x00},
		"kind":      {0x00, 0x05},
		"truncated": valid[:len(valid)/2],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTransaction(payload)
			require.ErrorIs(t, err, chain.ErrInvalidPayload)
		})
	}
}

func TestSummaryHash(t *testing.T) {
	a := New()
	payload := payTx(addr(1), addr(2), 10, false)
	h1, err := a.SummaryHash(payload)
	require.NoError(t, err)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, h1)

	h2, err := a.SummaryHash(append([]byte{}, payload...))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := a.SummaryHash(payTx(addr(1), addr(2), 11, false))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestInspect(t *testing.T) {
	a := New()
	sender := addr(0xaa)

	facts, err := a.Inspect("sui:mainnet", payTx(sender, addr(0xbb), 42, true), confirm.Metadata{})
	require.NoError(t, err)
	assert.True(t, facts.Mainnet)
	assert.Equal(t, int64(42), facts.Value.Int64())
	assert.Equal(t, []string{addr(0x02).String(), addr(0xbb).String()}, facts.Destinations)
	assert.True(t, facts.HasFlag(policy.FlagNonOwnedDestination))

	facts, err = a.Inspect("sui:testnet", payTx(sender, sender, 42, false), confirm.Metadata{})
	require.NoError(t, err)
	assert.False(t, facts.Mainnet)
	assert.False(t, facts.HasFlag(policy.FlagNonOwnedDestination))
}

func TestDescribe(t *testing.T) {
	out, err := New().Describe(payTx(addr(0xaa), addr(0xbb), 7, true))
	require.NoError(t, err)
	assert.Equal(t, addr(0xaa).String(), out["sender"])
	assert.Equal(t, "7", out["amount_mist"])
	assert.Equal(t, []string{addr(0x02).String() + "::pay::split", "split_coins", "transfer_objects"}, out["commands"])
}

func TestParsePrivateKey(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, ed25519.SeedSize)
	k, err := ParsePrivateKey("0x" + "01010101010101010101010101010101" + "01010101010101010101010101010101")
	require.NoError(t, err)
	assert.Equal(t, ed25519.NewKeyFromSeed(seed), k)

	_, err = ParsePrivateKey("abcd")
	require.Error(t, err)
	_, err = ParsePrivateKey("zz")
	require.Error(t, err)
}

type fakeRPC struct {
	err       error
	status    string
	dryStatus string
	methods   []string
	txB64     string
	sigsB64   []string
}

func (f *fakeRPC) CallContext(_ context.Context, result any, method string, args ...any) error {
	if f.err != nil {
		return f.err
	}
	f.methods = append(f.methods, method)
	f.txB64 = args[0].(string)
	switch method {
	case "sui_dryRunTransactionBlock":
		status := f.dryStatus
		if status == "" {
			status = "success"
		}
		doc := fmt.Sprintf(`{"effects":{"status":{"status":%q,"error":"InsufficientGas"}}}`, status)
		*result.(*json.RawMessage) = json.RawMessage(doc)
		return nil
	case "sui_executeTransactionBlock":
		f.sigsB64 = args[1].([]string)
		res := result.(*executeResult)
		res.Digest = "9vXgqnH4dN1sE2"
		if f.status != "" {
			res.Effects = &effects{}
			res.Effects.Status.Status = f.status
			res.Effects.Status.Error = "InsufficientGas"
		}
		return nil
	}
	return fmt.Errorf("unexpected method %s", method)
}

type fixedClock int64

func (c fixedClock) NowMs() int64 { return int64(c) }

func TestSignAndBroadcast(t *testing.T) {
	key, sender := newKey(t)
	payload := payTx(sender, addr(0xbb), 5, false)
	client := &fakeRPC{}
	a := New(WithSigner(key), WithRPC("testnet", client), WithClock(fixedClock(77)))

	out, err := a.SignAndBroadcast(testContext(t), &confirm.Record{ChainKey: "sui:testnet", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "9vXgqnH4dN1sE2", out.ID)
	assert.Equal(t, int64(77), out.SignedAtMs)
	assert.Equal(t, []string{"sui_dryRunTransactionBlock", "sui_executeTransactionBlock"}, client.methods)
	assert.JSONEq(t, `{"effects":{"status":{"status":"success","error":"InsufficientGas"}}}`, string(out.DryRun))
	assert.Empty(t, out.DryRunError)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), client.txB64)

	require.Len(t, client.sigsB64, 1)
	sig, err := base64.StdEncoding.DecodeString(client.sigsB64[0])
	require.NoError(t, err)
	require.Len(t, sig, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	assert.Equal(t, byte(flagEd25519), sig[0])
	pub := ed25519.PublicKey(sig[1+ed25519.SignatureSize:])
	digest := blake2b.Sum256(append([]byte{0, 0, 0}, payload...))
	assert.True(t, ed25519.Verify(pub, digest[:], sig[1:1+ed25519.SignatureSize]))
}

func TestSignAndBroadcast_Errors(t *testing.T) {
	key, sender := newKey(t)
	rec := &confirm.Record{ChainKey: "sui:testnet", Payload: payTx(sender, addr(0xbb), 5, false)}

	_, err := New().SignAndBroadcast(testContext(t), rec)
	require.ErrorIs(t, err, ErrNoSigner)

	_, err = New(WithSigner(key)).SignAndBroadcast(testContext(t), rec)
	require.ErrorContains(t, err, "no rpc endpoint")

	other, _ := newKey(t)
	_, err = New(WithSigner(other), WithRPC("testnet", &fakeRPC{})).SignAndBroadcast(testContext(t), rec)
	require.ErrorContains(t, err, "does not match sender")

	_, err = New(WithSigner(key), WithRPC("testnet", &fakeRPC{status: "failure"})).SignAndBroadcast(testContext(t), rec)
	require.ErrorContains(t, err, "InsufficientGas")

	rpcErr := errors.New("connection refused")
	_, err = New(WithSigner(key), WithRPC("testnet", &fakeRPC{err: rpcErr})).SignAndBroadcast(testContext(t), rec)
	require.ErrorIs(t, err, rpcErr)
}

func TestSignAndBroadcast_DryRunFailureAborts(t *testing.T) {
	key, sender := newKey(t)
	client := &fakeRPC{dryStatus: "failure"}
	a := New(WithSigner(key), WithRPC("testnet", client))

	out, err := a.SignAndBroadcast(testContext(t), &confirm.Record{ChainKey: "sui:testnet", Payload: payTx(sender, addr(0xbb), 5, false)})
	require.ErrorContains(t, err, "dry run failed: InsufficientGas")
	assert.Equal(t, []string{"sui_dryRunTransactionBlock"}, client.methods, "nothing is submitted")
	assert.Equal(t, "InsufficientGas", out.DryRunError)
	assert.NotEmpty(t, out.DryRun)
	assert.Empty(t, out.ID)
}

func TestSignAndBroadcast_WithoutPreflight(t *testing.T) {
	key, sender := newKey(t)
	client := &fakeRPC{dryStatus: "failure"}
	a := New(WithSigner(key), WithRPC("testnet", client), WithPreflight(false))

	out, err := a.SignAndBroadcast(testContext(t), &confirm.Record{ChainKey: "sui:testnet", Payload: payTx(sender, addr(0xbb), 5, false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"sui_executeTransactionBlock"}, client.methods)
	assert.Nil(t, out.DryRun)
}
