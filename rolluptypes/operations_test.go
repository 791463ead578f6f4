// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package rolluptypes

import (
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/intech-id/collexi-rollup/params"
)

var (
	testFrom = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testTo   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func opDiff(a, b interface{}) string {
	return cmp.Diff(a, b, cmpopts.IgnoreFields(Transfer{}, "Signature"),
		cmpopts.IgnoreFields(Withdraw{}, "Signature"),
		cmpopts.IgnoreFields(Close{}, "Signature"),
		cmpopts.IgnoreFields(ChangePubKey{}, "Signature", "EthSignature"),
		cmp.Comparer(func(x, y *big.Int) bool { return x.Cmp(y) == 0 }))
}

func TestTransferRoundTrip(t *testing.T) {
	boundaries := []struct {
		accountID AccountID
		tokenID   TokenID
		nonce     Nonce
	}{
		{0, 0, 0},
		{params.MaxAccountID, params.MaxTokenID, math.MaxUint32},
		{5, 0, 7},
	}
	for _, b := range boundaries {
		orig := &Transfer{
			AccountID: b.accountID,
			From:      testFrom,
			To:        testTo,
			TokenID:   b.tokenID,
			Amount:    new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
			Fee:       new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil),
			Nonce:     b.nonce,
		}
		data, err := orig.SignedBytes()
		require.NoError(t, err)
		require.Len(t, data, TransferSignedBytesLen)
		require.Equal(t, uint8(params.TxTypeTransfer), data[0])

		restored, err := DeserializeTransfer(data)
		require.NoError(t, err)
		require.Empty(t, opDiff(orig, restored))
	}
}

func TestTransferAccountIDBytes(t *testing.T) {
	op := &Transfer{
		AccountID: 5,
		From:      testFrom,
		To:        testTo,
		TokenID:   0,
		Amount:    new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		Fee:       new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil),
		Nonce:     7,
	}
	data, err := op.SignedBytes()
	require.NoError(t, err)
	require.Equal(t, byte(5), data[0])
	require.Equal(t, AccountID(5), accountIDFromBytes(data[1:4]))
}

func TestWithdrawRoundTrip(t *testing.T) {
	// Withdraw amounts are full-width, so any 128-bit value survives.
	amount, ok := new(big.Int).SetString("123456789123456789123456789", 10)
	require.True(t, ok)
	orig := &Withdraw{
		AccountID: params.MaxAccountID,
		From:      testFrom,
		To:        testTo,
		TokenID:   params.MaxTokenID,
		Amount:    amount,
		Fee:       big.NewInt(2047),
		Nonce:     math.MaxUint32,
	}
	data, err := orig.SignedBytes()
	require.NoError(t, err)
	require.Len(t, data, WithdrawSignedBytesLen)
	require.Equal(t, uint8(params.TxTypeWithdraw), data[0])

	restored, err := DeserializeWithdraw(data)
	require.NoError(t, err)
	require.Empty(t, opDiff(orig, restored))
}

func TestWithdrawAmountTooWide(t *testing.T) {
	over := new(big.Int).Lsh(big.NewInt(1), uint(params.BalanceBits))
	op := &Withdraw{AccountID: 1, TokenID: 1, Amount: over, Fee: big.NewInt(0), Nonce: 1}
	_, err := op.SignedBytes()
	require.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestCloseRoundTrip(t *testing.T) {
	orig := &Close{Account: testFrom, Nonce: 42}
	data, err := orig.SignedBytes()
	require.NoError(t, err)
	require.Len(t, data, CloseSignedBytesLen)

	restored, err := DeserializeClose(data)
	require.NoError(t, err)
	require.Empty(t, opDiff(orig, restored))
}

func TestChangePubKeyRoundTrip(t *testing.T) {
	pkh, err := PubKeyHashFromString("sync:3333333333333333333333333333333333333333")
	require.NoError(t, err)
	orig := &ChangePubKey{
		AccountID: 77,
		Account:   testFrom,
		NewPkHash: pkh,
		Nonce:     1,
	}
	data, err := orig.SignedBytes()
	require.NoError(t, err)
	require.Len(t, data, ChangePubKeySignedBytesLen)

	restored, err := DeserializeChangePubKey(data)
	require.NoError(t, err)
	require.Empty(t, opDiff(orig, restored))
}

func TestDeserializeLengthMismatch(t *testing.T) {
	_, err := DeserializeTransfer(make([]byte, TransferSignedBytesLen-1))
	require.ErrorIs(t, err, ErrFormat)
	_, err = DeserializeWithdraw(make([]byte, WithdrawSignedBytesLen+1))
	require.ErrorIs(t, err, ErrFormat)
	_, err = DeserializeClose(nil)
	require.ErrorIs(t, err, ErrFormat)
	_, err = DeserializeChangePubKey(make([]byte, 3))
	require.ErrorIs(t, err, ErrFormat)
}

func TestIDBounds(t *testing.T) {
	_, err := NewAccountID(-1)
	require.ErrorIs(t, err, ErrValueOutOfRange)
	_, err = NewAccountID(int64(params.MaxAccountID) + 1)
	require.ErrorIs(t, err, ErrValueOutOfRange)
	id, err := NewAccountID(params.MaxAccountID)
	require.NoError(t, err)
	require.Equal(t, AccountID(params.MaxAccountID), id)

	_, err = NewTokenID(-1)
	require.ErrorIs(t, err, ErrValueOutOfRange)
	_, err = NewTokenID(params.MaxTokenID + 1)
	require.ErrorIs(t, err, ErrValueOutOfRange)

	badTransfer := &Transfer{
		AccountID: AccountID(params.MaxAccountID + 1),
		Amount:    big.NewInt(0),
		Fee:       big.NewInt(0),
	}
	_, err = badTransfer.SignedBytes()
	require.ErrorIs(t, err, ErrValueOutOfRange)

	badToken := &Transfer{
		AccountID: 1,
		TokenID:   TokenID(params.MaxTokenID + 1),
		Amount:    big.NewInt(0),
		Fee:       big.NewInt(0),
	}
	_, err = badToken.SignedBytes()
	require.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestSerializeAnyAddress(t *testing.T) {
	const payload = "abcdefabcdefabcdefabcdefabcdefabcdefabcd"
	ethForm, err := SerializeAnyAddress("0x" + payload)
	require.NoError(t, err)
	syncForm, err := SerializeAnyAddress("sync:" + payload)
	require.NoError(t, err)
	require.Equal(t, ethForm, syncForm)
	require.Len(t, ethForm, 20)

	_, err = SerializeAnyAddress(payload)
	require.ErrorIs(t, err, ErrAddressFormat)
	_, err = SerializeAnyAddress("0x" + payload[2:])
	require.ErrorIs(t, err, ErrAddressFormat)
	_, err = SerializeAnyAddress("sync:zz" + payload[2:])
	require.ErrorIs(t, err, ErrAddressFormat)
}

func TestPubKeyHashForms(t *testing.T) {
	pkh, err := PubKeyHashFromString("sync:abcdefabcdefabcdefabcdefabcdefabcdefabcd")
	require.NoError(t, err)
	require.Equal(t, "sync:abcdefabcdefabcdefabcdefabcdefabcdefabcd", pkh.String())

	_, err = PubKeyHashFromString("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
	require.ErrorIs(t, err, ErrAddressFormat)
	_, err = PubKeyHashFromString("sync:abcd")
	require.ErrorIs(t, err, ErrAddressFormat)
}

func TestTxHashForms(t *testing.T) {
	var h TxHash
	for i := range h {
		h[i] = byte(i)
	}
	parsed, err := TxHashFromString(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	_, err = TxHashFromString("0x0011")
	require.ErrorIs(t, err, ErrFormat)
}

func TestRegistrationMessageLength(t *testing.T) {
	pkh, err := PubKeyHashFromString("sync:abcdefabcdefabcdefabcdefabcdefabcdefabcd")
	require.NoError(t, err)
	msg, err := RegistrationMessage(4660, 19, pkh)
	require.NoError(t, err)
	require.Len(t, msg, 150)
	require.Contains(t, string(msg), "abcdefabcdefabcdefabcdefabcdefabcdefabcd")
	require.Contains(t, string(msg), "nonce: 0x00000013")
	require.Contains(t, string(msg), "account id: 0x001234")
}

func TestPubdataSymmetry(t *testing.T) {
	depositData, err := DepositPubdata(0, 4095, testTo)
	require.NoError(t, err)
	require.Len(t, depositData, params.DepositChunks*params.ChunkBytes)
	accountID, tokenID, to, err := ParseDepositPubdata(depositData)
	require.NoError(t, err)
	require.Equal(t, AccountID(0), accountID)
	require.Equal(t, TokenID(4095), tokenID)
	require.Equal(t, testTo, to)

	exitData, err := FullExitPubdata(params.MaxAccountID, testFrom)
	require.NoError(t, err)
	require.Len(t, exitData, params.FullExitChunks*params.ChunkBytes)
	exitID, owner, err := ParseFullExitPubdata(exitData)
	require.NoError(t, err)
	require.Equal(t, AccountID(params.MaxAccountID), exitID)
	require.Equal(t, testFrom, owner)

	_, _, _, err = ParseDepositPubdata(depositData[:10])
	require.ErrorIs(t, err, ErrFormat)
}
