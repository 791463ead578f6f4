// Copyright 2021-2024, Intech ID, Inc.
// For license information, see https://github.com/intech-id/collexi-rollup/blob/master/LICENSE

package signer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 65)
	for i := range seed {
		seed[i] = byte(i)
	}
	a, err := NewIdentityFromSeed(seed)
	require.NoError(t, err)
	b, err := NewIdentityFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, a.PublicKey(), b.PublicKey())
	require.Equal(t, a.PublicKeyHash(), b.PublicKeyHash())

	seed[0] ^= 1
	c, err := NewIdentityFromSeed(seed)
	require.NoError(t, err)
	require.NotEqual(t, a.PublicKey(), c.PublicKey())
}

func TestIdentityKeyValidation(t *testing.T) {
	_, err := NewIdentityFromSeed(make([]byte, 31))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewIdentityFromKey(make([]byte, 33))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = NewIdentityFromKey(make([]byte, 32))
	require.NoError(t, err)
}

func TestSignDeterministic(t *testing.T) {
	id, err := NewIdentityFromKey(make([]byte, 32))
	require.NoError(t, err)
	payload := []byte("canonical operation bytes")

	first := id.Sign(payload)
	second := id.Sign(payload)
	require.Equal(t, first.Signature, second.Signature)
	require.Equal(t, first.PubKey, second.PubKey)
	require.True(t, Verify(first, payload))
	require.False(t, Verify(first, append(payload, 0)))
}

func TestPublicKeyHashLength(t *testing.T) {
	id, err := NewIdentityFromKey(make([]byte, 32))
	require.NoError(t, err)
	pkh := id.PublicKeyHash()
	require.Len(t, pkh[:], 20)
	require.False(t, pkh.IsZero())
}

func TestEthSignerRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ethSigner := NewPrivateKeyEthSigner(key)

	text := []byte("Transfer 0\nTo: 0x2222222222222222222222222222222222222222\nNonce: 7\nAccount Id: 5")
	sig, err := ethSigner.SignText(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	recovered, err := RecoverTextSigner(sig, text)
	require.NoError(t, err)
	require.Equal(t, ethSigner.Address(), recovered)
}

func TestChallengeMessagePinned(t *testing.T) {
	// Wire-affecting: the derived identity changes with any edit to this text.
	require.Equal(t,
		"Access colexi account.\n\nOnly sign this message for a trusted client!",
		ChallengeMessage)
}

func TestIdentityFromEthSignerStable(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ethSigner := NewPrivateKeyEthSigner(key)

	a, err := IdentityFromEthSigner(context.Background(), ethSigner)
	require.NoError(t, err)
	b, err := IdentityFromEthSigner(context.Background(), ethSigner)
	require.NoError(t, err)
	// Personal signatures over a fixed message are deterministic, so the
	// derived rollup identity is stable across sessions.
	require.Equal(t, a.PublicKeyHash(), b.PublicKeyHash())
}

type fixedAddressSigner struct {
	*PrivateKeyEthSigner
	claimed common.Address
}

func (s *fixedAddressSigner) Address() common.Address { return s.claimed }

func TestDualSignerClassification(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	id, err := NewIdentityFromKey(make([]byte, 32))
	require.NoError(t, err)

	// Standard account: recovery matches the claimed address.
	standard := NewDualSigner(id, NewPrivateKeyEthSigner(key))
	sig, err := standard.EthSign(ctx, "summary one")
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, ModeStandard, standard.Mode())

	sig, err = standard.EthSign(ctx, "summary two")
	require.NoError(t, err)
	require.NotNil(t, sig)

	// Contract-based account: the key signs but the claimed account is a
	// different address (a contract wallet owned by that key).
	contract := NewDualSigner(id, &fixedAddressSigner{
		PrivateKeyEthSigner: NewPrivateKeyEthSigner(key),
		claimed:             common.HexToAddress("0x4444444444444444444444444444444444444444"),
	})
	sig, err = contract.EthSign(ctx, "summary one")
	require.NoError(t, err)
	require.Nil(t, sig)
	require.Equal(t, ModeContractBased, contract.Mode())

	// Classification is cached; later operations skip the probe.
	sig, err = contract.EthSign(ctx, "summary two")
	require.NoError(t, err)
	require.Nil(t, sig)
}
