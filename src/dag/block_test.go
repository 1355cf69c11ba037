package dag_test

import (
	"testing"

	"github.com/mosaicnetworks/dagbft/src/common"
	"github.com/mosaicnetworks/dagbft/src/dag"
	"github.com/mosaicnetworks/dagbft/src/dag/dagtest"
	"github.com/stretchr/testify/require"
)

func TestBlockDigestStable(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	blocks := b.Layer(1, nil, nil)

	for _, blk := range blocks {
		data, err := blk.Marshal()
		require.NoError(t, err)

		decoded, err := dag.UnmarshalBlock(data)
		require.NoError(t, err)

		require.Equal(t, blk.Digest(), decoded.Digest())
		require.Equal(t, blk.Ref(), decoded.Ref())
		require.Equal(t, blk.Ancestors(), decoded.Ancestors())
		require.Equal(t, blk.Timestamp(), decoded.Timestamp())

		fresh, err := decoded.Hash()
		require.NoError(t, err)
		require.Equal(t, blk.Digest(), fresh)
	}
}

func TestBlockSignature(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	blk := b.Layer(1, dagtest.Authorities(0), nil)[0]

	pub, err := b.Committee.Authority(0).PublicKey()
	require.NoError(t, err)
	ok, err := blk.Verify(pub)
	require.NoError(t, err)
	require.True(t, ok)

	other, err := b.Committee.Authority(1).PublicKey()
	require.NoError(t, err)
	ok, err = blk.Verify(other)
	require.NoError(t, err)
	require.False(t, ok)

	// changing the body invalidates the signature and changes the digest
	tampered := dag.NewBlock(blk.Body.Epoch, blk.Author(), blk.Round(), blk.Timestamp()+1, blk.Ancestors(), nil)
	tampered.Signature = blk.Signature
	ok, err = tampered.Verify(pub)
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEqual(t, blk.Digest(), tampered.Digest())
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := dag.UnmarshalBlock([]byte{0xc1, 0x00, 0x13})
	require.Error(t, err)
	require.True(t, common.IsKind(err, common.MalformedBlock))
}

func TestGenesisDeterministic(t *testing.T) {
	b := dagtest.NewEqualBuilder(4)
	g1 := dag.GenesisRefs(b.Committee)
	g2 := dag.GenesisRefs(b.Committee)
	require.Equal(t, g1, g2)
	require.Len(t, g1, 4)
	for i, r := range g1 {
		require.Equal(t, dag.GenesisRound, r.Round)
		require.EqualValues(t, i, r.Author)
	}
}

func TestBlockRefOrder(t *testing.T) {
	a := dag.BlockRef{Author: 3, Round: 1}
	b := dag.BlockRef{Author: 0, Round: 2}
	c := dag.BlockRef{Author: 0, Round: 2, Digest: dag.Digest{1}}

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.False(t, c.Less(a))
	require.False(t, a.Less(a))
}

func TestCommitDigest(t *testing.T) {
	c := &dag.Commit{Index: 3, Leader: dag.BlockRef{Author: 1, Round: 4}, Timestamp: 42}
	d1, err := c.Digest()
	require.NoError(t, err)

	data, err := c.Marshal()
	require.NoError(t, err)
	var decoded dag.Commit
	require.NoError(t, decoded.Unmarshal(data))
	d2, err := decoded.Digest()
	require.NoError(t, err)

	require.Equal(t, d1, d2)
}
