package committee

import (
	"os"
	"testing"

	"github.com/mosaicnetworks/dagbft/src/crypto/keys"
)

func TestThresholds(t *testing.T) {
	cases := []struct {
		stakes   []uint64
		quorum   uint64
		validity uint64
	}{
		{[]uint64{1, 1, 1, 1}, 3, 2},
		{[]uint64{1}, 1, 1},
		{[]uint64{1, 1, 1}, 3, 1},
		{[]uint64{1, 1, 1, 1, 1, 1, 1}, 5, 3},
		{[]uint64{10, 20, 30, 40}, 67, 34},
	}

	for _, c := range cases {
		auths := []*Authority{}
		for _, s := range c.stakes {
			auths = append(auths, NewAuthority("", "", "", s))
		}
		com, err := NewCommittee(0, auths)
		if err != nil {
			t.Fatal(err)
		}
		if q := com.QuorumThreshold(); q != c.quorum {
			t.Fatalf("stakes %v: quorum should be %d, not %d", c.stakes, c.quorum, q)
		}
		if v := com.ValidityThreshold(); v != c.validity {
			t.Fatalf("stakes %v: validity should be %d, not %d", c.stakes, c.validity, v)
		}
	}
}

func TestCommitteeRejects(t *testing.T) {
	if _, err := NewCommittee(0, nil); err == nil {
		t.Fatalf("empty committee should be rejected")
	}
	if _, err := NewCommittee(0, []*Authority{NewAuthority("a", "", "", 0)}); err == nil {
		t.Fatalf("zero stake should be rejected")
	}
	if _, err := NewCommittee(0, []*Authority{NewAuthority("a", "", "0XZZ", 1)}); err == nil {
		t.Fatalf("bad public key should be rejected")
	}
}

func TestIndexLookups(t *testing.T) {
	auths := []*Authority{}
	for i := 0; i < 3; i++ {
		key, _ := keys.GenerateECDSAKey()
		auths = append(auths, NewAuthority("", "", keys.PublicKeyHex(&key.PublicKey), 1))
	}
	com, err := NewCommittee(7, auths)
	if err != nil {
		t.Fatal(err)
	}

	for i, a := range auths {
		idx, ok := com.IndexByPubKeyHex(a.PubKeyHex)
		if !ok || idx != AuthorityIndex(i) {
			t.Fatalf("lookup of authority %d returned %d, %v", i, idx, ok)
		}
	}
	if com.IsValidIndex(3) {
		t.Fatalf("index 3 should be invalid")
	}
	if com.Stake(3) != 0 {
		t.Fatalf("stake of unknown authority should be 0")
	}
	if com.Authority(3) != nil {
		t.Fatalf("unknown authority should be nil")
	}
}

func TestJSONCommittee(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := os.MkdirTemp("test_data", "committee")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	auths := []*Authority{}
	for i := 0; i < 4; i++ {
		key, _ := keys.GenerateECDSAKey()
		auths = append(auths, NewAuthority("node", "addr", keys.PublicKeyHex(&key.PublicKey), uint64(i+1)))
	}
	com, _ := NewCommittee(2, auths)

	store := NewJSONCommittee(dir)
	if err := store.Write(com); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Committee()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Epoch != 2 || loaded.Size() != 4 || loaded.TotalStake() != 10 {
		t.Fatalf("loaded committee differs: epoch %d size %d stake %d", loaded.Epoch, loaded.Size(), loaded.TotalStake())
	}
	for i, a := range loaded.Authorities {
		if a.PubKeyHex != auths[i].PubKeyHex {
			t.Fatalf("authority %d public key differs", i)
		}
	}
}
