package keys

import (
	"bytes"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/dagbft/src/crypto"
)

func TestSimpleKeyfile(t *testing.T) {

	// Create a test dir
	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "dagbft")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	simpleKeyfile := NewSimpleKeyfile(path.Join(dir, "priv_key"))

	// Try a read, should get nothing
	key, err := simpleKeyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateECDSAKey()

	if err := simpleKeyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := simpleKeyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(*nKey, *key) {
		t.Fatalf("Keys do not match")
	}
}

func TestFilePermissions(t *testing.T) {

	os.Mkdir("test_data", os.ModeDir|0700)
	dir, err := ioutil.TempDir("test_data", "dagbft")
	if err != nil {
		t.Fatalf("err: %v ", err)
	}
	defer os.RemoveAll(dir)

	key, _ := GenerateECDSAKey()
	rawKey := hex.EncodeToString(DumpPrivateKey(key))

	badKeyPath := path.Join(dir, "priv_key_bad")

	shouldErr := []os.FileMode{
		0777, 0766, 0744,
		0677, 0666, 0644,
		0477, 0466, 0444,
	}

	for _, fm := range shouldErr {
		os.Remove(badKeyPath)
		ioutil.WriteFile(badKeyPath, []byte(rawKey), fm)
		os.Chmod(badKeyPath, fm)

		if _, err := NewSimpleKeyfile(badKeyPath).ReadKey(); err == nil {
			t.Fatalf("%o || keyfile should return permissions error", fm)
		}
	}

	goodKeyPath := path.Join(dir, "priv_key_good")

	shouldNotErr := []os.FileMode{
		0700, 0600, 0500, 0400,
	}

	for _, fm := range shouldNotErr {
		os.Remove(goodKeyPath)
		ioutil.WriteFile(goodKeyPath, []byte(rawKey), fm)
		os.Chmod(goodKeyPath, fm)

		if _, err := NewSimpleKeyfile(goodKeyPath).ReadKey(); err != nil {
			t.Fatalf("%o || keyfile should not return error. Got %v", fm, err)
		}
	}
}

func TestSignVerify(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	msg := []byte("J'aime mieux forger mon ame que la meubler")
	digest := crypto.SHA256(msg)

	sig, err := Sign(privKey, digest)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("signature length should be %d, not %d", SignatureSize, len(sig))
	}

	if !Verify(&privKey.PublicKey, digest, sig) {
		t.Fatalf("signature should verify")
	}

	tampered := bytes.Repeat([]byte{0}, len(digest))
	if Verify(&privKey.PublicKey, tampered, sig) {
		t.Fatalf("signature should not verify another digest")
	}

	other, _ := GenerateECDSAKey()
	if Verify(&other.PublicKey, digest, sig) {
		t.Fatalf("signature should not verify with another key")
	}
}

func TestPublicKeyHex(t *testing.T) {
	privKey, _ := GenerateECDSAKey()

	pubHex := PublicKeyHex(&privKey.PublicKey)

	pub, err := ParsePublicKeyHex(pubHex)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(FromPublicKey(pub), FromPublicKey(&privKey.PublicKey)) {
		t.Fatalf("public keys do not match")
	}

	if _, err := ParsePublicKeyHex("0X1234"); err == nil {
		t.Fatalf("garbage public key should not parse")
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, _ := GenerateECDSAKey()

	raw := DumpPrivateKey(key)
	if len(raw) != 32 {
		t.Fatalf("dump should be 32 bytes, not %d", len(raw))
	}

	parsed, err := ParsePrivateKey(raw)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.D.Cmp(key.D) != 0 || parsed.X.Cmp(key.X) != 0 || parsed.Y.Cmp(key.Y) != 0 {
		t.Fatalf("parsed key does not match")
	}

	small, err := ParsePrivateKey(append(make([]byte, 31), 1))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(DumpPrivateKey(small), append(make([]byte, 31), 1)) {
		t.Fatalf("small scalar should be left-padded")
	}

	bad := map[string][]byte{
		"short": raw[:31],
		"zero":  make([]byte, 32),
		"order": secp256k1N.Bytes(),
	}
	for name, d := range bad {
		if _, err := ParsePrivateKey(d); err == nil {
			t.Fatalf("%s key should not parse", name)
		}
	}
}
