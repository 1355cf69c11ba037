// Package keys implements the public key cryptography used by authorities.
//
// Every authority of the committee owns an ECDSA key-pair on the secp256k1
// curve. The private key signs the blocks the authority proposes; the public
// key, published in the committee file, lets every other authority verify
// them. Signatures travel in a fixed 64-byte r||s form so that they encode
// canonically inside blocks.
package keys
