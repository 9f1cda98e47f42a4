// Package signer produces the OpenPGP signatures published next to
// repository manifests.
package signer

// Signer signs repository metadata
type Signer interface {
	// SignCleartext creates a cleartext signature (for Debian InRelease)
	SignCleartext(data []byte) ([]byte, error)

	// SignDetached creates an armored detached signature (for Release.gpg,
	// repomd.xml.asc)
	SignDetached(data []byte) ([]byte, error)

	// PublicKey returns the armored public key
	PublicKey() ([]byte, error)
}
