// Package loader reads the private key of a wallet from its storage, and
// creates it on first use.
package loader

// Generator creates a new marshaled private key.
type Generator interface {
	Generate() ([]byte, error)
}

// Loader gives access to a single stored key.
type Loader interface {
	// LoadOrCreate returns the stored key. When there is none yet, the key is
	// generated and stored before being returned.
	LoadOrCreate(Generator) ([]byte, error)

	// Load returns the stored key, or an error if there is none.
	Load() ([]byte, error)
}
