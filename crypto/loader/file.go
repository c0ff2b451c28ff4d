package loader

import (
	"encoding/hex"
	"os"
	"strings"

	"golang.org/x/xerrors"
)

// keyFile keeps the key hex-encoded on a single line of a file that only the
// owner can read.
//
// - implements loader.Loader
type keyFile struct {
	path string

	// create opens a new file and fails if it already exists.
	create func(path string) (*os.File, error)
}

// NewFileLoader returns a loader for the key file at the path.
func NewFileLoader(path string) Loader {
	return keyFile{
		path:   path,
		create: createExclusive,
	}
}

// LoadOrCreate implements loader.Loader. A new key is written only if no file
// exists, so two sessions sharing the path end up with the same key.
func (k keyFile) LoadOrCreate(g Generator) ([]byte, error) {
	_, err := os.Stat(k.path)
	if err == nil {
		return k.Load()
	}

	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("key file '%s': %v", k.path, err)
	}

	key, err := g.Generate()
	if err != nil {
		return nil, xerrors.Errorf("failed to generate key: %v", err)
	}

	file, err := k.create(k.path)
	if os.IsExist(err) {
		return k.Load()
	}

	if err != nil {
		return nil, xerrors.Errorf("failed to create key file: %v", err)
	}

	defer file.Close()

	_, err = file.WriteString(hex.EncodeToString(key) + "\n")
	if err != nil {
		return nil, xerrors.Errorf("failed to write key file: %v", err)
	}

	return key, nil
}

// Load implements loader.Loader.
func (k keyFile) Load() ([]byte, error) {
	text, err := os.ReadFile(k.path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read key file: %v", err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(text)))
	if err != nil {
		return nil, xerrors.Errorf("malformed key in '%s': %v", k.path, err)
	}

	return key, nil
}

func createExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0400)
}
