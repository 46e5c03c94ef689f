package credentials

// Source produces a Store on demand. The client calls it once at startup and
// again on every explicit reload, so a file-backed source picks up rotated
// certificates without the process restarting.
type Source func() (*Store, error)

// FileSource returns a Source that loads PEM certificate and key files.
func FileSource(certPath, keyPath, passphrase string) Source {
	return func() (*Store, error) {
		return Load(certPath, keyPath, passphrase)
	}
}

// P12Source returns a Source that loads a PKCS#12 bundle.
func P12Source(path, passphrase string) Source {
	return func() (*Store, error) {
		return LoadP12(path, passphrase)
	}
}

// StaticSource returns a Source that always yields the given store, for
// callers that construct credentials themselves.
func StaticSource(store *Store) Source {
	return func() (*Store, error) {
		return store, nil
	}
}
