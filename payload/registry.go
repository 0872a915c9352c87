package payload

import "sync"

// Registry maps protocol version tags to codecs.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]Codec
	fallback Codec
}

// NewRegistry creates a registry. Versions without a registered codec use
// fallback; a nil fallback makes them fail with ErrUnsupportedVersion.
func NewRegistry(fallback Codec) *Registry {
	return &Registry{
		versions: make(map[string]Codec),
		fallback: fallback,
	}
}

// Register binds codec to version, replacing any earlier binding.
func (r *Registry) Register(version string, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[version] = codec
}

// Lookup returns the codec for version, or the fallback.
func (r *Registry) Lookup(version string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.versions[version]; ok {
		return c, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Decode decodes data into v with the codec for version.
// Decoding failures are returned as *DecodeError.
func (r *Registry) Decode(version string, data []byte, v any) error {
	codec, ok := r.Lookup(version)
	if !ok {
		return &DecodeError{Version: version, Err: ErrUnsupportedVersion}
	}
	if err := codec.Decode(data, v); err != nil {
		return &DecodeError{Version: version, ContentType: codec.ContentType(), Err: err}
	}
	return nil
}
