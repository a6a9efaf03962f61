package capability

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

// ChangeKind identifies a capability change event.
type ChangeKind int

const (
	// ChangeRegisterCsc adds or replaces a CSC spec.
	ChangeRegisterCsc ChangeKind = iota + 1
	// ChangeRegisterEncoder adds or replaces an encoder spec.
	ChangeRegisterEncoder
	// ChangeRemoveCsc removes a CSC spec by name.
	ChangeRemoveCsc
	// ChangeRemoveEncoder removes an encoder spec by name.
	ChangeRemoveEncoder
	// ChangeReplace swaps the whole catalog.
	ChangeReplace
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRegisterCsc:
		return "register_csc"
	case ChangeRegisterEncoder:
		return "register_encoder"
	case ChangeRemoveCsc:
		return "remove_csc"
	case ChangeRemoveEncoder:
		return "remove_encoder"
	case ChangeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Change is a capability change reported by a collaborator.
type Change struct {
	Kind    ChangeKind
	Csc     *CscSpec     // ChangeRegisterCsc
	Encoder *EncoderSpec // ChangeRegisterEncoder
	Name    string       // ChangeRemoveCsc, ChangeRemoveEncoder
	Catalog *Catalog     // ChangeReplace

	// Generation is the registry generation after the change was applied.
	// Set by the registry.
	Generation uint64
}

// Registry is the session-wide catalog of CSC and encoder implementations.
// It is read-mostly: lookups go through an atomically published Snapshot.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot]

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// NewRegistry creates an empty registry at generation 0.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger: logger.With(slog.String("component", "capability_registry")),
		subs:   make(map[int]chan Change),
	}
	r.current.Store(buildSnapshot(0, nil, nil))
	return r
}

// Snapshot returns the current immutable catalog.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Generation returns the generation of the current catalog. Every applied
// change increments it.
func (r *Registry) Generation() uint64 {
	return r.current.Load().Generation
}

// ListCscSpecs returns the CSC specs accepting the given input format.
func (r *Registry) ListCscSpecs(format PixelFormat) ([]*CscSpec, error) {
	return r.Snapshot().ListCscSpecs(format)
}

// ListEncoderSpecs returns the non-fallback encoders accepting the given format.
func (r *Registry) ListEncoderSpecs(format PixelFormat) ([]*EncoderSpec, error) {
	return r.Snapshot().ListEncoderSpecs(format)
}

// FallbackEncoder returns the fallback encoder accepting the format, if any.
func (r *Registry) FallbackEncoder(format PixelFormat) (*EncoderSpec, bool) {
	return r.Snapshot().FallbackEncoder(format)
}

// RegisterCsc adds or replaces a CSC spec.
func (r *Registry) RegisterCsc(spec *CscSpec) (uint64, error) {
	return r.RegisterCapabilityChange(Change{Kind: ChangeRegisterCsc, Csc: spec})
}

// RegisterEncoder adds or replaces an encoder spec.
func (r *Registry) RegisterEncoder(spec *EncoderSpec) (uint64, error) {
	return r.RegisterCapabilityChange(Change{Kind: ChangeRegisterEncoder, Encoder: spec})
}

// RemoveCsc removes a CSC spec by name.
func (r *Registry) RemoveCsc(name string) (uint64, error) {
	return r.RegisterCapabilityChange(Change{Kind: ChangeRemoveCsc, Name: name})
}

// RemoveEncoder removes an encoder spec by name.
func (r *Registry) RemoveEncoder(name string) (uint64, error) {
	return r.RegisterCapabilityChange(Change{Kind: ChangeRemoveEncoder, Name: name})
}

// Replace installs a whole catalog, dropping every previously registered spec.
func (r *Registry) Replace(catalog *Catalog) (uint64, error) {
	return r.RegisterCapabilityChange(Change{Kind: ChangeReplace, Catalog: catalog})
}

// RegisterCapabilityChange applies one change and publishes a new snapshot.
// It returns the new generation. Invalid changes leave the catalog untouched.
func (r *Registry) RegisterCapabilityChange(change Change) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	csc := maps.Clone(prev.csc)
	encoders := maps.Clone(prev.encoders)

	switch change.Kind {
	case ChangeRegisterCsc:
		if change.Csc == nil {
			return prev.Generation, fmt.Errorf("%w: nil csc spec", ErrInvalidSpec)
		}
		if err := change.Csc.Validate(); err != nil {
			return prev.Generation, err
		}
		csc[change.Csc.Name] = cloneCsc(change.Csc)

	case ChangeRegisterEncoder:
		if change.Encoder == nil {
			return prev.Generation, fmt.Errorf("%w: nil encoder spec", ErrInvalidSpec)
		}
		if err := change.Encoder.Validate(); err != nil {
			return prev.Generation, err
		}
		encoders[change.Encoder.Name] = cloneEncoder(change.Encoder)

	case ChangeRemoveCsc:
		if _, ok := csc[change.Name]; !ok {
			return prev.Generation, fmt.Errorf("%w: csc %q", ErrSpecNotFound, change.Name)
		}
		delete(csc, change.Name)

	case ChangeRemoveEncoder:
		if _, ok := encoders[change.Name]; !ok {
			return prev.Generation, fmt.Errorf("%w: encoder %q", ErrSpecNotFound, change.Name)
		}
		delete(encoders, change.Name)

	case ChangeReplace:
		if change.Catalog == nil {
			return prev.Generation, fmt.Errorf("%w: nil catalog", ErrInvalidSpec)
		}
		if err := change.Catalog.Validate(); err != nil {
			return prev.Generation, err
		}
		csc = make(map[string]*CscSpec, len(change.Catalog.Csc))
		for _, s := range change.Catalog.Csc {
			csc[s.Name] = cloneCsc(s)
		}
		encoders = make(map[string]*EncoderSpec, len(change.Catalog.Encoders))
		for _, s := range change.Catalog.Encoders {
			encoders[s.Name] = cloneEncoder(s)
		}

	default:
		return prev.Generation, fmt.Errorf("unknown capability change kind %d", change.Kind)
	}

	next := buildSnapshot(prev.Generation+1, csc, encoders)
	r.current.Store(next)

	change.Generation = next.Generation
	r.logger.Info("capability change applied",
		slog.String("kind", change.Kind.String()),
		slog.Uint64("generation", next.Generation),
		slog.Int("csc_specs", len(csc)),
		slog.Int("encoder_specs", len(encoders)),
	)
	r.notify(change)

	return next.Generation, nil
}

// Subscribe returns a channel receiving applied changes and a cancel func.
// Delivery never blocks the writer: when the buffer is full the notification
// is dropped, but the subscriber still sees the new Generation.
func (r *Registry) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

func (r *Registry) notify(change Change) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for id, ch := range r.subs {
		select {
		case ch <- change:
		default:
			r.logger.Debug("capability subscriber lagging, notification dropped",
				slog.Int("subscriber", id),
				slog.Uint64("generation", change.Generation),
			)
		}
	}
}

// Snapshot is an immutable view of the catalog at one generation.
// Callers must not modify the returned specs.
type Snapshot struct {
	Generation uint64

	csc      map[string]*CscSpec
	encoders map[string]*EncoderSpec

	cscByInput      map[PixelFormat][]*CscSpec
	encByInput      map[PixelFormat][]*EncoderSpec
	fallbackByInput map[PixelFormat][]*EncoderSpec
	formats         map[PixelFormat]struct{}
}

func buildSnapshot(gen uint64, csc map[string]*CscSpec, encoders map[string]*EncoderSpec) *Snapshot {
	if csc == nil {
		csc = map[string]*CscSpec{}
	}
	if encoders == nil {
		encoders = map[string]*EncoderSpec{}
	}
	s := &Snapshot{
		Generation:      gen,
		csc:             csc,
		encoders:        encoders,
		cscByInput:      make(map[PixelFormat][]*CscSpec),
		encByInput:      make(map[PixelFormat][]*EncoderSpec),
		fallbackByInput: make(map[PixelFormat][]*EncoderSpec),
		formats:         make(map[PixelFormat]struct{}),
	}

	for _, spec := range csc {
		for _, f := range spec.InputFormats {
			s.cscByInput[f] = append(s.cscByInput[f], spec)
			s.formats[f] = struct{}{}
		}
		for _, f := range spec.OutputFormats {
			s.formats[f] = struct{}{}
		}
	}
	for _, spec := range encoders {
		for _, f := range spec.InputFormats {
			if spec.Fallback {
				s.fallbackByInput[f] = append(s.fallbackByInput[f], spec)
			} else {
				s.encByInput[f] = append(s.encByInput[f], spec)
			}
			s.formats[f] = struct{}{}
		}
	}

	for _, list := range s.cscByInput {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	for _, list := range s.encByInput {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	for _, list := range s.fallbackByInput {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return s
}

// KnowsFormat reports whether any registered spec consumes or produces the format.
func (s *Snapshot) KnowsFormat(f PixelFormat) bool {
	_, ok := s.formats[f]
	return ok
}

// ListCscSpecs returns the CSC specs accepting the format, sorted by name.
func (s *Snapshot) ListCscSpecs(f PixelFormat) ([]*CscSpec, error) {
	if !s.KnowsFormat(f) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
	return slices.Clone(s.cscByInput[f]), nil
}

// ListEncoderSpecs returns the non-fallback encoders accepting the format,
// sorted by name.
func (s *Snapshot) ListEncoderSpecs(f PixelFormat) ([]*EncoderSpec, error) {
	if !s.KnowsFormat(f) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
	return slices.Clone(s.encByInput[f]), nil
}

// FallbackEncoder returns the first fallback encoder (by name) accepting the format.
func (s *Snapshot) FallbackEncoder(f PixelFormat) (*EncoderSpec, bool) {
	list := s.fallbackByInput[f]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// CscSpecs returns every CSC spec sorted by name.
func (s *Snapshot) CscSpecs() []*CscSpec {
	out := slices.Collect(maps.Values(s.csc))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EncoderSpecs returns every encoder spec (including fallbacks) sorted by name.
func (s *Snapshot) EncoderSpecs() []*EncoderSpec {
	out := slices.Collect(maps.Values(s.encoders))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Formats returns every known pixel format sorted by name.
func (s *Snapshot) Formats() []PixelFormat {
	out := slices.Collect(maps.Keys(s.formats))
	slices.Sort(out)
	return out
}

// HasCsc reports whether a CSC spec with the name is registered.
func (s *Snapshot) HasCsc(name string) bool {
	_, ok := s.csc[name]
	return ok
}

// HasEncoder reports whether an encoder spec with the name is registered.
func (s *Snapshot) HasEncoder(name string) bool {
	_, ok := s.encoders[name]
	return ok
}

func cloneCsc(s *CscSpec) *CscSpec {
	c := *s
	c.InputFormats = slices.Clone(s.InputFormats)
	c.OutputFormats = slices.Clone(s.OutputFormats)
	return &c
}

func cloneEncoder(s *EncoderSpec) *EncoderSpec {
	c := *s
	c.InputFormats = slices.Clone(s.InputFormats)
	return &c
}
