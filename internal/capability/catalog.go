package capability

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is a complete set of capability specs, as reported by the
// capability collaborators or loaded from a catalog file.
type Catalog struct {
	Csc      []*CscSpec     `json:"csc" yaml:"csc"`
	Encoders []*EncoderSpec `json:"encoders" yaml:"encoders"`
}

// Validate checks every spec and rejects duplicate names.
func (c *Catalog) Validate() error {
	var errs []error

	seenCsc := make(map[string]bool, len(c.Csc))
	for i, s := range c.Csc {
		if s == nil {
			errs = append(errs, fmt.Errorf("%w: csc[%d] is empty", ErrInvalidSpec, i))
			continue
		}
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seenCsc[s.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate csc %q", ErrInvalidSpec, s.Name))
		}
		seenCsc[s.Name] = true
	}

	seenEnc := make(map[string]bool, len(c.Encoders))
	for i, s := range c.Encoders {
		if s == nil {
			errs = append(errs, fmt.Errorf("%w: encoders[%d] is empty", ErrInvalidSpec, i))
			continue
		}
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seenEnc[s.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate encoder %q", ErrInvalidSpec, s.Name))
		}
		seenEnc[s.Name] = true
	}

	return errors.Join(errs...)
}

// ParseCatalog decodes a YAML catalog and validates it. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog reads and parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Marshal encodes the catalog as YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultCatalog is the built-in catalog used when no catalog file is
// configured. It mirrors a typical software-only host: a swscale-style
// converter, x264-style and vpx-style encoders, and a raw fallback.
func DefaultCatalog() *Catalog {
	rgb := []PixelFormat{FormatBGRA, FormatBGRX, FormatRGBA, FormatRGBX, FormatXRGB, FormatARGB}
	return &Catalog{
		Csc: []*CscSpec{
			{
				Name:          "swscale",
				InputFormats:  rgb,
				OutputFormats: []PixelFormat{FormatYUV420P, FormatYUV422P, FormatYUV444P, FormatNV12},
				Quality:       100,
				Speed:         60,
				CanScale:      true,
			},
			{
				Name:          "cython",
				InputFormats:  []PixelFormat{FormatBGRA, FormatBGRX, FormatRGBX},
				OutputFormats: []PixelFormat{FormatYUV420P, FormatNV12},
				Quality:       80,
				Speed:         85,
				CanScale:      false,
			},
		},
		Encoders: []*EncoderSpec{
			{
				Name:          "x264",
				Encoding:      "h264",
				InputFormats:  []PixelFormat{FormatYUV420P, FormatYUV422P, FormatYUV444P, FormatBGRX},
				Quality:       60,
				Speed:         60,
				MinDimensions: Dimensions{Width: 16, Height: 16},
				MaxDimensions: Dimensions{Width: 8192, Height: 4096},
			},
			{
				Name:            "vpx-vp9",
				Encoding:        "vp9",
				InputFormats:    []PixelFormat{FormatYUV420P, FormatYUV444P},
				Quality:         70,
				Speed:           30,
				HasLosslessMode: true,
				MinDimensions:   Dimensions{Width: 16, Height: 16},
				MaxDimensions:   Dimensions{Width: 16384, Height: 16384},
			},
			{
				Name:          "nvenc",
				Encoding:      "h264",
				InputFormats:  []PixelFormat{FormatNV12, FormatBGRX},
				Quality:       50,
				Speed:         95,
				MinDimensions: Dimensions{Width: 128, Height: 128},
				MaxDimensions: Dimensions{Width: 4096, Height: 4096},
				// GPU path: lower CPU cost than its raw speed rating suggests.
				CostScoreBoost: 10,
			},
			{
				Name:            "rgb",
				Encoding:        "rgb24",
				InputFormats:    rgb,
				Quality:         100,
				Speed:           10,
				HasLosslessMode: true,
				Fallback:        true,
			},
		},
	}
}
