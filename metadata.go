package traitmerge

import (
	"encoding/json"
	"image"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/setanarut/traitmerge/utils"
	"go.uber.org/zap"
)

// Attribute is one trait_type/value pair of a metadata record.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata is the JSON record written next to each merged image.
type Metadata struct {
	Image           string      `json:"image"`
	ExternalURL     string      `json:"external_url"`
	Description     string      `json:"description"`
	Name            string      `json:"name"`
	Attributes      []Attribute `json:"attributes"`
	BackgroundColor string      `json:"background_color,omitempty"`
}

// Collection carries the fields shared by every record of a run.
type Collection struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	ExternalURL string `yaml:"external_url"`
	// When set, image references become ImageBaseURI + "/" + file name
	// instead of a file:// URL.
	ImageBaseURI string `yaml:"image_base_uri"`
}

func DefaultCollection() Collection {
	return Collection{
		Name:        "RainbowBread",
		Description: "Offical OpenSea RainbowBread collection.",
		ExternalURL: "https://www.exemple.fr",
	}
}

// SplitAttribute splits name on its first '-' into trait type and value.
// Leading separators are ignored and both halves must be non-empty.
func SplitAttribute(name string) (Attribute, bool) {
	typ, val, ok := strings.Cut(strings.TrimLeft(name, "-"), "-")
	if !ok || typ == "" || val == "" {
		return Attribute{}, false
	}
	return Attribute{TraitType: typ, Value: val}, true
}

// Emitter builds metadata records.
type Emitter struct {
	Collection Collection
	// Background color extraction; disabled when PaletteColors is 0.
	PaletteMethod utils.PaletteMethod
	PaletteColors int
	Logger        *zap.Logger
}

func NewEmitter(opt Options) *Emitter {
	e := &Emitter{
		Collection:    opt.Collection,
		PaletteMethod: opt.PaletteMethod,
		Logger:        opt.logger(),
	}
	if opt.BackgroundColor {
		e.PaletteColors = max(opt.PaletteColors, 1)
	}
	return e
}

// Emit builds the record of artifact index. imagePath is where the merged
// image was written; composite may be nil when no background color is needed.
func (e *Emitter) Emit(c Combination, index int, imagePath string, composite image.Image) Metadata {
	md := Metadata{
		Image:       e.imageRef(index, imagePath),
		ExternalURL: e.Collection.ExternalURL,
		Description: e.Collection.Description,
		Name:        e.Collection.Name,
		Attributes:  make([]Attribute, 0, len(c)),
	}
	for _, f := range c {
		if !f.HasAttr {
			nopIfNil(e.Logger).Debug("metadata: attribute skipped", zap.String("file", f.Path), zap.Int("index", index))
			continue
		}
		md.Attributes = append(md.Attributes, f.Attr)
	}
	if e.PaletteColors > 0 && composite != nil {
		if col, ok := utils.DarkestColor(composite, e.PaletteColors, e.PaletteMethod, e.Logger); ok {
			md.BackgroundColor = utils.Hex(col)
		}
	}
	return md
}

func (e *Emitter) imageRef(index int, imagePath string) string {
	if base := strings.TrimRight(e.Collection.ImageBaseURI, "/"); base != "" {
		return base + "/" + ImageName(index)
	}
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		abs = imagePath
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// Marshal renders md as indented JSON with a trailing newline.
func (md Metadata) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
