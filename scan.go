package traitmerge

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// TraitFile is one candidate image of a category.
type TraitFile struct {
	Path    string
	Name    string // base name without extension
	SortKey int
	Attr    Attribute
	HasAttr bool
}

// TraitCategory is one layer slot, named after its directory.
type TraitCategory struct {
	Name  string
	Dir   string
	Files []TraitFile
}

// SortKeyFunc extracts the ordering key from a file base name.
type SortKeyFunc func(name string) int

// AttributeFunc extracts the metadata attribute from a file base name.
type AttributeFunc func(name string) (Attribute, bool)

// DigitsSortKey drops every non-digit rune and parses the rest.
// Names without digits, or whose digits overflow an int, get key 0.
// Files with equal keys keep file-name order, so "bg-blue" sorts before
// "bg-red".
func DigitsSortKey(name string) int {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, name)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// ImagePrefixSortKey removes the literal "image" and parses the remainder,
// so "image12" sorts as 12 and anything else unparsable sorts as 0.
func ImagePrefixSortKey(name string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(name, "image", ""))
	if err != nil {
		return 0
	}
	return n
}

type Scanner struct {
	// Required trait image extension, e.g. ".png". Compared case-sensitively.
	Extension string
	SortKey   SortKeyFunc
	Attribute AttributeFunc
	// Directories never treated as categories (and never descended into),
	// typically the output directory when it lives under the root.
	Skip   []string
	Logger *zap.Logger
}

func NewScanner(opt Options) *Scanner {
	s := &Scanner{
		Extension: opt.Extension,
		SortKey:   opt.SortKey,
		Attribute: SplitAttribute,
		Logger:    opt.logger(),
	}
	if s.Extension == "" {
		s.Extension = ".png"
	}
	if s.SortKey == nil {
		s.SortKey = DigitsSortKey
	}
	if opt.OutputDir != "" {
		s.Skip = append(s.Skip, opt.OutputDir)
	}
	return s
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Scan walks root and returns its trait categories sorted by directory name.
// An unreadable root yields an empty result.
func (s *Scanner) Scan(root string) []TraitCategory {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	root = filepath.Clean(root)
	skip := make(map[string]bool, len(s.Skip))
	for _, p := range s.Skip {
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = true
		}
	}

	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn("scan: unreadable entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		if path == root || !d.IsDir() {
			return nil
		}
		if isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if abs, err := filepath.Abs(path); err == nil && skip[abs] {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		log.Warn("scan: root unreadable, nothing to merge", zap.String("root", root), zap.Error(err))
		return nil
	}

	slices.SortStableFunc(dirs, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})

	var cats []TraitCategory
	for _, dir := range dirs {
		files := s.listTraitFiles(dir, log)
		if len(files) == 0 {
			continue
		}
		cats = append(cats, TraitCategory{
			Name:  filepath.Base(dir),
			Dir:   dir,
			Files: files,
		})
	}
	return cats
}

func (s *Scanner) listTraitFiles(dir string, log *zap.Logger) []TraitFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("scan: category unreadable", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	sortKey := s.SortKey
	if sortKey == nil {
		sortKey = DigitsSortKey
	}
	attr := s.Attribute
	if attr == nil {
		attr = SplitAttribute
	}

	// os.ReadDir returns entries sorted by filename, which the stable sort
	// below keeps as the tie breaker.
	var files []TraitFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || isHidden(name) || filepath.Ext(name) != s.Extension {
			continue
		}
		if !e.Type().IsRegular() && e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		base := strings.TrimSuffix(name, s.Extension)
		tf := TraitFile{
			Path:    filepath.Join(dir, name),
			Name:    base,
			SortKey: sortKey(base),
		}
		tf.Attr, tf.HasAttr = attr(base)
		if !tf.HasAttr {
			log.Debug("scan: no trait attribute in file name", zap.String("file", tf.Path))
		}
		files = append(files, tf)
	}
	slices.SortStableFunc(files, func(a, b TraitFile) int {
		return cmp.Compare(a.SortKey, b.SortKey)
	})
	return files
}

// Scan is a shorthand for NewScanner(opt).Scan(root).
func Scan(root string, opt Options) []TraitCategory {
	return NewScanner(opt).Scan(root)
}
