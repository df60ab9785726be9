// MODUL: dataset
// ZWECK: Aufloesung der Datensatz-Struktur (Splits) und Sammeln der Bild-Samples
// INPUT: Entpacktes Datensatz-Verzeichnis, Split-Name, Limit
// OUTPUT: Sample-Liste (Pfad + Label aus dem Dateinamen)
// NEBENEFFEKTE: Dateisystem-Lesezugriff
// ABHAENGIGKEITEN: golang.org/x/text/unicode/norm, vision (Bild-Endungen)
// HINWEISE: Der Split "evaluate" wird auch unter dem Tippfehler "evalute" gesucht

package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/animus/plateocr/vision"
)

// Split-Namen nach Normalisierung
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
	SplitEvaluate   = "evaluate"
)

// ErrStructure wird von allen Strukturfehlern erfuellt
var ErrStructure = errors.New("dataset structure")

// StructureError beschreibt einen fehlenden Split oder einen Split ohne Bilder
type StructureError struct {
	Split  string
	Reason string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("dataset split %q: %s", e.Split, e.Reason)
}

func (e *StructureError) Is(target error) bool {
	return target == ErrStructure
}

// Sample ist ein Bild mit seinem Label
type Sample struct {
	Path  string
	Label string
}

// Paths gibt die Pfade aller Samples zurueck
func Paths(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Path
	}
	return out
}

// Labels gibt die Labels aller Samples zurueck
func Labels(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.Label
	}
	return out
}

// NormalizeSplit bildet Alias-Namen auf die kanonischen Split-Namen ab.
// Ein leerer Name ergibt "evaluate", unbekannte Namen bleiben (kleingeschrieben) erhalten.
func NormalizeSplit(split string) string {
	v := strings.ToLower(strings.TrimSpace(split))
	switch v {
	case "val", "valid", "validation":
		return SplitValidation
	case "eval", "evalute", "evaluate":
		return SplitEvaluate
	case "":
		return SplitEvaluate
	default:
		return v
	}
}

// splitDirNames sind die Verzeichnisse, an denen eine Datensatz-Wurzel erkannt wird
var splitDirNames = []string{"train", "validation", "test", "evaluate", "evalute"}

// ResolveRoot findet das Verzeichnis mit den Split-Ordnern. Archive mit bis zu
// zwei umschliessenden Ordnern (genau ein Unterordner, keine Dateien) werden
// durchlaufen. Ohne Treffer wird dir selbst zurueckgegeben.
func ResolveRoot(dir string) (string, error) {
	cur := dir
	for range 2 {
		if hasSplitDir(cur) {
			return cur, nil
		}

		entries, err := os.ReadDir(cur)
		if err != nil {
			return "", err
		}

		var dirs []string
		files := 0
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, e.Name())
			} else {
				files++
			}
		}

		if len(dirs) != 1 || files != 0 {
			break
		}
		cur = filepath.Join(cur, dirs[0])
	}

	if hasSplitDir(cur) {
		return cur, nil
	}
	return dir, nil
}

func hasSplitDir(dir string) bool {
	for _, name := range splitDirNames {
		if isDir(filepath.Join(dir, name)) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// SplitDir gibt das Verzeichnis eines Splits zurueck oder einen StructureError
func SplitDir(root, split string) (string, error) {
	normalized := NormalizeSplit(split)
	candidates := []string{normalized}
	if normalized == SplitEvaluate {
		candidates = []string{"evalute", "evaluate"}
	}

	for _, name := range candidates {
		if d := filepath.Join(root, name); isDir(d) {
			return d, nil
		}
	}
	return "", &StructureError{Split: normalized, Reason: "split directory not found"}
}

// Scan sammelt rekursiv bis zu limit Bilder in lexikographischer Reihenfolge
func Scan(dir string, limit int) ([]Sample, error) {
	var out []Sample
	if limit <= 0 {
		return out, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || !vision.IsImagePath(path) {
			return nil
		}

		out = append(out, Sample{Path: path, Label: Label(path)})
		if len(out) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ScanSplit loest den Split auf und verlangt mindestens ein Bild
func ScanSplit(root, split string, limit int) ([]Sample, error) {
	dir, err := SplitDir(root, split)
	if err != nil {
		return nil, err
	}

	samples, err := Scan(dir, limit)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, &StructureError{Split: NormalizeSplit(split), Reason: "no images"}
	}
	return samples, nil
}

// Label ist der Dateiname ohne Endung, getrimmt und in Unicode-NFC
func Label(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return norm.NFC.String(strings.TrimSpace(stem))
}

// ContentType leitet den MIME-Typ aus der Endung ab. Bildendungen, die die
// System-MIME-Tabelle nicht kennt, fallen auf die eigene Tabelle zurueck.
func ContentType(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		return vision.FormatFromPath(path).MimeType()
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
